package retriever

import (
	"sync/atomic"

	"mentor/internal/apperr"
	"mentor/internal/domain"
)

// ErrNotReady is returned by Gate.Get until the index has been built.
var ErrNotReady = apperr.New(apperr.CodeServiceNotReady, "index is not ready")

// Gate publishes a Retriever once its index is Ready. Readers never observe
// an index that is still being built.
type Gate struct {
	r atomic.Pointer[Retriever]
}

// Open publishes r. Later calls replace it.
func (g *Gate) Open(r *Retriever) {
	g.r.Store(r)
}

func (g *Gate) Get() (domain.Retriever, error) {
	r := g.r.Load()
	if r == nil {
		return nil, ErrNotReady
	}
	return r, nil
}

func (g *Gate) Ready() bool {
	return g.r.Load() != nil
}
