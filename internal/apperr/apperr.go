// Package apperr defines the coded error taxonomy shared by the indexing,
// retrieval and serving layers. Codes follow the "<area>.<op>.<reason>"
// convention; predicates match on the reason or the full code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigSourceNotFound       Code = "config.source.not_found"
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeEmbeddingBackendUnavailable Code = "embedding.backend.unavailable"
	CodeEmbeddingRequestInvalid     Code = "embedding.request.invalid"

	CodeIndexLoadCorrupt     Code = "index.load.corrupt"
	CodeIndexAddDuplicateID  Code = "index.add.duplicate_id"
	CodeIndexInputInvalid    Code = "index.input.invalid"
	CodeIndexPersistFailure  Code = "index.persist.failure"
	CodeIndexBuildTransition Code = "index.build.transition.invalid"

	CodeRetrievalFailure Code = "retrieval.failure"

	CodeGenerationUpstreamFailure Code = "generation.upstream.failure"

	CodeServiceNotReady Code = "service.not_ready"
	CodeRequestInvalid  Code = "request.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldPath(value string) Attr {
	return Field("path", value)
}

func FieldDocumentID(value string) Attr {
	return Field("document_id", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// Recode wraps err under code. Codes carried by err are hidden, so CodeOf
// reports code, while errors.Is and errors.As still reach the causes.
func Recode(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(cause{err: err}, "%s", msg)
}

// cause stops oops from looking through to the coded errors it holds.
type cause struct {
	err error
}

func (c cause) Error() string { return c.err.Error() }

func (c cause) Is(target error) bool { return errors.Is(c.err, target) }

func (c cause) As(target any) bool {
	if _, ok := target.(*oops.OopsError); ok {
		return false
	}
	return errors.As(c.err, target)
}

// CodeOf returns the code of the deepest coded error in the chain, or "" if
// err carries no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsConfiguration reports a startup configuration problem, including an
// empty source directory.
func IsConfiguration(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "config.")
}

func IsBackendUnavailable(err error) bool {
	return HasCode(err, CodeEmbeddingBackendUnavailable)
}

func IsCorruptIndex(err error) bool {
	return HasCode(err, CodeIndexLoadCorrupt)
}

func IsDuplicateID(err error) bool {
	return HasCode(err, CodeIndexAddDuplicateID)
}

func IsRetrieval(err error) bool {
	return HasCode(err, CodeRetrievalFailure)
}

func IsNotReady(err error) bool {
	return HasCode(err, CodeServiceNotReady)
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_value"
}

// HTTPStatus maps an error to the status code the server responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotReady(err):
		return http.StatusServiceUnavailable
	case IsInvalidInput(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
