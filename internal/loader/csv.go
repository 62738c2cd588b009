// Package loader turns a directory of CSV files into one text row per record.
package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"mentor/internal/apperr"
)

// Row is one surviving record of one source file.
type Row struct {
	SourceFile string
	RowIndex   int
	Columns    []string
	Text       string
}

// SkippedFile records a source file that could not be used at all.
type SkippedFile struct {
	File   string
	Reason string
}

// Result is the outcome of loading a directory.
type Result struct {
	Rows        []Row
	Files       []string
	Skipped     []SkippedFile
	SkippedRows int
}

// Config configures the CSV loader.
type Config struct {
	// Delimiter is the field separator. Defaults to ','.
	Delimiter rune
	// Extension selects files by suffix, case-insensitively. Defaults to ".csv".
	Extension string
}

// CSVLoader reads every matching file in a directory. The first record of
// each file is its header.
type CSVLoader struct {
	delimiter rune
	extension string
	logger    *zap.Logger
}

// NewCSVLoader creates a CSVLoader with the given config.
func NewCSVLoader(cfg Config, logger *zap.Logger) *CSVLoader {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	if cfg.Extension == "" {
		cfg.Extension = ".csv"
	}
	if !strings.HasPrefix(cfg.Extension, ".") {
		cfg.Extension = "." + cfg.Extension
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVLoader{
		delimiter: cfg.Delimiter,
		extension: strings.ToLower(cfg.Extension),
		logger:    logger.With(zap.String("component", "loader")),
	}
}

// LoadDir loads every matching file in dir in lexical order. A file that
// cannot be parsed is skipped and reported; finding no matching file at all
// is a configuration error.
func (l *CSVLoader) LoadDir(ctx context.Context, dir string) (Result, error) {
	files, err := l.findFiles(dir)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, apperr.New(apperr.CodeConfigSourceNotFound,
			fmt.Sprintf("no %s files found in %s", l.extension, dir), apperr.FieldPath(dir))
	}

	var res Result
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		base := filepath.Base(path)
		l.logger.Info("processing source file", zap.String("file", base))

		rows, skippedRows, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipped source file", zap.String("file", base), zap.Error(err))
			res.Skipped = append(res.Skipped, SkippedFile{File: base, Reason: err.Error()})
			continue
		}
		if skippedRows > 0 {
			l.logger.Warn("skipped malformed rows", zap.String("file", base), zap.Int("rows", skippedRows))
		}
		res.Files = append(res.Files, base)
		res.Rows = append(res.Rows, rows...)
		res.SkippedRows += skippedRows
	}
	return res, nil
}

func (l *CSVLoader) findFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfigSourceNotFound,
			fmt.Sprintf("reading source directory %s", dir), apperr.FieldPath(dir))
	}
	var files []string
	for _, e := range entries {
		if strings.EqualFold(filepath.Ext(e.Name()), l.extension) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadFile parses a single file. A file that is not UTF-8 text is rejected
// whole. Records that fail to parse, or carry more cells than the header,
// are counted and skipped.
func (l *CSVLoader) loadFile(path string) ([]Row, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, 0, errors.New("not valid UTF-8 text")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = l.delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, errors.New("no header row")
		}
		return nil, 0, fmt.Errorf("reading header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = strings.TrimSpace(h)
	}

	base := filepath.Base(path)
	var rows []Row
	skipped := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("reading records: %w", err)
		}
		if len(record) > len(columns) {
			skipped++
			continue
		}
		cells := make([]string, len(columns))
		copy(cells, record)
		rows = append(rows, Row{
			SourceFile: base,
			RowIndex:   len(rows),
			Columns:    columns,
			Text:       strings.Join(cells, " "),
		})
	}
	return rows, skipped, nil
}
