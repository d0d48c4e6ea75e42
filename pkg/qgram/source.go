package qgram

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is a single dataset entry: a normalized record identifier and the
// q-gram set extracted from its selected attributes.
type Record struct {
	ID    string
	Grams Set
}

// Source is an interface that defines the contract for turning raw dataset
// bytes into a stream of records. This keeps the store and pipeline logic
// independent of the specific file layout.
type Source interface {
	// NewStream returns a stateful Stream for processing an io.Reader.
	NewStream(io.Reader) Stream
	// GramLength returns the q-gram length this source extracts with.
	GramLength() int
}

// Stream is an interface for a stateful reader that yields one record at a
// time. Next returns io.EOF when the underlying data is fully consumed.
type Stream interface {
	Next() (*Record, error)
}

// CSVSource is the default Source implementation. It reads CSV rows,
// takes the record identifier from one column, and extracts q-grams from a
// configurable list of attribute columns. Its behavior can be customized
// with functional options.
type CSVSource struct {
	idColumn    int
	attrColumns []int
	gramLen     int
	hasHeader   bool
}

// CSVOption is a function that configures a CSVSource.
type CSVOption func(*CSVSource)

// WithIDColumn sets the zero-based column holding the record identifier.
// Default: 0
func WithIDColumn(col int) CSVOption {
	return func(s *CSVSource) { s.idColumn = col }
}

// WithAttributeColumns sets the zero-based columns whose values are
// extracted into the record's q-gram set.
// Default: column 1
func WithAttributeColumns(cols ...int) CSVOption {
	return func(s *CSVSource) { s.attrColumns = cols }
}

// WithGramLength sets the q-gram length.
// Default: 2 (bigrams)
func WithGramLength(q int) CSVOption {
	return func(s *CSVSource) { s.gramLen = q }
}

// WithHeader specifies whether the first row is a header to be skipped.
// Default: true
func WithHeader(has bool) CSVOption {
	return func(s *CSVSource) { s.hasHeader = has }
}

// NewCSVSource creates a CSVSource with default settings, which can be
// overridden by providing one or more CSVOption functions.
func NewCSVSource(opts ...CSVOption) *CSVSource {
	s := &CSVSource{
		idColumn:    0,
		attrColumns: []int{1},
		gramLen:     2,
		hasHeader:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GramLength returns the configured q-gram length.
func (s *CSVSource) GramLength() int {
	return s.gramLen
}

// NewStream returns the stream processor for a single CSV document.
func (s *CSVSource) NewStream(r io.Reader) Stream {
	cr := csv.NewReader(r)
	// Rows in the anonymised datasets are not guaranteed to be rectangular.
	cr.FieldsPerRecord = -1
	return &csvStream{
		reader:     cr,
		source:     s,
		skipHeader: s.hasHeader,
	}
}

// csvStream is the stateful reader behind CSVSource.NewStream.
type csvStream struct {
	reader     *csv.Reader
	source     *CSVSource
	skipHeader bool
}

// Next returns the next record from the stream. It returns a Record and a
// nil error on success. When the stream is exhausted it returns a nil
// Record and io.EOF. Any other error indicates a malformed row or a
// problem reading from the underlying stream.
func (s *csvStream) Next() (*Record, error) {
	if s.skipHeader {
		s.skipHeader = false
		if _, err := s.reader.Read(); err != nil {
			return nil, err
		}
	}

	row, err := s.reader.Read()
	if err != nil {
		return nil, err
	}

	if s.source.idColumn >= len(row) {
		return nil, fmt.Errorf("record id column %d out of range for row with %d fields", s.source.idColumn, len(row))
	}

	rec := &Record{
		ID:    NormalizeID(row[s.source.idColumn]),
		Grams: make(Set),
	}
	for _, col := range s.source.attrColumns {
		if col >= len(row) {
			return nil, fmt.Errorf("attribute column %d out of range for row with %d fields", col, len(row))
		}
		ExtractInto(rec.Grams, row[col], s.source.gramLen)
	}
	return rec, nil
}

// Records drains a stream into memory, returning every record it yields.
func Records(s Stream) ([]*Record, error) {
	var recs []*Record
	for {
		rec, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return recs, nil
			}
			return nil, err
		}
		recs = append(recs, rec)
	}
}

// gzipReadCloser closes both the gzip reader and the underlying file.
type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

// OpenFile opens a dataset file for reading, transparently decompressing
// files with a ".gz" suffix. The caller owns the returned ReadCloser.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to open gzip stream for %s: %w", path, err)
	}
	return &gzipReadCloser{Reader: gz, file: f}, nil
}
