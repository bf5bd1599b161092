package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/domain/repository"
)

// DefaultChunkSize is the number of rows fetched per batch.
const DefaultChunkSize = 1000

// Scanner walks a source in key order, one bounded batch at a time.
//
// The largest key is captured before the first batch; rows inserted above it
// while the scan runs are left for the next scan. Each batch is its own read,
// and the cursor always advances to the batch's largest key, so the scan
// terminates even while rows are deleted underneath it.
//
//	sc := service.NewScanner(source, service.WithChunkSize(500))
//	for sc.Next(ctx) {
//	    handle(sc.Batch())
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	source    entity.Source
	chunkSize int
	columns   []string
	cursor    int64
	hasCursor bool
	max       int64
	started   bool
	done      bool
	batch     []entity.Row
	err       error
}

// ScanOption configures a Scanner.
type ScanOption func(*Scanner)

// WithChunkSize sets the batch size. Non-positive values keep the default.
func WithChunkSize(n int) ScanOption {
	return func(s *Scanner) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithCursor resumes a scan after the given key.
func WithCursor(after int64) ScanOption {
	return func(s *Scanner) {
		s.cursor = after
		s.hasCursor = true
	}
}

// WithColumns limits the columns read per row. The key column is always read.
func WithColumns(columns ...string) ScanOption {
	return func(s *Scanner) {
		s.columns = columns
	}
}

// NewScanner creates a Scanner over source.
func NewScanner(source entity.Source, options ...ScanOption) *Scanner {
	s := &Scanner{
		source:    source,
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range options {
		opt(s)
	}

	schema := source.Schema()
	if len(s.columns) == 0 {
		s.columns = schema.Columns()
	}
	if key := schema.Key().Column(); !slices.Contains(s.columns, key) {
		s.columns = append([]string{key}, s.columns...)
	}
	return s
}

// Next fetches the next batch. It returns false when the scan is complete
// or has failed; check Err afterwards.
func (s *Scanner) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		return s.fail(err)
	}

	if !s.started {
		s.started = true
		max, ok, err := s.source.MaxKey(ctx)
		if err != nil {
			return s.fail(fmt.Errorf("capture max key: %w", err))
		}
		if !ok || (s.hasCursor && s.cursor >= max) {
			s.done = true
			return false
		}
		s.max = max
	}

	schema := s.source.Schema()
	key := schema.Key().Column()
	options := []repository.Option{
		repository.WithKeyAtMost(key, s.max),
		repository.WithKeyOrder(key),
		repository.WithLimit(s.chunkSize),
	}
	if s.hasCursor {
		options = append(options, repository.WithKeyAfter(key, s.cursor))
	}

	rows, err := s.source.Rows(ctx, s.columns, options...)
	if err != nil {
		return s.fail(fmt.Errorf("read chunk after %d: %w", s.cursor, err))
	}
	if len(rows) == 0 {
		s.batch = nil
		s.done = true
		return false
	}

	last := s.cursor
	for i, row := range rows {
		k, err := schema.KeyOf(row)
		if err != nil {
			return s.fail(err)
		}
		if i == 0 || k > last {
			last = k
		}
	}
	if s.hasCursor && last <= s.cursor {
		return s.fail(fmt.Errorf("chunk did not advance past key %d", s.cursor))
	}

	s.cursor = last
	s.hasCursor = true
	s.batch = rows
	if s.cursor >= s.max {
		s.done = true
	}
	return true
}

func (s *Scanner) fail(err error) bool {
	s.err = err
	s.batch = nil
	s.done = true
	return false
}

// Batch returns the rows fetched by the last successful Next.
func (s *Scanner) Batch() []entity.Row { return s.batch }

// Cursor returns the largest key emitted so far.
func (s *Scanner) Cursor() int64 { return s.cursor }

// Max returns the key boundary captured at the start of the scan.
func (s *Scanner) Max() int64 { return s.max }

// Err returns the error that stopped the scan, if any.
func (s *Scanner) Err() error { return s.err }

// Scan runs fn for every batch of source. Batches handed to fn before a
// failure are not undone.
func Scan(ctx context.Context, source entity.Source, fn func([]entity.Row) error, options ...ScanOption) error {
	sc := NewScanner(source, options...)
	for sc.Next(ctx) {
		if err := fn(sc.Batch()); err != nil {
			return err
		}
	}
	return sc.Err()
}
