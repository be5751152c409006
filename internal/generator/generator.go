// Package generator defines the narrow boundary the executor calls to
// produce report rows. Content generation itself lives outside the engine;
// implementations are registered per kind at startup.
package generator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/reportmill/internal/models"
)

// RowIterator is a lazy, finite stream of report rows.
type RowIterator interface {
	// Columns returns the output column order. Stable for the life of the
	// iterator.
	Columns() []string
	// Next returns the next row, or io.EOF once the stream is exhausted.
	Next() (map[string]any, error)
	Close() error
}

// Generator produces rows for a report kind given fully resolved filters.
type Generator interface {
	Generate(ctx context.Context, kind models.ReportKind, filters models.Filters) (RowIterator, error)
}

// Func adapts an ordinary function to the Generator interface.
type Func func(ctx context.Context, kind models.ReportKind, filters models.Filters) (RowIterator, error)

func (f Func) Generate(ctx context.Context, kind models.ReportKind, filters models.Filters) (RowIterator, error) {
	return f(ctx, kind, filters)
}

// Registry maps report kinds to their generators.
type Registry struct {
	mu         sync.RWMutex
	generators map[models.ReportKind]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[models.ReportKind]Generator)}
}

func (r *Registry) Register(kind models.ReportKind, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[kind] = g
}

func (r *Registry) Lookup(kind models.ReportKind) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[kind]
	if !ok {
		return nil, fmt.Errorf("no generator registered for kind %q", kind)
	}
	return g, nil
}

// SliceIterator serves rows from memory. Used by tests and by generators
// that materialize small result sets.
type SliceIterator struct {
	columns []string
	rows    []map[string]any
	pos     int
}

func NewSliceIterator(columns []string, rows []map[string]any) *SliceIterator {
	return &SliceIterator{columns: columns, rows: rows}
}

func (it *SliceIterator) Columns() []string { return it.columns }

func (it *SliceIterator) Next() (map[string]any, error) {
	if it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *SliceIterator) Close() error { return nil }
