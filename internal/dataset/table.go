// Package dataset is the in-memory table behind the data API: it filters,
// sorts and pages rows, locates and describes single rows, grows its column
// config as new fields arrive, and runs the auto-add generator.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/internal/query"
	"github.com/pitabwire/tableview/model"
)

var (
	// ErrNotReady is returned while the initial load has not completed.
	ErrNotReady = errors.New("dataset: not ready")
	// ErrRowNotFound is returned when no row has the requested id.
	ErrRowNotFound = errors.New("dataset: row not found")
)

// IDField is the field that identifies a row.
const IDField = "id"

// Options configures a Table.
type Options struct {
	// Columns is the declared column config. When empty, columns are
	// inferred from the rows passed to Load.
	Columns []model.ColumnConfig
	// Locale selects string collation for sorting.
	Locale  language.Tag
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Table is a thread-safe in-memory table. Stored rows are never mutated
// after insertion, so results may share them.
type Table struct {
	mu       sync.RWMutex
	rows     []model.Row
	columns  []model.ColumnConfig
	declared map[string]bool
	matcher  *query.Matcher
	builder  *query.Builder
	maxID    int64

	ready     chan struct{}
	readyOnce sync.Once

	locale  language.Tag
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates an empty Table that is not ready until Load is called.
func New(opts Options) *Table {
	t := &Table{
		columns:  slices.Clone(opts.Columns),
		declared: make(map[string]bool, len(opts.Columns)),
		ready:    make(chan struct{}),
		locale:   opts.Locale,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if t.locale == language.Und {
		t.locale = language.Chinese
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	for _, c := range opts.Columns {
		t.declared[c.Prop] = true
	}
	t.rebuildLocked()
	return t
}

// Load replaces all rows and marks the table ready. Rows without an id are
// numbered after the highest existing id, and fields missing from the column
// config are inferred from the rows.
func (t *Table) Load(rows []model.Row) {
	t.mu.Lock()
	t.maxID = 0
	for _, r := range rows {
		t.trackID(r)
	}
	nextID := func() int64 {
		t.maxID++
		return t.maxID
	}
	raw := make([]model.Row, 0, len(rows))
	t.rows = make([]model.Row, 0, len(rows))
	for _, r := range rows {
		r = withID(r, nextID)
		raw = append(raw, r)
		t.rows = append(t.rows, normalizeRow(r))
	}
	added := t.growColumnsLocked(raw)
	t.refreshOptionsLocked()
	t.rebuildLocked()
	nRows, nCols := len(t.rows), len(t.columns)
	t.mu.Unlock()

	t.readyOnce.Do(func() { close(t.ready) })
	t.recordSize(nRows, nCols)
	t.logger.Info("dataset loaded",
		zap.Int("rows", nRows),
		zap.Int("columns", nCols),
		zap.Int("inferred_columns", len(added)),
	)
}

// Ready reports whether the initial load has completed.
func (t *Table) Ready() bool {
	select {
	case <-t.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the table is ready or ctx is done.
func (t *Table) WaitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNotReady, ctx.Err())
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Columns returns a copy of the column config.
func (t *Table) Columns() model.ColumnsConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return model.ColumnsConfig{Columns: cloneColumns(t.columns)}
}

// Builder returns a request builder typed by the current column config.
func (t *Table) Builder() *query.Builder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.builder
}

// snapshot returns the current rows and matcher. The slice must not be
// modified.
func (t *Table) snapshot() ([]model.Row, *query.Matcher, []model.ColumnConfig, error) {
	if !t.Ready() {
		return nil, nil, nil, ErrNotReady
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[:len(t.rows):len(t.rows)], t.matcher, t.columns, nil
}

func (t *Table) rebuildLocked() {
	t.matcher = query.NewMatcher(t.columns)
	t.builder = query.NewBuilder(t.columns)
}

func (t *Table) recordSize(rows, cols int) {
	if t.metrics != nil {
		t.metrics.SetDatasetSize(rows, cols)
	}
}

func cloneColumns(cols []model.ColumnConfig) []model.ColumnConfig {
	out := make([]model.ColumnConfig, len(cols))
	for i, c := range cols {
		c.Options = slices.Clone(c.Options)
		out[i] = c
	}
	return out
}
