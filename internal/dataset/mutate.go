package dataset

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// Add appends rows. Rows without an id get the next free integer id. Fields
// not yet in the column config are inferred and reported in AddedColumns.
func (t *Table) Add(ctx context.Context, rows []model.Row) (model.AddResult, error) {
	if len(rows) == 0 {
		return model.AddResult{}, model.NewFieldValidationError("data", model.CodeRequired, "at least one row is required")
	}
	for i, r := range rows {
		if len(r) == 0 {
			return model.AddResult{}, model.NewFieldValidationError(fmt.Sprintf("data[%d]", i), model.CodeInvalid,
				"row must have at least one field")
		}
	}
	return t.add(ctx, len(rows), func(i int, nextID func() int64) model.Row {
		return withID(rows[i], nextID)
	})
}

// withID returns r, or a copy of r carrying a fresh id when it has none.
func withID(r model.Row, nextID func() int64) model.Row {
	if id, ok := r[IDField]; ok && id != nil {
		return r
	}
	out := make(model.Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[IDField] = nextID()
	return out
}

// AddFunc appends n rows built by gen, which receives the id assigned to each
// row. Ids are allocated under the table lock so concurrent adds never
// collide.
func (t *Table) AddFunc(ctx context.Context, n int, gen func(id int64) model.Row) (model.AddResult, error) {
	if n < 1 || n > model.MaxAutoAddBatchSize {
		return model.AddResult{}, model.NewFieldValidationError("batch_size", model.CodeOutOfRange,
			fmt.Sprintf("batch_size must be between 1 and %d", model.MaxAutoAddBatchSize))
	}
	return t.add(ctx, n, func(_ int, nextID func() int64) model.Row {
		return gen(nextID())
	})
}

func (t *Table) add(ctx context.Context, n int, build func(i int, nextID func() int64) model.Row) (model.AddResult, error) {
	if !t.Ready() {
		return model.AddResult{}, ErrNotReady
	}
	_, span := observability.StartSpan(ctx, "dataset.add")
	defer span.End()

	t.mu.Lock()
	nextID := func() int64 {
		t.maxID++
		return t.maxID
	}
	raw := make([]model.Row, 0, n)
	for i := range n {
		r := build(i, nextID)
		t.trackID(r)
		raw = append(raw, r)
	}
	for _, r := range raw {
		t.rows = append(t.rows, normalizeRow(r))
	}
	added := t.growColumnsLocked(raw)
	optionsChanged := t.refreshOptionsLocked()
	if len(added) > 0 || optionsChanged {
		t.rebuildLocked()
	}
	nRows, nCols := len(t.rows), len(t.columns)
	t.mu.Unlock()

	t.recordSize(nRows, nCols)
	if len(added) > 0 {
		observability.RequestLogger(ctx, t.logger).Info("dataset columns added",
			zap.Strings("columns", added))
	}
	return model.AddResult{
		Success:        true,
		AddedCount:     n,
		ColumnsUpdated: len(added) > 0 || optionsChanged,
		AddedColumns:   added,
	}, nil
}

// trackID raises maxID to a numeric id of r. Callers hold the write lock.
func (t *Table) trackID(r model.Row) {
	id, ok := r[IDField]
	if !ok || !isNumber(id) {
		return
	}
	if v := int64(toFloat(id)); v > t.maxID {
		t.maxID = v
	}
}

// growColumnsLocked infers config for fields of raw that have no column yet
// and appends it. It returns the added props, never nil. The column slice is
// replaced rather than modified because snapshots share it.
func (t *Table) growColumnsLocked(raw []model.Row) []string {
	t.columns = slices.Clone(t.columns)
	known := make(map[string]bool, len(t.columns))
	for _, c := range t.columns {
		known[c.Prop] = true
	}
	inferred := inferFields(raw, known)
	added := make([]string, 0, len(inferred))
	for _, c := range inferred {
		t.columns = append(t.columns, c)
		added = append(added, c.Prop)
	}
	return added
}

// refreshOptionsLocked recomputes the options of inferred select columns from
// the stored rows. A column whose distinct values exceed the options limit
// falls back to a text filter. It reports whether any config changed.
func (t *Table) refreshOptionsLocked() bool {
	changed := false
	for i := range t.columns {
		c := &t.columns[i]
		if t.declared[c.Prop] || c.Type == model.ColumnBoolean {
			continue
		}
		if c.FilterType != model.FilterSelect && c.FilterType != model.FilterMultiSelect {
			continue
		}

		options := distinctStrings(columnValues(t.rows, c.Prop))
		if len(options) > maxOptions {
			c.FilterType = model.FilterText
			c.Options = nil
			changed = true
			continue
		}
		if !slices.Equal(c.Options, options) {
			c.Options = options
			changed = true
		}
	}
	return changed
}
