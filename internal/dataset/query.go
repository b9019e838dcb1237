package dataset

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/text/collate"

	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// List returns one page of the rows matching req.Filters in req's order.
// Pages past the end are empty; Total always counts every matching row.
func (t *Table) List(ctx context.Context, req model.ListRequest) (model.ListResult, error) {
	_, span := observability.StartSpan(ctx, "dataset.list", observability.QueryAttributes(req.Pagination, req.Filters)...)
	result, err := t.list(req)
	observability.EndSpan(span, err)
	return result, err
}

func (t *Table) list(req model.ListRequest) (model.ListResult, error) {
	if err := req.Validate(); err != nil {
		return model.ListResult{}, err
	}
	rows, err := t.view(req.Filters, req.Pagination)
	if err != nil {
		return model.ListResult{}, err
	}

	return model.ListResult{
		List:     slices.Clone(pageOf(rows, req.Page, req.PageSize)),
		Total:    len(rows),
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}

// pageOf slices one page out of rows. The bounds are computed from the page
// count so no product of page and size is ever formed past the end.
func pageOf(rows []model.Row, page, size int) []model.Row {
	pages := len(rows) / size
	if len(rows)%size != 0 {
		pages++
	}
	if page-1 >= pages {
		return rows[:0]
	}
	start := (page - 1) * size
	return rows[start : start+min(size, len(rows)-start)]
}

// RowPosition locates a row in the filtered, sorted result set. A missing
// row reports Found=false and Position=-1.
func (t *Table) RowPosition(ctx context.Context, req model.RowPositionRequest) (model.RowPosition, error) {
	_, span := observability.StartSpan(ctx, "dataset.row_position",
		observability.AttrFilterCount.Int(req.Filters.Len()),
	)
	pos, err := t.rowPosition(req)
	observability.EndSpan(span, err)
	return pos, err
}

func (t *Table) rowPosition(req model.RowPositionRequest) (model.RowPosition, error) {
	if req.RowID == nil {
		return model.RowPosition{}, model.NewFieldValidationError("rowId", model.CodeRequired, "rowId is required")
	}
	if !req.SortOrder.Valid() {
		return model.RowPosition{}, model.NewFieldValidationError("sortOrder", model.CodeInvalid,
			"sortOrder must be ascending or descending")
	}
	rows, err := t.view(req.Filters, model.Pagination{SortBy: req.SortBy, SortOrder: req.SortOrder})
	if err != nil {
		return model.RowPosition{}, err
	}

	want := idKey(req.RowID)
	for i, r := range rows {
		if id, ok := r[IDField]; ok && id != nil && idKey(id) == want {
			return model.RowPosition{Found: true, Position: i}, nil
		}
	}
	return model.RowPosition{Found: false, Position: -1}, nil
}

// view returns the matching rows, ordered when p carries a sort. The result
// is a fresh slice over shared rows.
func (t *Table) view(filters model.Filters, p model.Pagination) ([]model.Row, error) {
	rows, matcher, _, err := t.snapshot()
	if err != nil {
		return nil, err
	}

	out := make([]model.Row, 0, len(rows))
	for _, r := range rows {
		if matcher.Match(filters, r) {
			out = append(out, r)
		}
	}
	if p.HasSort() {
		t.sortRows(out, p.SortBy, p.SortOrder == model.SortDescending)
	}
	return out, nil
}

// sortRows orders rows by field. Missing and nil values sort last in both
// directions; numbers compare numerically and strings by locale collation.
func (t *Table) sortRows(rows []model.Row, field string, desc bool) {
	coll := collate.New(t.locale)
	slices.SortStableFunc(rows, func(a, b model.Row) int {
		va, vb := a[field], b[field]
		switch {
		case va == nil && vb == nil:
			return 0
		case va == nil:
			return 1
		case vb == nil:
			return -1
		}
		c := compareValues(coll, va, vb)
		if desc {
			return -c
		}
		return c
	})
}

func compareValues(coll *collate.Collator, a, b any) int {
	if isNumber(a) && isNumber(b) {
		return cmp.Compare(toFloat(a), toFloat(b))
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return cmp.Compare(boolRank(ba), boolRank(bb))
		}
	}
	return coll.CompareString(stringify(a), stringify(b))
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
