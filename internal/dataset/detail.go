package dataset

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// Number formats reported in row details.
const (
	FormatInt   = "int"
	FormatFloat = "float"
)

// statisticsColumns is the header of the statistics table.
var statisticsColumns = []string{"column", "type", "count", "min", "max", "distinct"}

const noStatistic = "-"

// RowDetail describes the stored row with the same id as row: one item per
// configured column present in it, in column order.
func (t *Table) RowDetail(ctx context.Context, row model.Row) (model.RowDetail, error) {
	_, span := observability.StartSpan(ctx, "dataset.row_detail")
	detail, err := t.rowDetail(row)
	observability.EndSpan(span, err)
	return detail, err
}

func (t *Table) rowDetail(row model.Row) (model.RowDetail, error) {
	id := row[IDField]
	if id == nil {
		return nil, model.NewFieldValidationError("row.id", model.CodeRequired, "row must carry an id")
	}
	rows, _, columns, err := t.snapshot()
	if err != nil {
		return nil, err
	}

	want := idKey(id)
	var stored model.Row
	for _, r := range rows {
		if v := r[IDField]; v != nil && idKey(v) == want {
			stored = r
			break
		}
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: id %v", ErrRowNotFound, id)
	}

	detail := make(model.RowDetail, 0, len(columns))
	for _, c := range columns {
		v, ok := stored[c.Prop]
		if !ok {
			continue
		}
		item := model.RowDetailItem{Label: c.Label, Value: v, Detail: c.Label, Type: c.Type}
		if c.Type == model.ColumnNumber {
			item.Format = numberFormat(rows, c.Prop)
		}
		detail = append(detail, item)
	}
	return detail, nil
}

// numberFormat reports int when every value of prop is integral.
func numberFormat(rows []model.Row, prop string) string {
	for _, r := range rows {
		if v := r[prop]; v != nil && !isIntegral(v) {
			return FormatFloat
		}
	}
	return FormatInt
}

// FilterOptions returns the allowed values of every filterable select
// column: its declared options, or the sorted distinct values in the table.
func (t *Table) FilterOptions(ctx context.Context) (model.FilterOptions, error) {
	_, span := observability.StartSpan(ctx, "dataset.filter_options")
	defer span.End()

	rows, _, columns, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(model.FilterOptions)
	for _, c := range columns {
		if !c.IsFilterable() {
			continue
		}
		switch c.EffectiveFilterType() {
		case model.FilterSelect, model.FilterMultiSelect:
		default:
			continue
		}
		if len(c.Options) > 0 {
			out[c.Prop] = append([]string(nil), c.Options...)
			continue
		}
		out[c.Prop] = distinctStrings(columnValues(rows, c.Prop))
	}
	return out, nil
}

// Statistics summarizes every column: non-null count, distinct count, and
// the minimum and maximum of number and date columns.
func (t *Table) Statistics(ctx context.Context) (model.Statistics, error) {
	_, span := observability.StartSpan(ctx, "dataset.statistics")
	defer span.End()

	rows, _, columns, err := t.snapshot()
	if err != nil {
		return model.Statistics{}, err
	}
	stats := model.Statistics{
		Columns: append([]string(nil), statisticsColumns...),
		Rows:    make([]map[string]string, 0, len(columns)),
	}
	for _, c := range columns {
		values := columnValues(rows, c.Prop)
		lo, hi := columnRange(c.Type, values)
		stats.Rows = append(stats.Rows, map[string]string{
			"column":   c.Prop,
			"type":     string(c.Type),
			"count":    strconv.Itoa(len(values)),
			"min":      lo,
			"max":      hi,
			"distinct": strconv.Itoa(len(distinctStrings(values))),
		})
	}
	return stats, nil
}

func columnValues(rows []model.Row, prop string) []any {
	values := make([]any, 0, len(rows))
	for _, r := range rows {
		if v := r[prop]; v != nil {
			values = append(values, v)
		}
	}
	return values
}

func columnRange(typ model.ColumnType, values []any) (string, string) {
	switch typ {
	case model.ColumnNumber:
		var lo, hi float64
		n := 0
		for _, v := range values {
			if !isNumber(v) {
				continue
			}
			x := toFloat(v)
			if n == 0 || x < lo {
				lo = x
			}
			if n == 0 || x > hi {
				hi = x
			}
			n++
		}
		if n > 0 {
			return stringify(lo), stringify(hi)
		}
	case model.ColumnDate:
		var lo, hi string
		for i, v := range values {
			s := stringify(v)
			if i == 0 || s < lo {
				lo = s
			}
			if i == 0 || s > hi {
				hi = s
			}
		}
		if len(values) > 0 {
			return lo, hi
		}
	}
	return noStatistic, noStatistic
}
