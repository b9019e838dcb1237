// Package query builds and validates data requests: pagination, sort, and the
// filter expression tree. It never performs I/O.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/tableview/model"
)

// Builder constructs request envelopes. When it holds a column config, each
// filter must match its column's filter type; without one, filters pass
// through un-typed so the UI can work before the config has loaded.
type Builder struct {
	columns map[string]model.ColumnConfig
}

// NewBuilder creates a builder over the given column config. A nil or empty
// slice yields a permissive builder.
func NewBuilder(columns []model.ColumnConfig) *Builder {
	b := &Builder{}
	if len(columns) > 0 {
		b.columns = make(map[string]model.ColumnConfig, len(columns))
		for _, c := range columns {
			b.columns[c.Prop] = c
		}
	}
	return b
}

// BuildRequest validates with a permissive builder.
func BuildRequest(p model.Pagination, filters model.Filters) (model.ListRequest, error) {
	return NewBuilder(nil).BuildRequest(p, filters)
}

// Typed reports whether the builder validates against a column config.
func (b *Builder) Typed() bool {
	return b.columns != nil
}

// BuildRequest validates pagination, sort and filters and returns the list
// envelope. A sort field without an order, or an order without a field, is
// dropped: both mean no explicit ordering.
func (b *Builder) BuildRequest(p model.Pagination, filters model.Filters) (model.ListRequest, error) {
	var details []model.FieldError
	details = append(details, fieldErrors(p.Validate())...)
	details = append(details, b.sortErrors(p)...)
	details = append(details, b.filterErrors(filters)...)
	if len(details) > 0 {
		return model.ListRequest{}, model.NewValidationError(details)
	}

	if !p.HasSort() {
		p.SortBy = ""
		p.SortOrder = model.SortNone
	}
	return model.ListRequest{Pagination: p, Filters: filters}, nil
}

// BuildRowPosition validates the filters and sort used to locate rowID.
func (b *Builder) BuildRowPosition(rowID any, p model.Pagination, filters model.Filters) (model.RowPositionRequest, error) {
	var details []model.FieldError
	if rowID == nil {
		details = append(details, model.FieldError{
			Field: "rowId", Code: model.CodeRequired, Message: "rowId is required",
		})
	}
	if !p.SortOrder.Valid() {
		details = append(details, model.FieldError{
			Field: "sortOrder", Code: model.CodeInvalid,
			Message: fmt.Sprintf("sortOrder must be ascending or descending, got %q", p.SortOrder),
		})
	}
	details = append(details, b.sortErrors(p)...)
	details = append(details, b.filterErrors(filters)...)
	if len(details) > 0 {
		return model.RowPositionRequest{}, model.NewValidationError(details)
	}

	req := model.RowPositionRequest{RowID: rowID, Filters: filters}
	if p.HasSort() {
		req.SortBy = p.SortBy
		req.SortOrder = p.SortOrder
	}
	return req, nil
}

// ValidateFilters checks every filter and returns a VALIDATION_ERROR listing
// all problems, or nil.
func (b *Builder) ValidateFilters(filters model.Filters) error {
	if details := b.filterErrors(filters); len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

func (b *Builder) sortErrors(p model.Pagination) []model.FieldError {
	if !b.Typed() || !p.HasSort() {
		return nil
	}
	col, ok := b.columns[p.SortBy]
	if !ok {
		return []model.FieldError{{
			Field: "sortBy", Code: model.CodeUnknown,
			Message: fmt.Sprintf("cannot sort by unknown field %q", p.SortBy),
		}}
	}
	if !col.IsSortable() {
		return []model.FieldError{{
			Field: "sortBy", Code: model.CodeNotAllowed,
			Message: fmt.Sprintf("field %q is not sortable", p.SortBy),
		}}
	}
	return nil
}

func (b *Builder) filterErrors(filters model.Filters) []model.FieldError {
	var details []model.FieldError
	for _, e := range filters.Entries() {
		path := "filters." + e.Field
		if msg := structuralError(e.Value); msg != "" {
			details = append(details, model.FieldError{Field: path, Code: model.CodeInvalid, Message: msg})
			continue
		}
		if !b.Typed() {
			continue
		}
		col, ok := b.columns[e.Field]
		if !ok {
			details = append(details, model.FieldError{
				Field: path, Code: model.CodeUnknown,
				Message: fmt.Sprintf("cannot filter by unknown field %q", e.Field),
			})
			continue
		}
		ft := col.EffectiveFilterType()
		if !col.IsFilterable() || ft == model.FilterNone {
			details = append(details, model.FieldError{
				Field: path, Code: model.CodeNotAllowed,
				Message: fmt.Sprintf("field %q is not filterable", e.Field),
			})
			continue
		}
		if !accepts(ft, e.Value) {
			details = append(details, model.FieldError{
				Field: path, Code: model.CodeTypeMismatch,
				Message: fmt.Sprintf("field %q expects a %s filter, got %s", e.Field, ft, e.Value.Kind()),
			})
		}
	}
	return details
}

// structuralError checks a value independently of any column config.
func structuralError(v model.FilterValue) string {
	g, ok := v.NumericGroup()
	if !ok {
		return ""
	}
	if g.Logic != "" && !strings.EqualFold(string(g.Logic), string(model.LogicAnd)) &&
		!strings.EqualFold(string(g.Logic), string(model.LogicOr)) {
		return fmt.Sprintf("logic must be AND or OR, got %q", g.Logic)
	}
	for i, f := range g.Filters {
		if !f.Operator.Valid() {
			return fmt.Sprintf("condition %d: unsupported operator %q", i, f.Operator)
		}
		if !f.Valid() {
			return fmt.Sprintf("condition %d: value must be a finite number", i)
		}
	}
	return ""
}

// accepts reports whether a filter type admits the value's shape.
func accepts(ft model.FilterType, v model.FilterValue) bool {
	switch ft {
	case model.FilterText, model.FilterDate:
		return v.Kind() == model.FilterKindText
	case model.FilterNumber:
		return v.IsNumeric()
	case model.FilterSelect:
		return v.Kind() == model.FilterKindText ||
			(v.Kind() == model.FilterKindSet && len(v.SetValues()) <= 1)
	case model.FilterMultiSelect:
		return v.Kind() == model.FilterKindText || v.Kind() == model.FilterKindSet
	}
	return false
}

func fieldErrors(err error) []model.FieldError {
	if err == nil {
		return nil
	}
	if e, ok := err.(*model.Error); ok && len(e.Details) > 0 {
		return e.Details
	}
	return []model.FieldError{{Field: "", Code: model.CodeInvalid, Message: err.Error()}}
}

// Range returns the canonical inclusive range filter over [min, max]. A nil
// bound leaves that side open.
func Range(min, max *float64) model.FilterValue {
	g := model.RangeGroup(min, max)
	return model.Group(g.Logic, g.Filters...)
}

// Between is Range with both bounds.
func Between(min, max float64) model.FilterValue {
	return Range(&min, &max)
}

// TranslateLegacy translates deprecated "ageMin"/"salaryMax"-style parameters
// into range groups added to filters. A field that already has a filter keeps
// it and its sugar is discarded. Keys outside the legacy range fields are
// rejected.
func TranslateLegacy(filters model.Filters, sugar map[string]float64) (model.Filters, error) {
	type bounds struct{ min, max *float64 }
	byField := map[string]*bounds{}
	for key, v := range sugar {
		base, bound, ok := model.SplitRangeSugar(key)
		if !ok {
			return model.Filters{}, model.NewFieldValidationError(key, model.CodeInvalid,
				fmt.Sprintf("%q is not a legacy range parameter", key))
		}
		if byField[base] == nil {
			byField[base] = &bounds{}
		}
		if bound == "Min" {
			byField[base].min = &v
		} else {
			byField[base].max = &v
		}
	}

	fields := make([]string, 0, len(byField))
	for f := range byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out, err := model.NewFilters(filters.Entries()...)
	if err != nil {
		return model.Filters{}, err
	}
	for _, f := range fields {
		if _, exists := out.Get(f); exists {
			continue
		}
		bd := byField[f]
		if err := out.Add(f, Range(bd.min, bd.max)); err != nil {
			return model.Filters{}, err
		}
	}
	return out, nil
}
