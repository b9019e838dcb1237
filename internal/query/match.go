package query

import (
	"strings"

	"github.com/spf13/cast"
	"golang.org/x/text/cases"

	"github.com/pitabwire/tableview/model"
)

// Matcher evaluates a filter set against rows. The column config decides how
// a scalar string is compared: substring for text columns, equality for
// select and date columns.
type Matcher struct {
	columns map[string]model.ColumnConfig
}

// NewMatcher creates a matcher over the given column config.
func NewMatcher(columns []model.ColumnConfig) *Matcher {
	m := &Matcher{columns: make(map[string]model.ColumnConfig, len(columns))}
	for _, c := range columns {
		m.columns[c.Prop] = c
	}
	return m
}

// Match reports whether row satisfies every filter.
func (m *Matcher) Match(filters model.Filters, row model.Row) bool {
	for _, e := range filters.Entries() {
		if !m.MatchValue(e.Field, e.Value, row[e.Field]) {
			return false
		}
	}
	return true
}

// MatchValue evaluates one filter against a field value. Vacuous filters (an
// empty string, an empty set, an empty group) match anything, including a
// missing value.
func (m *Matcher) MatchValue(field string, fv model.FilterValue, value any) bool {
	if vacuous(fv) {
		return true
	}
	if value == nil {
		return false
	}

	switch fv.Kind() {
	case model.FilterKindText:
		s, err := cast.ToStringE(value)
		if err != nil {
			return false
		}
		switch m.filterType(field) {
		case model.FilterSelect, model.FilterMultiSelect, model.FilterDate, model.FilterNumber:
			return s == fv.TextValue()
		}
		return containsFold(s, fv.TextValue())

	case model.FilterKindSet:
		s, err := cast.ToStringE(value)
		if err != nil {
			return false
		}
		for _, allowed := range fv.SetValues() {
			if s == allowed {
				return true
			}
		}
		return false

	case model.FilterKindNumber, model.FilterKindGroup:
		x, err := cast.ToFloat64E(value)
		if err != nil {
			return false
		}
		g, _ := fv.NumericGroup()
		return g.Matches(x)
	}
	return false
}

func (m *Matcher) filterType(field string) model.FilterType {
	if c, ok := m.columns[field]; ok {
		return c.EffectiveFilterType()
	}
	return model.FilterText
}

func vacuous(fv model.FilterValue) bool {
	switch fv.Kind() {
	case model.FilterKindText:
		return fv.TextValue() == ""
	case model.FilterKindSet:
		return len(fv.SetValues()) == 0
	case model.FilterKindGroup:
		return len(fv.GroupValue().Filters) == 0
	}
	return false
}

// containsFold is a case-insensitive substring test using Unicode case folding.
// A Caser is stateful, so one is created per call.
func containsFold(s, substr string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(s), cases.Fold().String(substr))
}
