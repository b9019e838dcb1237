package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// NumberOperator is a numeric comparison operator.
type NumberOperator string

// Numeric comparison operators.
const (
	OpEq  NumberOperator = "="
	OpGt  NumberOperator = ">"
	OpLt  NumberOperator = "<"
	OpGte NumberOperator = ">="
	OpLte NumberOperator = "<="
)

// Valid reports whether op is one of the five supported operators.
func (op NumberOperator) Valid() bool {
	switch op {
	case OpEq, OpGt, OpLt, OpGte, OpLte:
		return true
	}
	return false
}

// Compare applies op to (x, v). "=" is exact equality with no tolerance.
func (op NumberOperator) Compare(x, v float64) bool {
	switch op {
	case OpEq:
		return x == v
	case OpGt:
		return x > v
	case OpLt:
		return x < v
	case OpGte:
		return x >= v
	case OpLte:
		return x <= v
	}
	return false
}

// NumberFilter is a single numeric comparison against a field value.
type NumberFilter struct {
	Operator NumberOperator `json:"operator"`
	Value    float64        `json:"value"`
}

// Valid reports whether the operator is supported and the value is finite.
func (n NumberFilter) Valid() bool {
	return n.Operator.Valid() && finite(n.Value)
}

// Matches reports whether x satisfies the comparison.
func (n NumberFilter) Matches(x float64) bool {
	return n.Operator.Compare(x, n.Value)
}

// Logic combines the filters of a FilterGroup.
type Logic string

// Group logic values.
const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// FilterGroup composes numeric constraints on one field. An inclusive range is
// expressed as ">=" and "<=" combined with AND.
type FilterGroup struct {
	Filters []NumberFilter `json:"filters"`
	Logic   Logic          `json:"logic,omitempty"`
}

// EffectiveLogic returns the group's logic, defaulting to AND.
func (g FilterGroup) EffectiveLogic() Logic {
	if strings.EqualFold(string(g.Logic), string(LogicOr)) {
		return LogicOr
	}
	return LogicAnd
}

// Matches reports whether x satisfies the group. A group with no filters
// matches every value regardless of logic.
func (g FilterGroup) Matches(x float64) bool {
	if len(g.Filters) == 0 {
		return true
	}
	if g.EffectiveLogic() == LogicOr {
		for _, f := range g.Filters {
			if f.Matches(x) {
				return true
			}
		}
		return false
	}
	for _, f := range g.Filters {
		if !f.Matches(x) {
			return false
		}
	}
	return true
}

// MarshalJSON always encodes Filters as an array so the wire shape stays
// recognizable as a group.
func (g FilterGroup) MarshalJSON() ([]byte, error) {
	type alias FilterGroup
	a := alias(g)
	if a.Filters == nil {
		a.Filters = []NumberFilter{}
	}
	return json.Marshal(a)
}

// RangeGroup builds the canonical inclusive range over [min, max]. A nil
// bound is left open; both nil yields an empty group.
func RangeGroup(min, max *float64) FilterGroup {
	g := FilterGroup{Filters: []NumberFilter{}, Logic: LogicAnd}
	if min != nil {
		g.Filters = append(g.Filters, NumberFilter{Operator: OpGte, Value: *min})
	}
	if max != nil {
		g.Filters = append(g.Filters, NumberFilter{Operator: OpLte, Value: *max})
	}
	return g
}

// FilterKind tags the variant held by a FilterValue.
type FilterKind int

// Filter value variants.
const (
	FilterKindText FilterKind = iota + 1
	FilterKindSet
	FilterKindNumber
	FilterKindGroup
)

func (k FilterKind) String() string {
	switch k {
	case FilterKindText:
		return "text"
	case FilterKindSet:
		return "set"
	case FilterKindNumber:
		return "number"
	case FilterKindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// FilterValue is one node of the filter expression: a scalar string, a set of
// allowed strings, a NumberFilter, or a FilterGroup.
type FilterValue struct {
	kind   FilterKind
	text   string
	set    []string
	number NumberFilter
	group  FilterGroup
}

// Text returns a scalar string filter. Its meaning (substring, equality, or
// single-value membership) follows the column's filter type.
func Text(s string) FilterValue {
	return FilterValue{kind: FilterKindText, text: s}
}

// OneOf returns a set-membership filter. Order is preserved for
// reproducible requests but is irrelevant for matching.
func OneOf(values ...string) FilterValue {
	set := make([]string, len(values))
	copy(set, values)
	return FilterValue{kind: FilterKindSet, set: set}
}

// Number returns a single numeric comparison filter.
func Number(op NumberOperator, v float64) FilterValue {
	return FilterValue{kind: FilterKindNumber, number: NumberFilter{Operator: op, Value: v}}
}

// Group returns a composite numeric filter.
func Group(logic Logic, filters ...NumberFilter) FilterValue {
	fs := make([]NumberFilter, len(filters))
	copy(fs, filters)
	return FilterValue{kind: FilterKindGroup, group: FilterGroup{Filters: fs, Logic: logic}}
}

// Kind returns the variant held by v. The zero FilterValue has kind 0.
func (v FilterValue) Kind() FilterKind { return v.kind }

// TextValue returns the scalar string of a text filter.
func (v FilterValue) TextValue() string { return v.text }

// SetValues returns a copy of the values of a set filter.
func (v FilterValue) SetValues() []string {
	out := make([]string, len(v.set))
	copy(out, v.set)
	return out
}

// NumberValue returns the comparison of a number filter.
func (v FilterValue) NumberValue() NumberFilter { return v.number }

// GroupValue returns the group of a group filter.
func (v FilterValue) GroupValue() FilterGroup { return v.group }

// IsNumeric reports whether v is a NumberFilter or FilterGroup.
func (v FilterValue) IsNumeric() bool {
	return v.kind == FilterKindNumber || v.kind == FilterKindGroup
}

// NumericGroup returns a numeric filter as a group; a single NumberFilter
// becomes a one-element AND group.
func (v FilterValue) NumericGroup() (FilterGroup, bool) {
	switch v.kind {
	case FilterKindNumber:
		return FilterGroup{Filters: []NumberFilter{v.number}, Logic: LogicAnd}, true
	case FilterKindGroup:
		return v.group, true
	}
	return FilterGroup{}, false
}

// MarshalJSON encodes the variant in its wire shape.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case FilterKindText:
		return json.Marshal(v.text)
	case FilterKindSet:
		if v.set == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.set)
	case FilterKindNumber:
		return json.Marshal(v.number)
	case FilterKindGroup:
		return json.Marshal(v.group)
	}
	return nil, fmt.Errorf("filter: cannot encode empty filter value")
}

// wireNumberFilter is the lenient wire form; incomplete conditions decode with
// nil fields so they can be dropped.
type wireNumberFilter struct {
	Operator *string  `json:"operator"`
	Value    *float64 `json:"value"`
}

func (w wireNumberFilter) complete() bool {
	return w.Operator != nil && *w.Operator != "" && w.Value != nil
}

func (w wireNumberFilter) toNumberFilter() NumberFilter {
	return NumberFilter{Operator: NumberOperator(*w.Operator), Value: *w.Value}
}

// UnmarshalJSON resolves the wire shape with an ordered set of predicates:
// string, array of strings, object with "filters", object with
// "operator"/"value". Incomplete numeric conditions are dropped.
func (v *FilterValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("filter: empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case '[':
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		set := make([]string, 0, len(raw))
		for _, item := range raw {
			switch x := item.(type) {
			case string:
				set = append(set, x)
			case float64, bool:
				set = append(set, fmt.Sprint(x))
			default:
				return fmt.Errorf("filter: set members must be scalars, got %T", item)
			}
		}
		*v = OneOf(set...)
		return nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if rawFilters, ok := probe["filters"]; ok {
			var wf []wireNumberFilter
			if !isJSONNull(rawFilters) {
				if err := json.Unmarshal(rawFilters, &wf); err != nil {
					return fmt.Errorf("filter: group filters: %w", err)
				}
			}
			var logic Logic
			if rawLogic, ok := probe["logic"]; ok && !isJSONNull(rawLogic) {
				if err := json.Unmarshal(rawLogic, &logic); err != nil {
					return fmt.Errorf("filter: group logic: %w", err)
				}
			}
			filters := make([]NumberFilter, 0, len(wf))
			for _, f := range wf {
				if f.complete() {
					filters = append(filters, f.toNumberFilter())
				}
			}
			*v = Group(logic, filters...)
			return nil
		}
		_, hasOp := probe["operator"]
		_, hasValue := probe["value"]
		if hasOp || hasValue {
			var wf wireNumberFilter
			if err := json.Unmarshal(data, &wf); err != nil {
				return fmt.Errorf("filter: number filter: %w", err)
			}
			if !wf.complete() {
				// An incomplete condition constrains nothing.
				*v = Group(LogicAnd)
				return nil
			}
			nf := wf.toNumberFilter()
			*v = Number(nf.Operator, nf.Value)
			return nil
		}
	}
	return fmt.Errorf("filter: unrecognized filter shape %s", truncate(data, 64))
}

// FieldFilter binds a filter value to a field.
type FieldFilter struct {
	Field string
	Value FilterValue
}

// Filters is the ordered filter set of a request. A field appears at most once.
type Filters struct {
	entries []FieldFilter
}

// NewFilters builds a filter set, failing with a VALIDATION_ERROR on an empty
// field name, an empty value, or a duplicate field.
func NewFilters(entries ...FieldFilter) (Filters, error) {
	var f Filters
	for _, e := range entries {
		if err := f.Add(e.Field, e.Value); err != nil {
			return Filters{}, err
		}
	}
	return f, nil
}

// Add appends a filter for field. Adding a field twice is an error.
func (f *Filters) Add(field string, v FilterValue) error {
	if field == "" {
		return NewFieldValidationError("filters", CodeRequired, "filter field name must not be empty")
	}
	if v.kind == 0 {
		return NewFieldValidationError("filters."+field, CodeRequired, fmt.Sprintf("filter %q has no value", field))
	}
	if _, ok := f.Get(field); ok {
		return NewFieldValidationError("filters."+field, CodeDuplicate, fmt.Sprintf("filter %q is set more than once", field))
	}
	f.entries = append(f.entries, FieldFilter{Field: field, Value: v})
	return nil
}

// Get returns the filter for field.
func (f Filters) Get(field string) (FilterValue, bool) {
	for _, e := range f.entries {
		if e.Field == field {
			return e.Value, true
		}
	}
	return FilterValue{}, false
}

// Entries returns the filters in insertion order.
func (f Filters) Entries() []FieldFilter {
	out := make([]FieldFilter, len(f.entries))
	copy(out, f.entries)
	return out
}

// Len returns the number of filtered fields.
func (f Filters) Len() int { return len(f.entries) }

// IsZero reports whether the set is empty, so it can be omitted on the wire.
func (f Filters) IsZero() bool { return len(f.entries) == 0 }

// MarshalJSON encodes the set as a JSON object preserving insertion order.
func (f Filters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range f.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Field)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", e.Field, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of filters, preserving key order and
// rejecting duplicate keys. Null members are skipped. Deprecated range sugar
// (a bare number under "ageMin", "salaryMax" and the like) is translated into
// a range group on the base field, unless that field carries its own filter.
func (f *Filters) UnmarshalJSON(data []byte) error {
	*f = Filters{}
	if isJSONNull(bytes.TrimSpace(data)) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("filters: expected object")
	}

	type sugar struct {
		min, max *float64
	}
	var sugarOrder []string
	sugars := map[string]*sugar{}
	seen := map[string]bool{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		if seen[key] {
			return NewFieldValidationError("filters."+key, CodeDuplicate, fmt.Sprintf("filter %q is set more than once", key))
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		trimmed := bytes.TrimSpace(raw)
		if isJSONNull(trimmed) {
			continue
		}

		if base, bound, ok := SplitRangeSugar(key); ok && isJSONNumber(trimmed) {
			var n float64
			if err := json.Unmarshal(trimmed, &n); err != nil {
				return err
			}
			s, exists := sugars[base]
			if !exists {
				s = &sugar{}
				sugars[base] = s
				sugarOrder = append(sugarOrder, base)
			}
			if bound == "Min" {
				s.min = &n
			} else {
				s.max = &n
			}
			continue
		}

		var v FilterValue
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return fmt.Errorf("filters.%s: %w", key, err)
		}
		f.entries = append(f.entries, FieldFilter{Field: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	for _, base := range sugarOrder {
		if _, ok := f.Get(base); ok {
			continue
		}
		s := sugars[base]
		g := RangeGroup(s.min, s.max)
		f.entries = append(f.entries, FieldFilter{Field: base, Value: Group(g.Logic, g.Filters...)})
	}
	return nil
}

// legacyRangeFields are the fixed-schema columns the deprecated Min/Max
// parameters were defined for. Other keys with the suffix are plain fields.
var legacyRangeFields = map[string]bool{"age": true, "salary": true}

// SplitRangeSugar splits a deprecated range key such as "ageMin" into
// ("age", "Min"). ok is false for keys outside the legacy range fields.
func SplitRangeSugar(key string) (base, bound string, ok bool) {
	for _, suffix := range []string{"Min", "Max"} {
		if b, found := strings.CutSuffix(key, suffix); found && legacyRangeFields[b] {
			return b, suffix, true
		}
	}
	return "", "", false
}

func isJSONNull(data []byte) bool {
	return bytes.Equal(data, []byte("null"))
}

func isJSONNumber(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	c := data[0]
	return c == '-' || (c >= '0' && c <= '9')
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

// finite reports whether x is neither NaN nor infinite.
func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
