package model

import (
	"encoding/json"
	"fmt"
)

// Row is one record of the dataset: an open mapping from field name to a
// scalar value. The field set is declared by the backend's column config.
type Row map[string]any

// ColumnType is the data type of a column.
type ColumnType string

// Column types.
const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnDate    ColumnType = "date"
	ColumnBoolean ColumnType = "boolean"
	ColumnBytes   ColumnType = "bytes"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnString, ColumnNumber, ColumnDate, ColumnBoolean, ColumnBytes:
		return true
	}
	return false
}

// FilterType is the filter widget a column's UI produces, and therefore the
// filter shape the query model accepts for that column.
type FilterType string

// Filter types.
const (
	FilterText        FilterType = "text"
	FilterNumber      FilterType = "number"
	FilterSelect      FilterType = "select"
	FilterMultiSelect FilterType = "multi-select"
	FilterDate        FilterType = "date"
	FilterNone        FilterType = "none"
)

// Valid reports whether t is a known filter type.
func (t FilterType) Valid() bool {
	switch t {
	case FilterText, FilterNumber, FilterSelect, FilterMultiSelect, FilterDate, FilterNone:
		return true
	}
	return false
}

// Fixed pins a column to one side of the table. On the wire it is either
// "left", "right", or a boolean where true means left.
type Fixed string

// Fixed positions.
const (
	FixedNone  Fixed = ""
	FixedLeft  Fixed = "left"
	FixedRight Fixed = "right"
)

// MarshalJSON encodes FixedNone as false and the other positions as strings.
func (f Fixed) MarshalJSON() ([]byte, error) {
	if f == FixedNone {
		return []byte("false"), nil
	}
	return json.Marshal(string(f))
}

// UnmarshalJSON accepts "left", "right", true, false, or null.
func (f *Fixed) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*f = FixedLeft
		} else {
			*f = FixedNone
		}
		return nil
	}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("fixed: expected boolean or string, got %s", data)
	}
	if s == nil {
		*f = FixedNone
		return nil
	}
	switch Fixed(*s) {
	case FixedLeft, FixedRight, FixedNone:
		*f = Fixed(*s)
		return nil
	}
	return fmt.Errorf("fixed: unknown position %q", *s)
}

// ColumnConfig is per-field metadata returned by the backend.
type ColumnConfig struct {
	Prop       string     `json:"prop"`
	Label      string     `json:"label"`
	Type       ColumnType `json:"type"`
	Sortable   *bool      `json:"sortable,omitempty"`
	Filterable *bool      `json:"filterable,omitempty"`
	FilterType FilterType `json:"filterType,omitempty"`
	MinWidth   int        `json:"minWidth,omitempty"`
	Width      int        `json:"width,omitempty"`
	Fixed      Fixed      `json:"fixed,omitempty"`
	Options    []string   `json:"options,omitempty"`
}

// IsSortable reports whether the column may be sorted. Absent means true.
func (c ColumnConfig) IsSortable() bool {
	return c.Sortable == nil || *c.Sortable
}

// IsFilterable reports whether the column may be filtered. Absent means true.
func (c ColumnConfig) IsFilterable() bool {
	return c.Filterable == nil || *c.Filterable
}

// EffectiveFilterType returns the declared filter type, or one derived from
// the column type when the backend left it out.
func (c ColumnConfig) EffectiveFilterType() FilterType {
	if c.FilterType != "" {
		return c.FilterType
	}
	switch c.Type {
	case ColumnNumber:
		return FilterNumber
	case ColumnDate:
		return FilterDate
	case ColumnBoolean:
		return FilterSelect
	case ColumnBytes:
		return FilterNone
	}
	return FilterText
}

// ColumnsConfig is the payload of the columns endpoint.
type ColumnsConfig struct {
	Columns []ColumnConfig `json:"columns"`
}

// Lookup returns the column with the given prop.
func (cc ColumnsConfig) Lookup(prop string) (ColumnConfig, bool) {
	for _, c := range cc.Columns {
		if c.Prop == prop {
			return c, true
		}
	}
	return ColumnConfig{}, false
}

// Bool returns a pointer to b, for optional ColumnConfig flags.
func Bool(b bool) *bool {
	return &b
}

// LegacyColumns returns the column config of the fixed employee schema
// (id, name, email, age, department, salary, status, createTime). Deployments
// that predate backend-declared columns use it as their column config payload.
func LegacyColumns() ColumnsConfig {
	return ColumnsConfig{Columns: []ColumnConfig{
		{Prop: "id", Label: "ID", Type: ColumnNumber, FilterType: FilterNumber, MinWidth: 80, Fixed: FixedLeft},
		{Prop: "name", Label: "Name", Type: ColumnString, FilterType: FilterText, MinWidth: 120},
		{Prop: "email", Label: "Email", Type: ColumnString, FilterType: FilterText, MinWidth: 180},
		{Prop: "age", Label: "Age", Type: ColumnNumber, FilterType: FilterNumber, MinWidth: 80},
		{
			Prop: "department", Label: "Department", Type: ColumnString, FilterType: FilterMultiSelect, MinWidth: 120,
			Options: []string{"技术部", "销售部", "市场部", "人事部", "财务部"},
		},
		{Prop: "salary", Label: "Salary", Type: ColumnNumber, FilterType: FilterNumber, MinWidth: 100},
		{
			Prop: "status", Label: "Status", Type: ColumnString, FilterType: FilterMultiSelect, MinWidth: 100,
			Options: []string{"在职", "离职", "试用期"},
		},
		{Prop: "createTime", Label: "Created", Type: ColumnDate, FilterType: FilterDate, MinWidth: 120},
	}}
}
