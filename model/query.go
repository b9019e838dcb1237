package model

import (
	"fmt"
	"math"
)

// SortOrder is the direction of an explicit ordering.
type SortOrder string

// Sort orders. The empty order means no explicit ordering was requested.
const (
	SortNone       SortOrder = ""
	SortAscending  SortOrder = "ascending"
	SortDescending SortOrder = "descending"
)

// Valid reports whether o is a known order (including SortNone).
func (o SortOrder) Valid() bool {
	switch o {
	case SortNone, SortAscending, SortDescending:
		return true
	}
	return false
}

// Pagination describes which page of the result set to return and how it is
// ordered.
type Pagination struct {
	Page      int       `json:"page"`
	PageSize  int       `json:"pageSize"`
	SortBy    string    `json:"sortBy,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
}

// HasSort reports whether an explicit ordering is requested. An absent field
// and an absent order both mean no ordering.
func (p Pagination) HasSort() bool {
	return p.SortBy != "" && p.SortOrder != SortNone
}

// Validate checks the page bounds and sort order without any I/O.
func (p Pagination) Validate() error {
	var details []FieldError
	if p.Page < 1 {
		details = append(details, FieldError{
			Field: "page", Code: CodeOutOfRange,
			Message: fmt.Sprintf("page must be >= 1, got %d", p.Page),
		})
	}
	if p.PageSize < 1 {
		details = append(details, FieldError{
			Field: "pageSize", Code: CodeOutOfRange,
			Message: fmt.Sprintf("pageSize must be >= 1, got %d", p.PageSize),
		})
	}
	if !p.SortOrder.Valid() {
		details = append(details, FieldError{
			Field: "sortOrder", Code: CodeInvalid,
			Message: fmt.Sprintf("sortOrder must be ascending or descending, got %q", p.SortOrder),
		})
	}
	if len(details) > 0 {
		return NewValidationError(details)
	}
	return nil
}

// ListRequest is the request envelope of the list endpoint.
type ListRequest struct {
	Pagination
	Filters Filters `json:"filters,omitzero"`
}

// Validate checks the pagination of the envelope.
func (r ListRequest) Validate() error {
	return r.Pagination.Validate()
}

// RowPositionRequest asks for a row's index within the filtered, sorted set.
type RowPositionRequest struct {
	RowID     any       `json:"rowId"`
	Filters   Filters   `json:"filters,omitzero"`
	SortBy    string    `json:"sortBy,omitempty"`
	SortOrder SortOrder `json:"sortOrder,omitempty"`
}

// RowDetailRequest asks for the display projection of one row.
type RowDetailRequest struct {
	Row Row `json:"row"`
}

// AddRowsRequest carries one row or many. Data is a Row or a []Row.
type AddRowsRequest struct {
	Data any `json:"data"`
}

// AutoAddRequest configures the background auto-generation process.
type AutoAddRequest struct {
	BatchSize int     `json:"batch_size"`
	Interval  float64 `json:"interval"`
}

// Auto-add defaults and bounds. Intervals are seconds; the bounds keep every
// accepted interval representable as a positive time.Duration.
const (
	DefaultAutoAddBatchSize = 1
	DefaultAutoAddInterval  = 0.5

	MaxAutoAddBatchSize = 10000
	MinAutoAddInterval  = 0.001
	MaxAutoAddInterval  = 86400.0
)

// Normalize applies defaults to zero values and rejects values outside
// [1, MaxAutoAddBatchSize] and [MinAutoAddInterval, MaxAutoAddInterval].
func (r AutoAddRequest) Normalize() (AutoAddRequest, error) {
	var details []FieldError
	switch {
	case r.BatchSize == 0:
		r.BatchSize = DefaultAutoAddBatchSize
	case r.BatchSize < 0 || r.BatchSize > MaxAutoAddBatchSize:
		details = append(details, FieldError{
			Field: "batch_size", Code: CodeOutOfRange,
			Message: fmt.Sprintf("batch_size must be between 1 and %d, got %d", MaxAutoAddBatchSize, r.BatchSize),
		})
	}
	switch {
	case math.IsNaN(r.Interval) || math.IsInf(r.Interval, 0):
		details = append(details, FieldError{
			Field: "interval", Code: CodeInvalid, Message: "interval must be a finite number of seconds",
		})
	case r.Interval == 0:
		r.Interval = DefaultAutoAddInterval
	case r.Interval < MinAutoAddInterval || r.Interval > MaxAutoAddInterval:
		details = append(details, FieldError{
			Field: "interval", Code: CodeOutOfRange,
			Message: fmt.Sprintf("interval must be between %g and %g seconds, got %g",
				MinAutoAddInterval, MaxAutoAddInterval, r.Interval),
		})
	}
	if len(details) > 0 {
		return AutoAddRequest{}, NewValidationError(details)
	}
	return r, nil
}
