package model

import "encoding/json"

// Envelope is the {success, data} wrapper some backend responses use.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ListResult is the canonical result of the list endpoint. Total counts all
// pages; List holds at most PageSize rows.
type ListResult struct {
	List     []Row `json:"list"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// RowPosition locates a row within the filtered, sorted result set. Position
// is zero-based and meaningless when Found is false.
type RowPosition struct {
	Found    bool `json:"found"`
	Position int  `json:"position"`
}

// RowDetailItem is one display line of a row detail.
type RowDetailItem struct {
	Label  string     `json:"label"`
	Value  any        `json:"value"`
	Detail string     `json:"detail,omitempty"`
	Type   ColumnType `json:"type,omitempty"`
	Format string     `json:"format,omitempty"`
}

// RowDetail is the display-ordered projection of one row.
type RowDetail []RowDetailItem

// FilterOptions maps a field name to its ordered allowed values.
type FilterOptions map[string][]string

// AddResult acknowledges an add-rows call.
type AddResult struct {
	Success        bool     `json:"success"`
	AddedCount     int      `json:"added_count"`
	ColumnsUpdated bool     `json:"columns_updated"`
	AddedColumns   []string `json:"added_columns"`
}

// Ack acknowledges a control call.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// AutoAddStatus reports whether the auto-generation process is running.
type AutoAddStatus struct {
	Running bool `json:"running"`
}

// Statistics summarizes each column of the dataset as display strings.
type Statistics struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}
