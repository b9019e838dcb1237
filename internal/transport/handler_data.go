package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 10 << 20

// handleList waits for the initial load, then serves a bare ListResult.
func handleList(w http.ResponseWriter, r *http.Request) {
	inst := InstanceFrom(r.Context())

	var body model.ListRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteInvalidBody(w, err)
		return
	}
	if err := inst.Table.WaitReady(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	req, err := inst.Table.Builder().BuildRequest(body.Pagination, body.Filters)
	if err != nil {
		WriteError(w, err)
		return
	}
	res, err := inst.Table.List(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func handleRowPosition(w http.ResponseWriter, r *http.Request) {
	inst := InstanceFrom(r.Context())

	var body model.RowPositionRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteInvalidBody(w, err)
		return
	}
	p := model.Pagination{Page: 1, PageSize: 1, SortBy: body.SortBy, SortOrder: body.SortOrder}
	req, err := inst.Table.Builder().BuildRowPosition(body.RowID, p, body.Filters)
	if err != nil {
		WriteError(w, err)
		return
	}
	pos, err := inst.Table.RowPosition(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, pos)
}

func handleRowDetail(w http.ResponseWriter, r *http.Request) {
	inst := InstanceFrom(r.Context())

	var body model.RowDetailRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteInvalidBody(w, err)
		return
	}
	if len(body.Row) == 0 {
		WriteError(w, model.NewFieldValidationError("row", model.CodeRequired, "row is required"))
		return
	}
	detail, err := inst.Table.RowDetail(r.Context(), body.Row)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, detail)
}

func handleColumns(w http.ResponseWriter, r *http.Request) {
	inst := InstanceFrom(r.Context())
	if !inst.Table.Ready() {
		WriteError(w, dataset.ErrNotReady)
		return
	}
	WriteData(w, inst.Table.Columns())
}

func handleFilterOptions(w http.ResponseWriter, r *http.Request) {
	opts, err := InstanceFrom(r.Context()).Table.FilterOptions(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, opts)
}

// handleAdd accepts {data: Row} or {data: [Row, ...]}.
func handleAdd(w http.ResponseWriter, r *http.Request) {
	inst := InstanceFrom(r.Context())

	var body struct {
		Data json.RawMessage `json:"data"`
	}
	if err := decodeJSON(r, &body); err != nil {
		WriteInvalidBody(w, err)
		return
	}
	rows, err := decodeRows(body.Data)
	if err != nil {
		WriteError(w, err)
		return
	}
	res, err := inst.Table.Add(r.Context(), rows)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, res)
}

func handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := InstanceFrom(r.Context()).Table.Statistics(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, stats)
}

// --- helpers ---

// decodeJSON decodes a bounded request body into v. An empty body leaves v
// zero.
func decodeJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(raw) > maxBodyBytes {
		return fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// decodeRows reads one row object or an array of row objects.
func decodeRows(raw json.RawMessage) ([]model.Row, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, model.NewFieldValidationError("data", model.CodeRequired, "data is required")
	}
	dec := func(v any) error {
		d := json.NewDecoder(bytes.NewReader(raw))
		d.UseNumber()
		return d.Decode(v)
	}

	switch raw[0] {
	case '{':
		var row model.Row
		if err := dec(&row); err != nil {
			return nil, model.NewFieldValidationError("data", model.CodeInvalid, err.Error())
		}
		return []model.Row{row}, nil
	case '[':
		var rows []model.Row
		if err := dec(&rows); err != nil {
			return nil, model.NewFieldValidationError("data", model.CodeInvalid,
				"data must be an object or an array of objects")
		}
		return rows, nil
	}
	return nil, model.NewFieldValidationError("data", model.CodeInvalid, "data must be an object or an array of objects")
}
