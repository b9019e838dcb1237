package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pitabwire/tableview/model"
)

var errNoData = errors.New("payload carries no data")

// FetchList returns one page of rows. The request is validated before any
// I/O and a half-specified sort is not sent.
func (c *Client) FetchList(ctx context.Context, req model.ListRequest) (model.ListResult, error) {
	if err := req.Validate(); err != nil {
		return model.ListResult{}, err
	}
	if !req.HasSort() {
		req.SortBy, req.SortOrder = "", model.SortNone
	}

	var result model.ListResult
	err := c.call(ctx, epList, req, listLayout, func(inner json.RawMessage) (err error) {
		result, err = decodeInto[model.ListResult](inner, "list", "total")
		if err == nil {
			err = checkListResult(result)
		}
		return err
	})
	if err != nil {
		return model.ListResult{}, err
	}
	if result.List == nil {
		result.List = []model.Row{}
	}
	return result, nil
}

// checkListResult rejects a decoded page that breaks the list contract.
func checkListResult(r model.ListResult) error {
	switch {
	case r.Total < 0:
		return fmt.Errorf("total is negative: %d", r.Total)
	case r.PageSize > 0 && len(r.List) > r.PageSize:
		return fmt.Errorf("page holds %d rows, more than pageSize %d", len(r.List), r.PageSize)
	case len(r.List) > r.Total:
		return fmt.Errorf("page holds %d rows, more than total %d", len(r.List), r.Total)
	}
	return nil
}

// FetchRowPosition locates a row within the filtered, sorted result set.
// Position is meaningless when Found is false.
func (c *Client) FetchRowPosition(ctx context.Context, req model.RowPositionRequest) (model.RowPosition, error) {
	if req.RowID == nil {
		return model.RowPosition{}, model.NewFieldValidationError("rowId", model.CodeRequired, "rowId is required")
	}
	if !req.SortOrder.Valid() {
		return model.RowPosition{}, model.NewFieldValidationError("sortOrder", model.CodeInvalid,
			"sortOrder must be ascending or descending")
	}
	if req.SortBy == "" || req.SortOrder == model.SortNone {
		req.SortBy, req.SortOrder = "", model.SortNone
	}

	var pos model.RowPosition
	err := c.call(ctx, epRowPosition, req, envelopedLayout, func(inner json.RawMessage) (err error) {
		pos, err = decodeInto[model.RowPosition](inner, "found")
		return err
	})
	if err != nil {
		return model.RowPosition{}, err
	}
	return pos, nil
}

// FetchRowDetail returns the display projection of one row.
func (c *Client) FetchRowDetail(ctx context.Context, row model.Row) (model.RowDetail, error) {
	if len(row) == 0 {
		return nil, model.NewFieldValidationError("row", model.CodeRequired, "row is required")
	}

	var detail model.RowDetail
	err := c.call(ctx, epRowDetail, model.RowDetailRequest{Row: row}, envelopedLayout, func(inner json.RawMessage) (err error) {
		detail, err = decodeInto[model.RowDetail](inner)
		if err == nil && detail == nil {
			err = errNoData
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// FetchColumnsConfig returns the backend-declared column config.
func (c *Client) FetchColumnsConfig(ctx context.Context) (model.ColumnsConfig, error) {
	var cfg model.ColumnsConfig
	err := c.call(ctx, epColumns, nil, envelopedLayout, func(inner json.RawMessage) (err error) {
		cfg, err = decodeInto[model.ColumnsConfig](inner, "columns")
		return err
	})
	if err != nil {
		return model.ColumnsConfig{}, err
	}
	return cfg, nil
}

// FetchFilterOptions returns the allowed values per field.
func (c *Client) FetchFilterOptions(ctx context.Context) (model.FilterOptions, error) {
	var opts model.FilterOptions
	err := c.call(ctx, epFilters, nil, optionsLayout, func(inner json.RawMessage) (err error) {
		opts, err = decodeInto[model.FilterOptions](inner)
		if err == nil && opts == nil {
			err = errNoData
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return opts, nil
}

// AddRows appends rows to the backend dataset. A single row is sent as an
// object, several as an array.
func (c *Client) AddRows(ctx context.Context, rows ...model.Row) (model.AddResult, error) {
	if len(rows) == 0 {
		return model.AddResult{}, model.NewFieldValidationError("data", model.CodeRequired, "at least one row is required")
	}
	for _, r := range rows {
		if len(r) == 0 {
			return model.AddResult{}, model.NewFieldValidationError("data", model.CodeInvalid, "rows must not be empty")
		}
	}

	body := model.AddRowsRequest{Data: rows}
	if len(rows) == 1 {
		body.Data = rows[0]
	}
	var result model.AddResult
	err := c.call(ctx, epAdd, body, envelopedLayout, func(inner json.RawMessage) (err error) {
		result, err = decodeInto[model.AddResult](inner, "added_count")
		return err
	})
	if err != nil {
		return model.AddResult{}, err
	}
	return result, nil
}

// StartAutoAdd starts the backend's background row generator. Zero values
// take the defaults; negative or non-finite values are rejected before any
// I/O. A second start is forwarded as-is and the backend's answer governs.
func (c *Client) StartAutoAdd(ctx context.Context, req model.AutoAddRequest) (model.Ack, error) {
	req, err := req.Normalize()
	if err != nil {
		return model.Ack{}, err
	}
	return c.control(ctx, epAutoAddStart, req, startLayout, msgStartOK)
}

// StopAutoAdd stops the backend's background row generator.
func (c *Client) StopAutoAdd(ctx context.Context) (model.Ack, error) {
	return c.control(ctx, epAutoAddStop, nil, stopLayout, msgStopOK)
}

// AutoAddStatus polls the generator state. The client never polls on its own.
func (c *Client) AutoAddStatus(ctx context.Context) (model.AutoAddStatus, error) {
	var status model.AutoAddStatus
	err := c.call(ctx, epAutoAddState, nil, envelopedLayout, func(inner json.RawMessage) (err error) {
		status, err = decodeInto[model.AutoAddStatus](inner, "running")
		return err
	})
	if err != nil {
		return model.AutoAddStatus{}, err
	}
	return status, nil
}

// FetchStatistics returns per-column summary statistics.
func (c *Client) FetchStatistics(ctx context.Context) (model.Statistics, error) {
	var stats model.Statistics
	err := c.call(ctx, epStatistics, nil, envelopedLayout, func(inner json.RawMessage) (err error) {
		stats, err = decodeInto[model.Statistics](inner, "columns", "rows")
		return err
	})
	if err != nil {
		return model.Statistics{}, err
	}
	return stats, nil
}

// control runs a start or stop call. A {success: true} answer without data is
// acknowledged with a localized message. An inner {success: false} becomes a
// SERVER_ERROR carrying the backend's message or the layout's fallback.
func (c *Client) control(ctx context.Context, ep endpoint, body any, l layout, okKey messageKey) (model.Ack, error) {
	locale := model.LocaleFrom(ctx, c.locale)

	var ack model.Ack
	err := c.call(ctx, ep, body, l, func(inner json.RawMessage) (err error) {
		if inner == nil {
			ack = model.Ack{Success: true}
			return nil
		}
		ack, err = decodeInto[model.Ack](inner, "success")
		if err != nil {
			return err
		}
		if !ack.Success {
			msg := ack.Message
			if msg == "" {
				msg = localize(locale, l.rejected)
			}
			return model.NewServerError(http.StatusOK, msg, inner)
		}
		return nil
	})
	if err != nil {
		return model.Ack{}, err
	}
	if ack.Message == "" {
		ack.Message = localize(locale, okKey)
	}
	return ack, nil
}
