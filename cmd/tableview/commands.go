package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// plainCommand builds a command that takes no arguments or flags.
func (c *cli) plainCommand(use, short string, fn func(ctx context.Context, a *app, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE:  c.action(fn),
	}
}

func (c *cli) healthCommand() *cobra.Command {
	return c.plainCommand("health", "Check the backend and the metadata cache store", cmdHealth)
}

func (c *cli) columnsCommand() *cobra.Command {
	return c.plainCommand("columns", "Print the column config", cmdColumns)
}

func (c *cli) optionsCommand() *cobra.Command {
	return c.plainCommand("options", "Print the filter options", cmdOptions)
}

func (c *cli) refreshCommand() *cobra.Command {
	return c.plainCommand("refresh", "Refetch the cached column config and filter options", cmdRefresh)
}

func (c *cli) statsCommand() *cobra.Command {
	return c.plainCommand("stats", "Print aggregate statistics", cmdStats)
}

// cmdHealth checks the backend and the metadata cache store.
func cmdHealth(ctx context.Context, a *app, _ []string) error {
	checks := map[string]observability.HealthChecker{"backend": a.client}
	if hc, ok := a.store.(observability.HealthChecker); ok {
		checks["cache"] = hc
	}

	report := make(map[string]string, len(checks))
	var failed []error
	for name, hc := range checks {
		if err := hc.HealthCheck(a.call(ctx)); err != nil {
			report[name] = err.Error()
			failed = append(failed, fmt.Errorf("%s: %w", name, err))
			continue
		}
		report[name] = "ok"
	}
	if err := a.print(report); err != nil {
		return err
	}
	return errors.Join(failed...)
}

func cmdColumns(ctx context.Context, a *app, _ []string) error {
	cols, err := a.cache.Columns(a.call(ctx))
	if err != nil {
		return err
	}
	return a.print(cols)
}

func cmdOptions(ctx context.Context, a *app, _ []string) error {
	opts, err := a.cache.FilterOptions(a.call(ctx))
	if err != nil {
		return err
	}
	return a.print(opts)
}

// cmdRefresh replaces both cached entries with fresh copies.
func cmdRefresh(ctx context.Context, a *app, _ []string) error {
	ctx = a.call(ctx)
	if err := a.cache.Refresh(ctx); err != nil {
		return err
	}
	cols, err := a.cache.Columns(ctx)
	if err != nil {
		return err
	}
	return a.print(cols)
}

// queryFlags are the pagination, sort, and filter flags shared by list and
// position.
type queryFlags struct {
	page     int
	pageSize int
	sortBy   string
	order    string
	filters  string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&q.page, "page", 1, "page number, 1-based")
	fs.IntVar(&q.pageSize, "page-size", 20, "rows per page")
	fs.StringVar(&q.sortBy, "sort", "", "field to sort by")
	fs.StringVar(&q.order, "order", "", "ascending or descending")
	fs.StringVar(&q.filters, "filters", "", `filters as a JSON object, e.g. {"department":["技术部"],"ageMin":30}`)
}

func (q queryFlags) pagination() model.Pagination {
	return model.Pagination{
		Page:      q.page,
		PageSize:  q.pageSize,
		SortBy:    q.sortBy,
		SortOrder: model.SortOrder(q.order),
	}
}

func (q queryFlags) parseFilters() (model.Filters, error) {
	var f model.Filters
	if strings.TrimSpace(q.filters) == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(q.filters), &f); err != nil {
		return f, model.NewFieldValidationError("filters", model.CodeInvalid, err.Error())
	}
	return f, nil
}

func (c *cli) listCommand() *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Fetch one page of rows",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			return runList(ctx, a, q)
		}),
	}
	q.register(cmd)
	return cmd
}

// runList validates the query against the cached column config before
// sending it.
func runList(ctx context.Context, a *app, q queryFlags) error {
	filters, err := q.parseFilters()
	if err != nil {
		return err
	}

	ctx = a.call(ctx)
	if _, err := a.cache.Columns(ctx); err != nil {
		a.logger.Warn("column config unavailable, sending unvalidated filters", zap.Error(err))
	}
	req, err := a.cache.Builder(ctx).BuildRequest(q.pagination(), filters)
	if err != nil {
		return err
	}
	res, err := a.client.FetchList(ctx, req)
	if err != nil {
		return err
	}
	return a.print(res)
}

func (c *cli) positionCommand() *cobra.Command {
	var (
		q  queryFlags
		id string
	)
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Locate a row within a query's ordering",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			return runPosition(ctx, a, q, id)
		}),
	}
	q.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "row id")
	return cmd
}

func runPosition(ctx context.Context, a *app, q queryFlags, id string) error {
	filters, err := q.parseFilters()
	if err != nil {
		return err
	}
	if id == "" {
		return model.NewFieldValidationError("id", model.CodeRequired, "--id is required")
	}

	ctx = a.call(ctx)
	if _, err := a.cache.Columns(ctx); err != nil {
		a.logger.Warn("column config unavailable, sending unvalidated filters", zap.Error(err))
	}
	req, err := a.cache.Builder(ctx).BuildRowPosition(parseScalar(id), q.pagination(), filters)
	if err != nil {
		return err
	}
	pos, err := a.client.FetchRowPosition(ctx, req)
	if err != nil {
		return err
	}
	return a.print(pos)
}

func (c *cli) detailCommand() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "detail",
		Short: "Fetch the labeled fields of one row",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			if id == "" {
				return model.NewFieldValidationError("id", model.CodeRequired, "--id is required")
			}
			detail, err := a.client.FetchRowDetail(a.call(ctx), model.Row{"id": parseScalar(id)})
			if err != nil {
				return err
			}
			return a.print(detail)
		}),
	}
	cmd.Flags().StringVar(&id, "id", "", "row id")
	return cmd
}

func (c *cli) addCommand() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append rows to the table",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			return runAdd(ctx, a, data)
		}),
	}
	cmd.Flags().StringVar(&data, "data", "", "a row object or an array of row objects, as JSON")
	return cmd
}

// runAdd appends rows and drops the cached metadata when the column config
// grew.
func runAdd(ctx context.Context, a *app, data string) error {
	rows, err := parseRows(data)
	if err != nil {
		return err
	}

	ctx = a.call(ctx)
	res, err := a.client.AddRows(ctx, rows...)
	if err != nil {
		return err
	}
	if res.ColumnsUpdated {
		if err := a.cache.Invalidate(ctx); err != nil {
			a.logger.Warn("cache invalidation failed", zap.Error(err))
		}
	}
	return a.print(res)
}

func cmdStats(ctx context.Context, a *app, _ []string) error {
	stats, err := a.client.FetchStatistics(a.call(ctx))
	if err != nil {
		return err
	}
	return a.print(stats)
}

func (c *cli) autoAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto-add",
		Short: "Control the backend's row generator",
		Args:  cobra.ArbitraryArgs,
		RunE: c.action(func(_ context.Context, _ *app, args []string) error {
			if len(args) == 0 {
				return model.NewFieldValidationError("action", model.CodeRequired, "auto-add needs an action: start|stop|status")
			}
			return model.NewFieldValidationError("action", model.CodeInvalid, fmt.Sprintf("unknown auto-add action %q", args[0]))
		}),
	}

	var req model.AutoAddRequest
	start := &cobra.Command{
		Use:   "start",
		Short: "Start adding rows periodically",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			ack, err := a.client.StartAutoAdd(a.call(ctx), req)
			if err != nil {
				return err
			}
			return a.print(ack)
		}),
	}
	start.Flags().IntVar(&req.BatchSize, "batch", 0, "rows per batch; 0 uses the default")
	start.Flags().Float64Var(&req.Interval, "interval", 0, "seconds between batches; 0 uses the default")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the row generator",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			ack, err := a.client.StopAutoAdd(a.call(ctx))
			if err != nil {
				return err
			}
			return a.print(ack)
		}),
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether the row generator runs",
		Args:  cobra.NoArgs,
		RunE: c.action(func(ctx context.Context, a *app, _ []string) error {
			st, err := a.client.AutoAddStatus(a.call(ctx))
			if err != nil {
				return err
			}
			return a.print(st)
		}),
	}
	cmd.AddCommand(start, stop, status)
	return cmd
}

// --- helpers ---

// parseScalar reads a JSON scalar, falling back to the raw string.
func parseScalar(s string) any {
	var v any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	switch v.(type) {
	case json.Number, string, bool:
		return v
	}
	return s
}

func parseRows(s string) ([]model.Row, error) {
	raw := bytes.TrimSpace([]byte(s))
	if len(raw) == 0 {
		return nil, model.NewFieldValidationError("data", model.CodeRequired, "--data is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if raw[0] == '{' {
		var row model.Row
		if err := dec.Decode(&row); err != nil {
			return nil, model.NewFieldValidationError("data", model.CodeInvalid, err.Error())
		}
		return []model.Row{row}, nil
	}
	var rows []model.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, model.NewFieldValidationError("data", model.CodeInvalid, "data must be an object or an array of objects")
	}
	return rows, nil
}
