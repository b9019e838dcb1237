package dataset

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

func peopleColumns() []model.ColumnConfig {
	return []model.ColumnConfig{
		{Prop: "id", Label: "ID", Type: model.ColumnNumber, FilterType: model.FilterNumber},
		{Prop: "name", Label: "Name", Type: model.ColumnString, FilterType: model.FilterText},
		{Prop: "age", Label: "Age", Type: model.ColumnNumber, FilterType: model.FilterNumber},
		{Prop: "team", Label: "Team", Type: model.ColumnString, FilterType: model.FilterMultiSelect},
	}
}

func newPeopleTable(t *testing.T) *Table {
	t.Helper()
	tbl := New(Options{Columns: peopleColumns()})
	tbl.Load([]model.Row{
		{"id": 1, "name": "carol", "age": 30, "team": "red"},
		{"id": 2, "name": "Bob", "age": nil, "team": "blue"},
		{"id": 3, "name": "alice", "age": 25.5, "team": "red"},
		{"id": 4, "name": "Dave", "age": 41, "team": "green"},
	})
	return tbl
}

func listRequest(t *testing.T, page, size int, sortBy string, order model.SortOrder, entries ...model.FieldFilter) model.ListRequest {
	t.Helper()
	filters, err := model.NewFilters(entries...)
	require.NoError(t, err)
	return model.ListRequest{
		Pagination: model.Pagination{Page: page, PageSize: size, SortBy: sortBy, SortOrder: order},
		Filters:    filters,
	}
}

func ids(rows []model.Row) []any {
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, r[IDField])
	}
	return out
}

func TestTable_notReady(t *testing.T) {
	tbl := New(Options{})
	assert.False(t, tbl.Ready())

	_, err := tbl.List(context.Background(), listRequest(t, 1, 10, "", model.SortNone))
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = tbl.Add(context.Background(), []model.Row{{"name": "x"}})
	assert.ErrorIs(t, err, ErrNotReady)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = tbl.WaitReady(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tbl.Load(nil)
	assert.True(t, tbl.Ready())
	assert.NoError(t, tbl.WaitReady(context.Background()))
}

func TestTable_listPaginates(t *testing.T) {
	gen, err := NewGenerator("employees", 1)
	require.NoError(t, err)
	tbl := New(Options{Columns: gen.Columns()})
	tbl.Load(gen.Rows(25))

	res, err := tbl.List(context.Background(), listRequest(t, 3, 10, "", model.SortNone))
	require.NoError(t, err)
	assert.Equal(t, 25, res.Total)
	assert.Equal(t, 3, res.Page)
	assert.Equal(t, 10, res.PageSize)
	assert.Equal(t, []any{int64(21), int64(22), int64(23), int64(24), int64(25)}, ids(res.List))

	res, err = tbl.List(context.Background(), listRequest(t, 4, 10, "", model.SortNone))
	require.NoError(t, err)
	assert.Equal(t, 25, res.Total)
	assert.NotNil(t, res.List)
	assert.Empty(t, res.List)
}

func TestTable_listPagesNearIntBounds(t *testing.T) {
	tbl := newPeopleTable(t)
	tests := []struct {
		name       string
		page, size int
		want       []any
	}{
		{"huge page size", 1, math.MaxInt, []any{1, 2, 3, 4}},
		{"second page of huge size", 2, math.MaxInt, []any{}},
		{"huge page", math.MaxInt, 2, []any{}},
		{"huge page and size", math.MaxInt, math.MaxInt, []any{}},
		{"last partial page", 2, 3, []any{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tbl.List(context.Background(), listRequest(t, tt.page, tt.size, "", model.SortNone))
			require.NoError(t, err)
			assert.Equal(t, 4, res.Total)
			assert.Equal(t, tt.want, ids(res.List))
		})
	}
}

func TestTable_listRejectsInvalidPage(t *testing.T) {
	tbl := newPeopleTable(t)
	_, err := tbl.List(context.Background(), listRequest(t, 0, 10, "", model.SortNone))
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestTable_listFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter model.FieldFilter
		want   []any
	}{
		{"text is case-insensitive substring", model.FieldFilter{Field: "name", Value: model.Text("A")}, []any{1, 3, 4}},
		{"set is membership", model.FieldFilter{Field: "team", Value: model.OneOf("red")}, []any{1, 3}},
		{"select text is equality", model.FieldFilter{Field: "team", Value: model.Text("re")}, []any{}},
		{"number filter", model.FieldFilter{Field: "age", Value: model.Number(model.OpGt, 30)}, []any{4}},
		{
			"group excludes missing values",
			model.FieldFilter{Field: "age", Value: model.Group(model.LogicAnd,
				model.NumberFilter{Operator: model.OpGte, Value: 26},
				model.NumberFilter{Operator: model.OpLte, Value: 41})},
			[]any{1, 4},
		},
		{"vacuous filter matches all", model.FieldFilter{Field: "age", Value: model.OneOf()}, []any{1, 2, 3, 4}},
		{"unknown field matches nothing", model.FieldFilter{Field: "missing", Value: model.Text("x")}, []any{}},
	}
	tbl := newPeopleTable(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tbl.List(context.Background(), listRequest(t, 1, 10, "", model.SortNone, tt.filter))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.List))
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestTable_listSorts(t *testing.T) {
	tests := []struct {
		name   string
		sortBy string
		order  model.SortOrder
		want   []any
	}{
		{"numbers ascending, nil last", "age", model.SortAscending, []any{3, 1, 4, 2}},
		{"numbers descending, nil last", "age", model.SortDescending, []any{4, 1, 3, 2}},
		{"strings collated", "name", model.SortAscending, []any{3, 2, 1, 4}},
		{"half-specified sort keeps insertion order", "name", model.SortNone, []any{1, 2, 3, 4}},
		{"stable on ties", "team", model.SortAscending, []any{2, 4, 1, 3}},
	}
	tbl := newPeopleTable(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tbl.List(context.Background(), listRequest(t, 1, 10, tt.sortBy, tt.order))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(res.List))
		})
	}
}

func TestTable_RowPosition(t *testing.T) {
	tbl := newPeopleTable(t)
	ctx := context.Background()

	pos, err := tbl.RowPosition(ctx, model.RowPositionRequest{
		RowID: float64(3), SortBy: "age", SortOrder: model.SortDescending,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RowPosition{Found: true, Position: 2}, pos)

	filters, err := model.NewFilters(model.FieldFilter{Field: "team", Value: model.OneOf("red")})
	require.NoError(t, err)
	pos, err = tbl.RowPosition(ctx, model.RowPositionRequest{RowID: 4, Filters: filters})
	require.NoError(t, err)
	assert.Equal(t, model.RowPosition{Found: false, Position: -1}, pos)

	_, err = tbl.RowPosition(ctx, model.RowPositionRequest{})
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestTable_RowDetail(t *testing.T) {
	tbl := newPeopleTable(t)
	ctx := context.Background()

	detail, err := tbl.RowDetail(ctx, model.Row{"id": float64(3), "name": "stale"})
	require.NoError(t, err)
	require.Len(t, detail, 4)
	assert.Equal(t, model.RowDetailItem{Label: "ID", Value: 3, Detail: "ID", Type: model.ColumnNumber, Format: FormatInt}, detail[0])
	assert.Equal(t, "alice", detail[1].Value)
	assert.Empty(t, detail[1].Format)
	assert.Equal(t, 25.5, detail[2].Value)
	assert.Equal(t, FormatFloat, detail[2].Format)

	_, err = tbl.RowDetail(ctx, model.Row{"name": "alice"})
	assert.True(t, model.IsKind(err, model.KindValidation))

	_, err = tbl.RowDetail(ctx, model.Row{"id": 99})
	assert.ErrorIs(t, err, ErrRowNotFound)
}

func TestTable_FilterOptions(t *testing.T) {
	opts, err := newPeopleTable(t).FilterOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.FilterOptions{"team": {"blue", "green", "red"}}, opts)

	gen, err := NewGenerator("employees", 1)
	require.NoError(t, err)
	tbl := New(Options{Columns: gen.Columns()})
	tbl.Load(gen.Rows(3))
	opts, err = tbl.FilterOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"技术部", "销售部", "市场部", "人事部", "财务部"}, opts["department"])
	assert.Equal(t, []string{"在职", "离职", "试用期"}, opts["status"])
}

func TestTable_AddGrowsColumns(t *testing.T) {
	tbl := newPeopleTable(t)
	ctx := context.Background()

	res, err := tbl.Add(ctx, []model.Row{{"name": "erin", "age": 22, "score": 9.5}})
	require.NoError(t, err)
	assert.Equal(t, model.AddResult{Success: true, AddedCount: 1, ColumnsUpdated: true, AddedColumns: []string{"score"}}, res)

	col, ok := tbl.Columns().Lookup("score")
	require.True(t, ok)
	assert.Equal(t, model.ColumnNumber, col.Type)
	assert.True(t, tbl.Builder().Typed())

	detail, err := tbl.RowDetail(ctx, model.Row{"id": 5})
	require.NoError(t, err)
	assert.Equal(t, "erin", detail[1].Value)

	res, err = tbl.Add(ctx, []model.Row{{"id": 10, "name": "frank"}, {"name": "gina"}})
	require.NoError(t, err)
	assert.False(t, res.ColumnsUpdated)
	assert.Empty(t, res.AddedColumns)
	assert.NotNil(t, res.AddedColumns)

	_, err = tbl.RowDetail(ctx, model.Row{"id": 11})
	require.NoError(t, err, "ids continue after the highest explicit id")
	assert.Equal(t, 7, tbl.Len())
}

func TestTable_AddValidates(t *testing.T) {
	tbl := newPeopleTable(t)
	_, err := tbl.Add(context.Background(), nil)
	assert.True(t, model.IsKind(err, model.KindValidation))
	_, err = tbl.Add(context.Background(), []model.Row{{"name": "x"}, {}})
	assert.True(t, model.IsKind(err, model.KindValidation))
	assert.Equal(t, 4, tbl.Len())
}

func TestTable_optionsFallBackToText(t *testing.T) {
	rows := make([]model.Row, 0, 10)
	for i := range 10 {
		rows = append(rows, model.Row{"id": i + 1, "kind": []string{"a", "b"}[i%2]})
	}
	tbl := New(Options{})
	tbl.Load(rows)

	col, _ := tbl.Columns().Lookup("kind")
	require.Equal(t, model.FilterMultiSelect, col.FilterType)
	assert.Equal(t, []string{"a", "b"}, col.Options)

	more := make([]model.Row, 0, 120)
	for i := range 120 {
		more = append(more, model.Row{"kind": "k" + string(rune('A'+i%26)) + string(rune('a'+i/26))})
	}
	res, err := tbl.Add(context.Background(), more)
	require.NoError(t, err)
	assert.True(t, res.ColumnsUpdated)

	col, _ = tbl.Columns().Lookup("kind")
	assert.Equal(t, model.FilterText, col.FilterType)
	assert.Nil(t, col.Options)
}

func TestTable_storesDisplayValues(t *testing.T) {
	tbl := New(Options{})
	tbl.Load([]model.Row{{"id": 1, "payload": []byte{0x0a, 0xff, 0x00}, "ts": 1700000000.25}})

	res, err := tbl.List(context.Background(), listRequest(t, 1, 10, "", model.SortNone))
	require.NoError(t, err)
	require.Len(t, res.List, 1)
	assert.Equal(t, "0A FF 00", res.List[0]["payload"])
	assert.Equal(t, time.Unix(1700000000, 250000000).Format(TimestampLayout), res.List[0]["ts"])

	cols := tbl.Columns()
	payload, _ := cols.Lookup("payload")
	assert.Equal(t, model.ColumnBytes, payload.Type)
	ts, _ := cols.Lookup("ts")
	assert.Equal(t, model.ColumnDate, ts.Type)
}

func TestTable_Statistics(t *testing.T) {
	stats, err := newPeopleTable(t).Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"column", "type", "count", "min", "max", "distinct"}, stats.Columns)
	require.Len(t, stats.Rows, 4)
	assert.Equal(t, map[string]string{
		"column": "age", "type": "number", "count": "3", "min": "25.5", "max": "41", "distinct": "3",
	}, stats.Rows[2])
	assert.Equal(t, "-", stats.Rows[1]["min"])
}

func TestTable_metrics(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	tbl := New(Options{Columns: peopleColumns(), Metrics: m})
	tbl.Load([]model.Row{{"id": 1, "name": "a"}})
	_, err := tbl.Add(context.Background(), []model.Row{{"name": "b"}})
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DatasetRows))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.DatasetColumns))
}

func TestTable_concurrentAddAndList(t *testing.T) {
	tbl := newPeopleTable(t)
	ctx := context.Background()
	req := listRequest(t, 1, 5, "age", model.SortAscending)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := tbl.Add(ctx, []model.Row{{"name": "n", "extra": i}})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := tbl.List(ctx, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 24, tbl.Len())
}
