package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/tableview/internal/client"
	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/metacache"
	"github.com/pitabwire/tableview/model"
)

// TestDataFlow_ViewerSession walks through what a viewer does on mount:
// load metadata through the cache, page, filter, sort, locate, and open a
// row.
func TestDataFlow_ViewerSession(t *testing.T) {
	h := NewTestHarness(t, WithSeedRows(40))
	c := h.Client()
	cache := h.Cache(c, DefaultTableID)
	ctx := t.Context()

	cols, err := cache.Columns(ctx)
	require.NoError(t, err)
	require.Len(t, cols.Columns, len(model.LegacyColumns().Columns))
	assert.True(t, h.Redis.Exists(h.CacheKey(DefaultTableID, metacache.EntryColumns)))

	opts, err := cache.FilterOptions(ctx)
	require.NoError(t, err)
	assert.Len(t, opts["department"], 5)

	builder := cache.Builder(ctx)
	require.True(t, builder.Typed())

	// Page through everything.
	seen := map[any]bool{}
	for page := 1; page <= 4; page++ {
		req, err := builder.BuildRequest(model.Pagination{Page: page, PageSize: 10}, model.Filters{})
		require.NoError(t, err)
		res, err := c.FetchList(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 40, res.Total)
		for _, row := range res.List {
			seen[row["id"]] = true
		}
	}
	assert.Len(t, seen, 40)

	// Filter and sort.
	filters, err := model.NewFilters(
		model.FieldFilter{Field: "department", Value: model.OneOf("技术部", "财务部")},
		model.FieldFilter{Field: "salary", Value: model.Group(model.LogicAnd,
			model.NumberFilter{Operator: model.OpGte, Value: 10000},
		)},
	)
	require.NoError(t, err)
	p := model.Pagination{Page: 1, PageSize: 100, SortBy: "salary", SortOrder: model.SortDescending}
	req, err := builder.BuildRequest(p, filters)
	require.NoError(t, err)
	res, err := c.FetchList(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 16, res.Total)
	for i := 1; i < len(res.List); i++ {
		assert.GreaterOrEqual(t, res.List[i-1]["salary"], res.List[i]["salary"])
	}

	// Locate the last row of the sorted set and open it.
	last := res.List[len(res.List)-1]
	posReq, err := builder.BuildRowPosition(last["id"], p, filters)
	require.NoError(t, err)
	pos, err := c.FetchRowPosition(ctx, posReq)
	require.NoError(t, err)
	assert.Equal(t, model.RowPosition{Found: true, Position: 15}, pos)

	detail, err := c.FetchRowDetail(ctx, last)
	require.NoError(t, err)
	require.Len(t, detail, len(cols.Columns))
	assert.Equal(t, last["name"], detail[1].Value)
}

// TestDataFlow_ColumnGrowthRefreshesCache checks that a cached column config
// is replaced, not merged, after rows add a field.
func TestDataFlow_ColumnGrowthRefreshesCache(t *testing.T) {
	h := NewTestHarness(t, WithSeedRows(5))
	c := h.Client()
	cache := h.Cache(c, DefaultTableID)
	ctx := t.Context()

	_, err := cache.Columns(ctx)
	require.NoError(t, err)

	res, err := c.AddRows(ctx, model.Row{"name": "新员工", "level": 2})
	require.NoError(t, err)
	require.True(t, res.ColumnsUpdated)

	// Still the cached copy until refreshed.
	cached, err := cache.Columns(ctx)
	require.NoError(t, err)
	_, ok := cached.Lookup("level")
	assert.False(t, ok)
	_, err = cache.Builder(ctx).BuildRequest(model.Pagination{Page: 1, PageSize: 5},
		mustFilters(t, model.FieldFilter{Field: "level", Value: model.Number(model.OpEq, 2)}))
	assert.True(t, model.IsKind(err, model.KindValidation))

	require.NoError(t, cache.Refresh(ctx))
	fresh, err := cache.Columns(ctx)
	require.NoError(t, err)
	level, ok := fresh.Lookup("level")
	require.True(t, ok)
	assert.Equal(t, model.ColumnNumber, level.Type)

	req, err := cache.Builder(ctx).BuildRequest(model.Pagination{Page: 1, PageSize: 5},
		mustFilters(t, model.FieldFilter{Field: "level", Value: model.Number(model.OpEq, 2)}))
	require.NoError(t, err)
	list, err := c.FetchList(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

// TestDataFlow_CachePerTable checks that cache entries of two mounted tables
// never mix.
func TestDataFlow_CachePerTable(t *testing.T) {
	h := NewTestHarness(t, WithSeedRows(5))
	ordersID := h.MountTable(config.SchemaOrders, 30)

	employees := h.Cache(h.Client(client.WithInstanceID(DefaultTableID)), DefaultTableID)
	orders := h.Cache(h.Client(client.WithInstanceID(ordersID)), ordersID)
	ctx := t.Context()

	ec, err := employees.Columns(ctx)
	require.NoError(t, err)
	oc, err := orders.Columns(ctx)
	require.NoError(t, err)

	_, ok := ec.Lookup("order_number")
	assert.False(t, ok)
	_, ok = oc.Lookup("order_number")
	assert.True(t, ok)
	payload, ok := oc.Lookup("payload")
	require.True(t, ok)
	assert.Equal(t, model.ColumnBytes, payload.Type)

	assert.True(t, h.Redis.Exists(h.CacheKey(DefaultTableID, metacache.EntryColumns)))
	assert.True(t, h.Redis.Exists(h.CacheKey(ordersID, metacache.EntryColumns)))
}

// TestDataFlow_CacheOutlivesBackendOutage serves cached metadata while the
// table is unmounted and reports the failure once the cache is dropped.
func TestDataFlow_CacheOutlivesBackendOutage(t *testing.T) {
	h := NewTestHarness(t, WithSeedRows(5))
	c := h.Client()
	cache := h.Cache(c, DefaultTableID)
	ctx := t.Context()

	_, err := cache.Columns(ctx)
	require.NoError(t, err)

	resp := h.DELETE("/api/tables/" + DefaultTableID)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	_, err = cache.Columns(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx))
	_, err = cache.Columns(ctx)
	var me *model.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, model.KindServer, me.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, me.Status)
}

// TestDataFlow_AutoAdd starts the generator, watches the table grow, and
// checks the counters that track it.
func TestDataFlow_AutoAdd(t *testing.T) {
	h := NewTestHarness(t, WithSeedRows(10))
	c := h.Client()
	ctx := t.Context()

	ack, err := c.StartAutoAdd(ctx, model.AutoAddRequest{BatchSize: 3, Interval: 0.01})
	require.NoError(t, err)
	assert.Equal(t, dataset.MsgAutoAddStarted, ack.Message)

	require.Eventually(t, func() bool {
		res, err := c.FetchList(ctx, model.ListRequest{Pagination: model.Pagination{Page: 1, PageSize: 1}})
		return err == nil && res.Total >= 19
	}, 3*time.Second, 20*time.Millisecond)

	running, err := h.MetricValue("tableview_auto_add_running")
	require.NoError(t, err)
	assert.Equal(t, float64(1), running)

	_, err = c.StopAutoAdd(ctx)
	require.NoError(t, err)
	status, err := c.AutoAddStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.Running)

	added, err := h.MetricValue("tableview_auto_add_rows_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, added, float64(9))

	// Generated ids keep counting from the seeded rows.
	res, err := c.FetchList(ctx, model.ListRequest{Pagination: model.Pagination{
		Page: 1, PageSize: 1, SortBy: "id", SortOrder: model.SortDescending,
	}})
	require.NoError(t, err)
	assert.EqualValues(t, res.Total, res.List[0]["id"])
}

func mustFilters(t *testing.T, entries ...model.FieldFilter) model.Filters {
	t.Helper()
	f, err := model.NewFilters(entries...)
	require.NoError(t, err)
	return f
}
