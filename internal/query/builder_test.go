package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/tableview/model"
)

func legacyBuilder() *Builder {
	return NewBuilder(model.LegacyColumns().Columns)
}

func mustFilters(t *testing.T, entries ...model.FieldFilter) model.Filters {
	t.Helper()
	f, err := model.NewFilters(entries...)
	require.NoError(t, err)
	return f
}

func detailCodes(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	var e *model.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, model.KindValidation, e.Kind)
	out := map[string]string{}
	for _, d := range e.Details {
		out[d.Field] = d.Code
	}
	return out
}

func TestBuildRequest_permissive(t *testing.T) {
	filters := mustFilters(t,
		model.FieldFilter{Field: "anything", Value: model.Text("x")},
		model.FieldFilter{Field: "age", Value: Between(18, 65)},
	)
	req, err := BuildRequest(model.Pagination{Page: 2, PageSize: 50}, filters)
	require.NoError(t, err)
	assert.Equal(t, 2, req.Page)
	assert.Equal(t, 50, req.PageSize)
	assert.Equal(t, 2, req.Filters.Len())
}

func TestBuildRequest_rejectsBadPagination(t *testing.T) {
	_, err := BuildRequest(model.Pagination{Page: 0, PageSize: 0}, model.Filters{})
	codes := detailCodes(t, err)
	assert.Contains(t, codes, "page")
	assert.Contains(t, codes, "pageSize")
}

func TestBuildRequest_dropsHalfSpecifiedSort(t *testing.T) {
	req, err := BuildRequest(model.Pagination{Page: 1, PageSize: 10, SortBy: "age"}, model.Filters{})
	require.NoError(t, err)
	assert.Empty(t, req.SortBy)
	assert.Empty(t, req.SortOrder)

	req, err = BuildRequest(model.Pagination{Page: 1, PageSize: 10, SortOrder: model.SortDescending}, model.Filters{})
	require.NoError(t, err)
	assert.Empty(t, req.SortBy)
	assert.Empty(t, req.SortOrder)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"page":1,"pageSize":10}`, string(data))
}

func TestBuildRequest_keepsFullSort(t *testing.T) {
	req, err := legacyBuilder().BuildRequest(
		model.Pagination{Page: 1, PageSize: 10, SortBy: "salary", SortOrder: model.SortAscending},
		model.Filters{})
	require.NoError(t, err)
	assert.Equal(t, "salary", req.SortBy)
	assert.Equal(t, model.SortAscending, req.SortOrder)
}

func TestBuildRequest_unknownSortField(t *testing.T) {
	_, err := legacyBuilder().BuildRequest(
		model.Pagination{Page: 1, PageSize: 10, SortBy: "nope", SortOrder: model.SortAscending},
		model.Filters{})
	assert.Equal(t, model.CodeUnknown, detailCodes(t, err)["sortBy"])
}

func TestBuildRequest_notSortable(t *testing.T) {
	b := NewBuilder([]model.ColumnConfig{{Prop: "blob", Type: model.ColumnBytes, Sortable: model.Bool(false)}})
	_, err := b.BuildRequest(
		model.Pagination{Page: 1, PageSize: 10, SortBy: "blob", SortOrder: model.SortAscending},
		model.Filters{})
	assert.Equal(t, model.CodeNotAllowed, detailCodes(t, err)["sortBy"])
}

func TestBuildRequest_typedFilterValidation(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value model.FilterValue
		code  string
	}{
		{"unknown field", "nope", model.Text("x"), model.CodeUnknown},
		{"text on number", "age", model.Text("30"), model.CodeTypeMismatch},
		{"number on text", "name", model.Number(model.OpGt, 3), model.CodeTypeMismatch},
		{"set on text", "email", model.OneOf("a"), model.CodeTypeMismatch},
		{"group on date", "createTime", Between(1, 2), model.CodeTypeMismatch},
		{"bad operator", "age", model.Number("!=", 3), model.CodeInvalid},
		{"bad group logic", "age", model.Group("XOR", model.NumberFilter{Operator: model.OpGt, Value: 1}), model.CodeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters := mustFilters(t, model.FieldFilter{Field: tt.field, Value: tt.value})
			_, err := legacyBuilder().BuildRequest(model.Pagination{Page: 1, PageSize: 10}, filters)
			assert.Equal(t, tt.code, detailCodes(t, err)["filters."+tt.field])
		})
	}
}

func TestBuildRequest_typedFiltersAccepted(t *testing.T) {
	filters := mustFilters(t,
		model.FieldFilter{Field: "name", Value: model.Text("ali")},
		model.FieldFilter{Field: "department", Value: model.OneOf("技术部", "销售部")},
		model.FieldFilter{Field: "status", Value: model.Text("在职")},
		model.FieldFilter{Field: "age", Value: Between(18, 65)},
		model.FieldFilter{Field: "salary", Value: model.Number(model.OpGt, 10000)},
		model.FieldFilter{Field: "createTime", Value: model.Text("2024-01-01")},
	)
	_, err := legacyBuilder().BuildRequest(model.Pagination{Page: 1, PageSize: 10}, filters)
	assert.NoError(t, err)
}

func TestBuildRequest_notFilterable(t *testing.T) {
	b := NewBuilder([]model.ColumnConfig{
		{Prop: "blob", Type: model.ColumnBytes},
		{Prop: "note", Type: model.ColumnString, Filterable: model.Bool(false)},
	})
	filters := mustFilters(t,
		model.FieldFilter{Field: "blob", Value: model.Text("x")},
		model.FieldFilter{Field: "note", Value: model.Text("x")},
	)
	_, err := b.BuildRequest(model.Pagination{Page: 1, PageSize: 10}, filters)
	codes := detailCodes(t, err)
	assert.Equal(t, model.CodeNotAllowed, codes["filters.blob"])
	assert.Equal(t, model.CodeNotAllowed, codes["filters.note"])
}

func TestBuildRequest_permissiveStillChecksOperators(t *testing.T) {
	filters := mustFilters(t, model.FieldFilter{Field: "age", Value: model.Number("~", 1)})
	_, err := BuildRequest(model.Pagination{Page: 1, PageSize: 10}, filters)
	assert.Equal(t, model.CodeInvalid, detailCodes(t, err)["filters.age"])
}

func TestBuildRowPosition(t *testing.T) {
	filters := mustFilters(t, model.FieldFilter{Field: "age", Value: model.Number(model.OpGte, 30)})
	req, err := legacyBuilder().BuildRowPosition(42, model.Pagination{SortBy: "age", SortOrder: model.SortDescending}, filters)
	require.NoError(t, err)
	assert.Equal(t, 42, req.RowID)
	assert.Equal(t, "age", req.SortBy)
	assert.Equal(t, model.SortDescending, req.SortOrder)

	_, err = legacyBuilder().BuildRowPosition(nil, model.Pagination{}, model.Filters{})
	assert.Equal(t, model.CodeRequired, detailCodes(t, err)["rowId"])
}

func TestRange(t *testing.T) {
	lo := 18.0
	v := Range(&lo, nil)
	require.Equal(t, model.FilterKindGroup, v.Kind())
	assert.Equal(t, []model.NumberFilter{{Operator: model.OpGte, Value: 18}}, v.GroupValue().Filters)

	empty := Range(nil, nil)
	assert.Empty(t, empty.GroupValue().Filters)
}

func TestTranslateLegacy(t *testing.T) {
	base := mustFilters(t, model.FieldFilter{Field: "salary", Value: model.Number(model.OpEq, 5000)})
	out, err := TranslateLegacy(base, map[string]float64{"ageMin": 18, "ageMax": 65, "salaryMin": 1})
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())

	salary, _ := out.Get("salary")
	assert.Equal(t, model.FilterKindNumber, salary.Kind())

	age, ok := out.Get("age")
	require.True(t, ok)
	assert.Equal(t, []model.NumberFilter{
		{Operator: model.OpGte, Value: 18},
		{Operator: model.OpLte, Value: 65},
	}, age.GroupValue().Filters)

	for _, key := range []string{"age", "priceMax", "Min"} {
		_, err = TranslateLegacy(model.Filters{}, map[string]float64{key: 1})
		assert.True(t, model.IsKind(err, model.KindValidation), "key %q", key)
	}
}
