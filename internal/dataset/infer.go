package dataset

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/pitabwire/tableview/model"
)

// Inference thresholds for low-cardinality string columns.
const (
	maxOptions        = 100
	optionsRowRatio   = 0.2
	alwaysOptionsUpTo = 10
)

// TimestampLayout is how numeric "ts" values and time.Time values are shown.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// tsField holds epoch seconds and is displayed as a timestamp.
const tsField = "ts"

var idLikeNames = []string{"id", "no", "number", "code", "uuid"}

var isoDateLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// normalizeRow copies r into its stored display form: bytes become spaced
// upper-case hex, "ts" epoch seconds and times become timestamp strings, and
// json.Number becomes int64 or float64.
func normalizeRow(r model.Row) model.Row {
	out := make(model.Row, len(r))
	for k, v := range r {
		out[k] = normalizeValue(k, v)
	}
	return out
}

func normalizeValue(field string, v any) any {
	switch x := v.(type) {
	case []byte:
		return hexString(x)
	case time.Time:
		return x.Format(TimestampLayout)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			v = i
		} else if f, err := x.Float64(); err == nil {
			v = f
		} else {
			return x.String()
		}
	}
	if field == tsField && isNumber(v) {
		return formatEpoch(toFloat(v))
	}
	return v
}

func hexString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	enc := strings.ToUpper(hex.EncodeToString(b))
	var sb strings.Builder
	sb.Grow(len(enc) + len(b) - 1)
	for i := 0; i < len(enc); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(enc[i : i+2])
	}
	return sb.String()
}

func formatEpoch(sec float64) string {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*1e3).Format(TimestampLayout)
}

func isNumber(v any) bool {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(x))
	case float64:
		return !math.IsNaN(x)
	case json.Number:
		_, err := x.Float64()
		return err == nil
	}
	return false
}

func isIntegral(v any) bool {
	switch x := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return float64(x) == math.Trunc(float64(x))
	case float64:
		return x == math.Trunc(x)
	}
	return false
}

func isDateName(prop string) bool {
	return prop == tsField || prop == "createTime" || strings.Contains(strings.ToLower(prop), "date")
}

func isIDLikeName(prop string) bool {
	lower := strings.ToLower(prop)
	for _, n := range idLikeNames {
		if lower == n || strings.HasSuffix(lower, "_"+n) {
			return true
		}
	}
	return false
}

func isISODate(s string) bool {
	for _, layout := range isoDateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// inferFields returns column configs for the fields of rows that are not in
// known. The id field comes first and the rest are ordered by name.
func inferFields(rows []model.Row, known map[string]bool) []model.ColumnConfig {
	values := make(map[string][]any)
	for _, r := range rows {
		for k, v := range r {
			if known[k] {
				continue
			}
			if _, seen := values[k]; !seen {
				values[k] = nil
			}
			if v != nil {
				values[k] = append(values[k], v)
			}
		}
	}

	props := make([]string, 0, len(values))
	for k := range values {
		props = append(props, k)
	}
	slices.SortFunc(props, func(a, b string) int {
		switch {
		case a == IDField:
			return -1
		case b == IDField:
			return 1
		}
		return strings.Compare(a, b)
	})

	out := make([]model.ColumnConfig, 0, len(props))
	for _, p := range props {
		out = append(out, inferColumn(p, values[p], len(rows)))
	}
	return out
}

// inferColumn derives one column config from the raw non-nil values of a
// field across nRows rows.
func inferColumn(prop string, values []any, nRows int) model.ColumnConfig {
	c := model.ColumnConfig{Prop: prop, Label: prop, Type: model.ColumnString, FilterType: model.FilterText, MinWidth: 120}
	if prop == IDField {
		c.Fixed = model.FixedLeft
		c.MinWidth = 80
	}

	switch {
	case len(values) == 0:
	case all(values, isNumber):
		if isDateName(prop) && prop != IDField {
			c.Type, c.FilterType, c.MinWidth = model.ColumnDate, model.FilterDate, 180
		} else {
			c.Type, c.FilterType = model.ColumnNumber, model.FilterNumber
		}
	case all(values, is[bool]):
		c.Type, c.FilterType = model.ColumnBoolean, model.FilterSelect
	case all(values, is[[]byte]):
		c.Type, c.FilterType, c.MinWidth = model.ColumnBytes, model.FilterNone, 200
		c.Sortable = model.Bool(false)
	case all(values, is[time.Time]):
		c.Type, c.FilterType, c.MinWidth = model.ColumnDate, model.FilterDate, 180
	case all(values, is[string]):
		inferStringColumn(&c, values, nRows)
	}
	return c
}

func inferStringColumn(c *model.ColumnConfig, values []any, nRows int) {
	if isDateName(c.Prop) || all(values, func(v any) bool { return isISODate(v.(string)) }) {
		c.Type, c.FilterType, c.MinWidth = model.ColumnDate, model.FilterDate, 180
		return
	}
	if isIDLikeName(c.Prop) {
		return
	}
	distinct := distinctStrings(values)
	if lowCardinality(len(distinct), nRows) {
		c.FilterType = model.FilterMultiSelect
		c.Options = distinct
	}
}

func lowCardinality(distinct, nRows int) bool {
	if distinct == 0 || distinct > maxOptions {
		return false
	}
	return distinct < alwaysOptionsUpTo || float64(distinct) <= optionsRowRatio*float64(nRows)
}

// distinctStrings returns the sorted distinct string forms of values.
func distinctStrings(values []any) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0)
	for _, v := range values {
		s := stringify(v)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

func stringify(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return cast.ToString(v)
}

// idKey is the comparison key of a row id: numbers compare by value so an id
// decoded from JSON as float64 matches a stored int64.
func idKey(v any) string {
	if isNumber(v) {
		return strconv.FormatFloat(toFloat(v), 'f', -1, 64)
	}
	return cast.ToString(v)
}

func toFloat(v any) float64 {
	return cast.ToFloat64(v)
}

func is[T any](v any) bool {
	_, ok := v.(T)
	return ok
}

func all(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}
