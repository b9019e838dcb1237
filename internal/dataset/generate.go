package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/model"
)

var (
	departments    = []string{"技术部", "销售部", "市场部", "人事部", "财务部"}
	employeeStatus = []string{"在职", "离职", "试用期"}

	orderStatuses  = []string{"待付款", "已付款", "已发货", "已完成", "已取消", "退款中"}
	paymentMethods = []string{"支付宝", "微信支付", "银行卡", "现金", "PayPal"}
	cities         = []string{"北京", "上海", "广州", "深圳", "杭州", "成都", "武汉", "西安", "南京", "重庆"}
	merchants      = []string{"商家A", "商家B", "商家C", "商家D", "商家E", "商家F", "商家G"}
)

const (
	payloadBytes = 16
	orderWindow  = 2 * 365 * 24 * time.Hour
)

// Generator produces synthetic rows for one schema. It is safe for
// concurrent use.
type Generator struct {
	schema string
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithClock replaces time.Now for dates relative to the current day.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator for schema seeded with seed, so the same
// seed yields the same rows.
func NewGenerator(schema string, seed int64, opts ...GeneratorOption) (*Generator, error) {
	switch schema {
	case config.SchemaEmployees, config.SchemaOrders:
	default:
		return nil, fmt.Errorf("dataset: unknown schema %q", schema)
	}
	g := &Generator{
		schema: schema,
		now:    time.Now,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>32|1)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Columns returns the declared column config of the schema. Orders declare
// none; their config is inferred from the rows.
func (g *Generator) Columns() []model.ColumnConfig {
	if g.schema == config.SchemaEmployees {
		return model.LegacyColumns().Columns
	}
	return nil
}

// Rows generates n rows with ids 1..n.
func (g *Generator) Rows(n int) []model.Row {
	rows := make([]model.Row, 0, n)
	for i := range n {
		rows = append(rows, g.Row(int64(i+1)))
	}
	return rows
}

// Row generates one row with the given id.
func (g *Generator) Row(id int64) model.Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.schema == config.SchemaOrders {
		return g.order(id)
	}
	return g.employee(id)
}

func (g *Generator) employee(id int64) model.Row {
	created := g.now().AddDate(0, 0, -g.rng.IntN(366))
	return model.Row{
		"id":         id,
		"name":       fmt.Sprintf("用户_%08d", id),
		"email":      fmt.Sprintf("user%d@example.com", id),
		"age":        int64(18 + g.rng.IntN(51)),
		"department": departments[(id-1)%int64(len(departments))],
		"salary":     int64(10000 + g.rng.IntN(50001)),
		"status":     employeeStatus[id%int64(len(employeeStatus))],
		"createTime": created.Format(time.DateOnly),
	}
}

func (g *Generator) order(id int64) model.Row {
	now := g.now()
	payload := make([]byte, payloadBytes)
	for i := range payload {
		payload[i] = byte(g.rng.IntN(256))
	}
	ts := now.Add(-time.Duration(g.rng.Float64() * float64(orderWindow)))

	return model.Row{
		"id":             id,
		"order_number":   fmt.Sprintf("ORD%010d", id),
		"order_status":   pick(g.rng, orderStatuses),
		"payment_method": pick(g.rng, paymentMethods),
		"order_amount":   round(10+g.rng.Float64()*9990, 2),
		"item_count":     int64(1 + g.rng.IntN(100)),
		"shipping_cost":  round(g.rng.Float64()*50, 1),
		"city":           pick(g.rng, cities),
		"merchant":       pick(g.rng, merchants),
		"user_id":        int64(1000 + g.rng.IntN(99000)),
		"discount":       round(g.rng.Float64()*0.5, 2),
		"order_date":     now.AddDate(0, 0, -g.rng.IntN(731)).Format(time.DateOnly),
		"payload":        payload,
		"ts":             float64(ts.UnixMicro()) / 1e6,
	}
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

func round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
