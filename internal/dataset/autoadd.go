package dataset

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// Auto-add acknowledgement messages.
const (
	MsgAutoAddStarted        = "自动添加已启动"
	MsgAutoAddAlreadyRunning = "自动添加已在运行中"
	MsgAutoAddStopped        = "自动添加已停止"
	MsgAutoAddNotRunning     = "自动添加未运行"
)

// AutoAdder appends generated rows to a table on a fixed interval until
// stopped. At most one generator runs at a time.
type AutoAdder struct {
	table    *Table
	gen      *Generator
	defaults config.AutoAddConfig
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoAdder creates a stopped AutoAdder. defaults fill a start request's
// zero fields.
func NewAutoAdder(table *Table, gen *Generator, defaults config.AutoAddConfig, logger *zap.Logger, metrics *observability.Metrics) *AutoAdder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoAdder{table: table, gen: gen, defaults: defaults, logger: logger, metrics: metrics}
}

// Start launches the generator. Starting while running is not an error: the
// ack reports success=false with a message.
func (a *AutoAdder) Start(ctx context.Context, req model.AutoAddRequest) (model.Ack, error) {
	if req.BatchSize == 0 && a.defaults.BatchSize > 0 {
		req.BatchSize = a.defaults.BatchSize
	}
	if req.Interval == 0 && a.defaults.Interval > 0 {
		req.Interval = a.defaults.Interval.Seconds()
	}
	req, err := req.Normalize()
	if err != nil {
		return model.Ack{}, err
	}
	if !a.table.Ready() {
		return model.Ack{}, ErrNotReady
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return model.Ack{Success: false, Message: MsgAutoAddAlreadyRunning}, nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	interval := time.Duration(req.Interval * float64(time.Second))
	go a.run(runCtx, req.BatchSize, interval, a.done)

	a.setRunning(true)
	observability.RequestLogger(ctx, a.logger).Info("auto-add started",
		zap.Int("batch_size", req.BatchSize),
		zap.Duration("interval", interval),
	)
	return model.Ack{Success: true, Message: MsgAutoAddStarted}, nil
}

// Stop halts the generator and waits for the in-flight batch. Stopping while
// stopped reports success=false with a message.
func (a *AutoAdder) Stop(ctx context.Context) model.Ack {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel == nil {
		return model.Ack{Success: false, Message: MsgAutoAddNotRunning}
	}
	a.cancel()
	<-a.done
	a.cancel, a.done = nil, nil

	a.setRunning(false)
	observability.RequestLogger(ctx, a.logger).Info("auto-add stopped")
	return model.Ack{Success: true, Message: MsgAutoAddStopped}
}

// Status reports whether the generator is running.
func (a *AutoAdder) Status() model.AutoAddStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.AutoAddStatus{Running: a.cancel != nil}
}

// Close stops the generator if it is running.
func (a *AutoAdder) Close() {
	a.Stop(context.Background())
}

func (a *AutoAdder) run(ctx context.Context, batch int, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	if interval <= 0 {
		a.logger.Warn("auto-add interval not positive, using default", zap.Duration("interval", interval))
		interval = time.Duration(model.DefaultAutoAddInterval * float64(time.Second))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.table.AddFunc(ctx, batch, a.gen.Row)
			if err != nil {
				a.logger.Warn("auto-add batch failed", zap.Error(err))
				continue
			}
			if a.metrics != nil {
				a.metrics.RecordAutoAddRows(res.AddedCount)
			}
			a.logger.Debug("auto-add batch",
				zap.Int("added", res.AddedCount),
				zap.Int("rows", a.table.Len()),
			)
		}
	}
}

func (a *AutoAdder) setRunning(running bool) {
	if a.metrics != nil {
		a.metrics.SetAutoAddRunning(running)
	}
}
