package dataset

import (
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/observability"
)

// Instance is one mounted table with its generator and auto-adder.
type Instance struct {
	Schema    string
	Table     *Table
	Generator *Generator
	AutoAdder *AutoAdder

	seedRows int
}

// NewInstance builds an unloaded instance from cfg. Call Seed to load it.
func NewInstance(cfg config.DatasetConfig, logger *zap.Logger, metrics *observability.Metrics) (*Instance, error) {
	gen, err := NewGenerator(cfg.Schema, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("schema", cfg.Schema))

	table := New(Options{Columns: gen.Columns(), Logger: logger, Metrics: metrics})
	return &Instance{
		Schema:    cfg.Schema,
		Table:     table,
		Generator: gen,
		AutoAdder: NewAutoAdder(table, gen, cfg.AutoAdd, logger, metrics),
		seedRows:  cfg.SeedRows,
	}, nil
}

// Seed generates the configured number of rows and loads them.
func (i *Instance) Seed() {
	i.Table.Load(i.Generator.Rows(i.seedRows))
}

// Close stops the auto-adder.
func (i *Instance) Close() {
	i.AutoAdder.Close()
}
