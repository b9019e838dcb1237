package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/tableview/internal/config"
	"github.com/pitabwire/tableview/internal/dataset"
	"github.com/pitabwire/tableview/internal/mount"
	"github.com/pitabwire/tableview/internal/observability"
	"github.com/pitabwire/tableview/model"
)

// maxSeedRows bounds tables created over HTTP.
const maxSeedRows = 1_000_000

// TableInfo describes one mounted table.
type TableInfo struct {
	ID      string `json:"id"`
	Schema  string `json:"schema"`
	Rows    int    `json:"rows"`
	Ready   bool   `json:"ready"`
	Running bool   `json:"auto_add_running"`
}

// TableList is the payload of the table listing.
type TableList struct {
	Tables []TableInfo `json:"tables"`
	Latest string      `json:"latest,omitempty"`
}

// createTableRequest overrides the dataset defaults for a new table.
type createTableRequest struct {
	Schema   string `json:"schema"`
	SeedRows *int   `json:"seed_rows"`
	Seed     *int64 `json:"seed"`
}

type tablesHandler struct {
	tables   *mount.Registry[*dataset.Instance]
	defaults config.DatasetConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func (h *tablesHandler) list(w http.ResponseWriter, _ *http.Request) {
	out := TableList{Tables: make([]TableInfo, 0, h.tables.Len())}
	for _, id := range h.tables.IDs() {
		inst, ok := h.tables.Get(id)
		if !ok {
			continue
		}
		out.Tables = append(out.Tables, describe(id, inst))
	}
	if id, _, ok := h.tables.Latest(); ok {
		out.Latest = id
	}
	WriteData(w, out)
}

// create mounts a new seeded table and returns its id.
func (h *tablesHandler) create(w http.ResponseWriter, r *http.Request) {
	var body createTableRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteInvalidBody(w, err)
		return
	}

	cfg := h.defaults
	if body.Schema != "" {
		cfg.Schema = body.Schema
	}
	if body.SeedRows != nil {
		cfg.SeedRows = *body.SeedRows
	}
	if body.Seed != nil {
		cfg.Seed = *body.Seed
	}
	if cfg.SeedRows < 0 || cfg.SeedRows > maxSeedRows {
		WriteError(w, model.NewFieldValidationError("seed_rows", model.CodeOutOfRange,
			fmt.Sprintf("seed_rows must be between 0 and %d", maxSeedRows)))
		return
	}

	inst, err := dataset.NewInstance(cfg, h.logger, h.metrics)
	if err != nil {
		WriteError(w, model.NewFieldValidationError("schema", model.CodeInvalid, err.Error()))
		return
	}
	inst.Seed()
	id := h.tables.Register(inst)

	observability.RequestLogger(r.Context(), h.logger).Info("table mounted",
		zap.String("table_id", id),
		zap.String("schema", cfg.Schema),
		zap.Int("rows", inst.Table.Len()),
	)
	WriteData(w, describe(id, inst))
}

// remove unmounts a table and stops its generator.
func (h *tablesHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tableId")
	inst, ok := h.tables.Deregister(id)
	if !ok {
		WriteError(w, fmt.Errorf("%w: %s", mount.ErrNotFound, id))
		return
	}
	inst.Close()

	observability.RequestLogger(r.Context(), h.logger).Info("table unmounted", zap.String("table_id", id))
	WriteData(w, model.Ack{Success: true})
}

func describe(id string, inst *dataset.Instance) TableInfo {
	return TableInfo{
		ID:      id,
		Schema:  inst.Schema,
		Rows:    inst.Table.Len(),
		Ready:   inst.Table.Ready(),
		Running: inst.AutoAdder.Status().Running,
	}
}
