package transport

import (
	"net/http"

	"github.com/pitabwire/tableview/model"
)

// handleAutoAddStart answers 200 with the generator's ack; a start while
// running is a success=false ack, not an HTTP error.
func handleAutoAddStart(w http.ResponseWriter, r *http.Request) {
	inst := InstanceFrom(r.Context())

	var body model.AutoAddRequest
	if err := decodeJSON(r, &body); err != nil {
		WriteInvalidBody(w, err)
		return
	}
	ack, err := inst.AutoAdder.Start(r.Context(), body)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteData(w, ack)
}

func handleAutoAddStop(w http.ResponseWriter, r *http.Request) {
	WriteData(w, InstanceFrom(r.Context()).AutoAdder.Stop(r.Context()))
}

func handleAutoAddStatus(w http.ResponseWriter, r *http.Request) {
	WriteData(w, InstanceFrom(r.Context()).AutoAdder.Status())
}
