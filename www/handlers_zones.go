package www

import (
	"net/http"

	"fleetwatch/engine"
)

func (h *Handlers) apiListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.engine.ListZones()
	if err != nil {
		h.fail(w, r, err, "Zone")
		return
	}
	h.jsonOK(w, map[string]any{"zones": zones})
}

func (h *Handlers) apiGetZone(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	zone, err := h.engine.GetZone(id)
	if err != nil {
		h.fail(w, r, err, "Zone")
		return
	}
	h.jsonOK(w, map[string]any{"zone": zone})
}

func (h *Handlers) apiCreateZone(w http.ResponseWriter, r *http.Request) {
	var in engine.ZoneInput
	if !h.decode(w, r, &in) {
		return
	}
	zone, err := h.engine.CreateZone(in, actor(r))
	if err != nil {
		h.fail(w, r, err, "Zone")
		return
	}
	h.jsonStatus(w, http.StatusCreated, map[string]any{"zone": zone})
}

func (h *Handlers) apiUpdateZone(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var in engine.ZoneInput
	if !h.decode(w, r, &in) {
		return
	}
	zone, err := h.engine.UpdateZone(id, in, actor(r))
	if err != nil {
		h.fail(w, r, err, "Zone")
		return
	}
	h.jsonOK(w, map[string]any{"zone": zone})
}

func (h *Handlers) apiDeleteZone(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.DeleteZone(id, actor(r)); err != nil {
		h.fail(w, r, err, "Zone")
		return
	}
	h.jsonOK(w, map[string]any{"message": "Zone deleted", "id": id})
}
