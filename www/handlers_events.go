package www

import (
	"net/http"
	"strconv"

	"fleetwatch/engine"
	"fleetwatch/store"
)

func (h *Handlers) apiListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	if v := q.Get("robot_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.jsonError(w, "invalid robot_id", http.StatusBadRequest)
			return
		}
		f.RobotID = &id
	}
	if t, ok := queryTime(r, "from"); ok {
		f.From = t
	}
	if t, ok := queryTime(r, "to"); ok {
		f.To = t
	}
	events, total, err := h.engine.ListEvents(f)
	if err != nil {
		h.fail(w, r, err, "Event")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	h.jsonOK(w, map[string]any{"events": events, "total": total, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handlers) apiCreateEvent(w http.ResponseWriter, r *http.Request) {
	var in engine.EventInput
	if !h.decode(w, r, &in) {
		return
	}
	ev, err := h.engine.CreateEvent(in)
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonStatus(w, http.StatusCreated, map[string]any{"event": ev})
}

func (h *Handlers) apiCreateAlarm(w http.ResponseWriter, r *http.Request) {
	var in engine.AlarmInput
	if !h.decode(w, r, &in) {
		return
	}
	ev, err := h.engine.CreateAlarm(in)
	if err != nil {
		h.fail(w, r, err, "Event")
		return
	}
	h.jsonStatus(w, http.StatusCreated, map[string]any{"event": ev})
}

func (h *Handlers) apiDispatchClosest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	out, err := h.engine.DispatchClosest(r.Context(), id, operatorFrom(r).ID)
	if err != nil {
		h.fail(w, r, err, "Event")
		return
	}
	h.jsonOK(w, out)
}
