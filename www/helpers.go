package www

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetwatch/dispatch"
	"fleetwatch/engine"
	"fleetwatch/store"
)

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handlers) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps an engine error to a status code. what names the entity for a
// not-found reply.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		h.jsonError(w, verr.Msg, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, dispatch.ErrRobotNotFound):
		h.jsonError(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, dispatch.ErrAlreadyDispatching):
		h.jsonError(w, "Robot is already dispatching", http.StatusConflict)
	case errors.Is(err, dispatch.ErrInvalidTarget), errors.Is(err, dispatch.ErrInvalidRobot):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispatch.ErrStopped):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrNoLocation):
		h.jsonError(w, "Event has no dispatchable location", http.StatusBadRequest)
	case errors.Is(err, engine.ErrNoAvailableRobots):
		h.jsonError(w, "No available robots", http.StatusNotFound)
	default:
		log.Printf("www: %s %s: %v", r.Method, r.URL.Path, err)
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// pathID parses the named chi URL parameter.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// queryTime accepts RFC 3339 or milliseconds since the epoch.
func queryTime(r *http.Request, key string) (time.Time, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// window resolves a from/to pair or, without one, the last duration seconds.
func window(r *http.Request, defSeconds int) (time.Time, time.Time) {
	from, okFrom := queryTime(r, "from")
	to, okTo := queryTime(r, "to")
	if okFrom && okTo {
		return from, to
	}
	secs := queryInt(r, "duration", defSeconds)
	if secs <= 0 {
		secs = defSeconds
	}
	now := time.Now()
	return now.Add(-time.Duration(secs) * time.Second), now
}
