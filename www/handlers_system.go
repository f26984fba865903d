package www

import (
	"net/http"
	"os"
	"time"

	"fleetwatch/config"
	"fleetwatch/logbuf"
	"fleetwatch/store"
)

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	env := os.Getenv("FLEETWATCH_ENV")
	if env == "" {
		env = "development"
	}
	h.jsonOK(w, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
		"environment": env,
		"simulation":  h.engine.SimulationStatus().Running,
		"connections": h.gateway.ConnectionCount(),
	})
}

// --- Simulation ---

func (h *Handlers) apiSimulationStart(w http.ResponseWriter, r *http.Request) {
	h.engine.StartSimulation(h.runCtx, actor(r))
	h.jsonOK(w, map[string]any{"message": "Simulation started", "status": h.engine.SimulationStatus()})
}

func (h *Handlers) apiSimulationStop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopSimulation(actor(r))
	h.jsonOK(w, map[string]any{"message": "Simulation stopped", "status": h.engine.SimulationStatus()})
}

func (h *Handlers) apiSimulationStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.SimulationStatus())
}

// simulationBody is the wire form of a config patch. Durations travel as
// milliseconds.
type simulationBody struct {
	IntervalMs     *int64   `json:"intervalMs"`
	MoveRadius     *float64 `json:"moveRadius"`
	BatteryDrain   *float64 `json:"batteryDrain"`
	OfflineChance  *float64 `json:"offlineChance"`
	IdleChance     *float64 `json:"idleChance"`
	OfflineAfterMs *int64   `json:"offlineAfterMs"`
	OfflineCheckMs *int64   `json:"offlineCheckMs"`
}

func millis(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func (b simulationBody) patch() config.SimulationPatch {
	return config.SimulationPatch{
		Interval:      millis(b.IntervalMs),
		MoveRadius:    b.MoveRadius,
		BatteryDrain:  b.BatteryDrain,
		OfflineChance: b.OfflineChance,
		IdleChance:    b.IdleChance,
		OfflineAfter:  millis(b.OfflineAfterMs),
		OfflineCheck:  millis(b.OfflineCheckMs),
	}
}

func (h *Handlers) apiSimulationConfig(w http.ResponseWriter, r *http.Request) {
	var body simulationBody
	if !h.decode(w, r, &body) {
		return
	}
	status := h.engine.UpdateSimulation(body.patch(), actor(r))
	h.jsonOK(w, map[string]any{"message": "Config updated", "status": status})
}

// --- Presence, logs, audit ---

func (h *Handlers) apiPresence(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.PresenceState())
}

func (h *Handlers) apiLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", logbuf.DefaultLimit)
	logs := h.logs.Lines(limit)
	if logs == nil {
		logs = []logbuf.Entry{}
	}
	h.jsonOK(w, map[string]any{"logs": logs})
}

func (h *Handlers) apiAuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.DB().ListAuditLog(queryInt(r, "limit", 100))
	if err != nil {
		h.fail(w, r, err, "Audit log")
		return
	}
	if entries == nil {
		entries = []*store.AuditEntry{}
	}
	h.jsonOK(w, map[string]any{"audit": entries})
}

// --- Replay ---

func (h *Handlers) apiReplayAll(w http.ResponseWriter, r *http.Request) {
	from, to := window(r, 60)
	replay, err := h.engine.Replay(from, to)
	if err != nil {
		h.fail(w, r, err, "Replay")
		return
	}
	h.jsonOK(w, map[string]any{"replay": replay})
}

func (h *Handlers) apiReplayRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "robotId")
	if !ok {
		return
	}
	from, to := window(r, 60)
	positions, err := h.engine.ReplayRobot(id, from, to)
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	if positions == nil {
		positions = []*store.PositionSample{}
	}
	h.jsonOK(w, map[string]any{"positions": positions})
}
