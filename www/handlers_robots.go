package www

import (
	"net/http"
	"time"

	"fleetwatch/dispatch"
	"fleetwatch/engine"
	"fleetwatch/geo"
)

func (h *Handlers) apiListRobots(w http.ResponseWriter, r *http.Request) {
	robots, err := h.engine.ListRobots(r.Context())
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"robots": robots})
}

func (h *Handlers) apiGetRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	robot, err := h.engine.GetRobot(id)
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"robot": robot})
}

func (h *Handlers) apiCreateRobot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string   `json:"name"`
		Lat  *float64 `json:"lat"`
		Lon  *float64 `json:"lon"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	robot, err := h.engine.CreateRobot(engine.NewRobot{Name: body.Name, Lat: body.Lat, Lon: body.Lon}, actor(r))
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonStatus(w, http.StatusCreated, map[string]any{"robot": robot})
}

func (h *Handlers) apiUpdateRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var patch engine.RobotPatch
	if !h.decode(w, r, &patch) {
		return
	}
	robot, err := h.engine.UpdateRobot(id, patch, actor(r))
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"robot": robot})
}

func (h *Handlers) apiDeleteRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.DeleteRobot(id, actor(r)); err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"message": "Robot deleted", "id": id})
}

func (h *Handlers) apiMoveRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	robot, err := h.engine.MoveRobot(id)
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"robot": robot})
}

func (h *Handlers) apiRobotTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	secs := queryInt(r, "duration", 60)
	trail, err := h.engine.Trail(id, time.Duration(secs)*time.Second)
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"trail": trail})
}

func (h *Handlers) apiRobotHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	history, minutes, err := h.engine.History(id, queryInt(r, "minutes", 5))
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"history": history, "minutes": minutes})
}

func (h *Handlers) apiDispatchRobot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Lat     *float64 `json:"lat"`
		Lon     *float64 `json:"lon"`
		EventID *int64   `json:"eventId"`
		Reason  string   `json:"reason"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Lat == nil || body.Lon == nil {
		h.jsonError(w, "Valid lat/lon required", http.StatusBadRequest)
		return
	}
	res, err := h.engine.Dispatch(r.Context(), dispatch.Request{
		RobotID:    id,
		Target:     geo.Point{Lat: *body.Lat, Lon: *body.Lon},
		OperatorID: operatorFrom(r).ID,
		EventID:    body.EventID,
		Reason:     body.Reason,
	})
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"dispatch": res})
}

func (h *Handlers) apiActiveDispatches(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{"dispatches": h.engine.ActiveDispatches()})
}

func (h *Handlers) apiAssignZone(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		ZoneID *int64 `json:"zoneId"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.ZoneID == nil || *body.ZoneID <= 0 {
		h.jsonError(w, "Zone ID required", http.StatusBadRequest)
		return
	}
	robot, err := h.engine.AssignZone(id, body.ZoneID, actor(r))
	if err != nil {
		h.fail(w, r, err, "Robot or zone")
		return
	}
	h.jsonOK(w, map[string]any{"robot": robot})
}

// --- Patrol routes ---

func (h *Handlers) apiListRoutes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	routes, err := h.engine.ListRoutes(id)
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"routes": routes})
}

func (h *Handlers) apiCreateRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var in engine.RouteInput
	if !h.decode(w, r, &in) {
		return
	}
	route, err := h.engine.CreateRoute(id, in, actor(r))
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonStatus(w, http.StatusCreated, map[string]any{"route": route})
}

func (h *Handlers) apiUpdateRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	routeID, ok := h.pathID(w, r, "routeId")
	if !ok {
		return
	}
	var in engine.RouteInput
	if !h.decode(w, r, &in) {
		return
	}
	route, err := h.engine.UpdateRoute(id, routeID, in, actor(r))
	if err != nil {
		h.fail(w, r, err, "Route")
		return
	}
	h.jsonOK(w, map[string]any{"route": route})
}

func (h *Handlers) apiActivateRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	routeID, ok := h.pathID(w, r, "routeId")
	if !ok {
		return
	}
	route, err := h.engine.ActivateRoute(id, routeID, actor(r))
	if err != nil {
		h.fail(w, r, err, "Route")
		return
	}
	h.jsonOK(w, map[string]any{"route": route})
}

func (h *Handlers) apiDeleteRoute(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	routeID, ok := h.pathID(w, r, "routeId")
	if !ok {
		return
	}
	route, err := h.engine.DeleteRoute(id, routeID, actor(r))
	if err != nil {
		h.fail(w, r, err, "Route")
		return
	}
	h.jsonOK(w, map[string]any{"route": route})
}

func (h *Handlers) apiSetPatrol(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var in engine.RouteInput
	if !h.decode(w, r, &in) {
		return
	}
	route, err := h.engine.SetPatrol(id, in, actor(r))
	if err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]any{"route": route})
}

func (h *Handlers) apiClearPatrol(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.engine.ClearPatrol(id, actor(r)); err != nil {
		h.fail(w, r, err, "Robot")
		return
	}
	h.jsonOK(w, map[string]bool{"success": true})
}

func (h *Handlers) apiGeneratePatrol(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ZoneID       *int64  `json:"zoneId"`
		OffsetMeters float64 `json:"offsetMeters"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.ZoneID == nil || *body.ZoneID <= 0 {
		h.jsonError(w, "Zone ID required", http.StatusBadRequest)
		return
	}
	pts, err := h.engine.GeneratePatrol(*body.ZoneID, body.OffsetMeters)
	if err != nil {
		h.fail(w, r, err, "Zone")
		return
	}
	h.jsonOK(w, map[string]any{"waypoints": pts})
}
