package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"fleetwatch/dispatch"
	"fleetwatch/geo"
	"fleetwatch/store"
)

type EventInput struct {
	RobotID  *int64          `json:"robot_id"`
	Type     string          `json:"type"`
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
}

type AlarmInput struct {
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	Message  string   `json:"message"`
	Severity string   `json:"severity"`
}

// DispatchOutcome is the result of dispatching the closest robot to an event.
type DispatchOutcome struct {
	Event    *store.Event     `json:"event"`
	Robot    *store.Robot     `json:"robot"`
	Dispatch *dispatch.Result `json:"dispatch"`
}

func (e *Engine) ListEvents(f store.EventFilter) ([]*store.Event, int, error) {
	if f.Severity != "" && !store.ValidSeverity(f.Severity) {
		return nil, 0, invalid("Invalid severity")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return e.db.ListEvents(f)
}

// CreateEvent records an operator-supplied event.
func (e *Engine) CreateEvent(in EventInput) (*store.Event, error) {
	typ := strings.TrimSpace(in.Type)
	if typ == "" {
		return nil, invalid("Event type required")
	}
	sev := in.Severity
	if sev == "" {
		sev = store.SeverityInfo
	}
	if !store.ValidSeverity(sev) {
		return nil, invalid("Invalid severity")
	}
	name := ""
	if in.RobotID != nil {
		r, err := e.db.GetRobot(*in.RobotID)
		if err != nil {
			return nil, err
		}
		name = r.Name
	}
	var data any
	if len(in.Data) > 0 && string(in.Data) != "null" {
		data = in.Data
	}
	return e.appendEvent(in.RobotID, name, typ, sev, in.Message, data)
}

// CreateAlarm records an alarm at a location that robots can be dispatched to.
func (e *Engine) CreateAlarm(in AlarmInput) (*store.Event, error) {
	if in.Lat == nil || in.Lon == nil {
		return nil, invalid("Valid lat/lon required")
	}
	p := geo.Point{Lat: *in.Lat, Lon: *in.Lon}
	if !p.Finite() || !p.Valid() {
		return nil, invalid("Valid lat/lon required")
	}
	sev := in.Severity
	if sev == "" {
		sev = store.SeverityCritical
	}
	if !store.ValidSeverity(sev) {
		return nil, invalid("Invalid severity")
	}
	msg := in.Message
	if msg == "" {
		msg = "Alarm triggered"
	}
	return e.appendEvent(nil, "", store.EventAlarmTriggered, sev, msg,
		map[string]float64{"lat": p.Lat, "lon": p.Lon})
}

// EventLocation extracts the dispatch target stored in an event's data.
func EventLocation(ev *store.Event) (geo.Point, bool) {
	if len(ev.Data) == 0 {
		return geo.Point{}, false
	}
	var loc struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	}
	if err := json.Unmarshal(ev.Data, &loc); err != nil || loc.Lat == nil || loc.Lon == nil {
		return geo.Point{}, false
	}
	p := geo.Point{Lat: *loc.Lat, Lon: *loc.Lon}
	return p, p.Finite() && p.Valid()
}

// DispatchClosest sends the nearest robot that is online and not already
// dispatching to the event's location.
func (e *Engine) DispatchClosest(ctx context.Context, eventID, operatorID int64) (*DispatchOutcome, error) {
	ev, err := e.db.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	target, ok := EventLocation(ev)
	if !ok {
		return nil, ErrNoLocation
	}
	robots, err := e.db.ListRobots()
	if err != nil {
		return nil, err
	}
	reserved := e.registry.Reserved()
	var closest *store.Robot
	best := math.Inf(1)
	for _, r := range robots {
		if r.Status == store.StatusOffline || reserved[r.ID] {
			continue
		}
		if d := geo.Distance(r.Position(), target); d < best {
			best, closest = d, r
		}
	}
	if closest == nil {
		return nil, ErrNoAvailableRobots
	}
	res, err := e.Dispatch(ctx, dispatch.Request{
		RobotID:    closest.ID,
		Target:     target,
		OperatorID: operatorID,
		EventID:    &ev.ID,
		Reason:     ev.Type,
	})
	if err != nil {
		return nil, err
	}
	return &DispatchOutcome{Event: ev, Robot: closest, Dispatch: res}, nil
}

// Dispatch starts a dispatch and counts rejections.
func (e *Engine) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	res, err := e.dispatcher.Dispatch(ctx, req)
	if err != nil {
		if errors.Is(err, dispatch.ErrAlreadyDispatching) {
			e.metrics.DispatchRejected()
		}
		return nil, err
	}
	return res, nil
}

func (e *Engine) ActiveDispatches() []dispatch.Task {
	return e.dispatcher.Active()
}
