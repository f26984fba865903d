package engine

import (
	"encoding/json"
	"fmt"

	"fleetwatch/dispatch"
	"fleetwatch/geo"
	"fleetwatch/store"
)

// robotEmitter bridges the patrol, simulation and dispatch emitter
// interfaces to event rows and hub notices.
type robotEmitter struct {
	e *Engine
}

func (m *robotEmitter) RobotMoved(r *store.Robot, violations []geo.Violation) {
	for _, v := range violations {
		m.violation(r, v)
	}
	m.e.Events.Emit(Notice{Type: EventRobotUpdated, Payload: RobotUpdatedEvent{Robot: r}})
}

func (m *robotEmitter) violation(r *store.Robot, v geo.Violation) {
	ev, err := m.e.appendEvent(&r.ID, r.Name, store.EventZoneViolation, v.Severity,
		fmt.Sprintf("%s entered %s", r.Name, v.ZoneName),
		map[string]any{
			"zone_id":   v.ZoneID,
			"zone_name": v.ZoneName,
			"zone_type": v.ZoneType,
			"lat":       v.Point.Lat,
			"lon":       v.Point.Lon,
		})
	if err != nil {
		m.e.logFn("engine: zone violation for robot %d: %v", r.ID, err)
	}
	m.e.Events.Emit(Notice{Type: EventRobotViolation, Payload: ViolationEvent{Robot: r, Violation: v, Event: ev}})
}

func (m *robotEmitter) StatusChanged(r *store.Robot, from, reason string) {
	severity := store.SeverityInfo
	if r.Status == store.StatusOffline {
		severity = store.SeverityError
	}
	msg := fmt.Sprintf("Robot status changed from %s to %s", from, r.Status)
	data := map[string]any{"from": from, "to": r.Status}
	if reason != "" {
		data["reason"] = reason
		if reason == "timeout" {
			msg += " (no updates)"
		}
	}
	if _, err := m.e.appendEvent(&r.ID, r.Name, store.EventStatusChange, severity, msg, data); err != nil {
		m.e.logFn("engine: status change for robot %d: %v", r.ID, err)
	}
}

func (m *robotEmitter) BatteryLow(r *store.Robot) {
	_, err := m.e.appendEvent(&r.ID, r.Name, store.EventBatteryLow, store.SeverityWarning,
		fmt.Sprintf("Robot battery is low: %d%%", r.Battery),
		map[string]any{"battery": r.Battery})
	if err != nil {
		m.e.logFn("engine: battery low for robot %d: %v", r.ID, err)
	}
}

func (m *robotEmitter) EmitDispatchStarted(t *dispatch.Task, r *store.Robot) {
	_, err := m.e.appendEvent(&r.ID, r.Name, store.EventDispatch, store.SeverityInfo,
		fmt.Sprintf("Dispatching %s to alarm location", r.Name),
		map[string]any{
			"event_id":    t.EventID,
			"target":      t.Target,
			"operator_id": t.OperatorID,
			"reason":      t.Reason,
			"task_id":     t.ID,
		})
	if err != nil {
		m.e.logFn("engine: dispatch event for robot %d: %v", r.ID, err)
	}
	m.e.Events.Emit(Notice{Type: EventDispatchStarted, Payload: DispatchEvent{Task: *t, Robot: r}})
}

func (m *robotEmitter) EmitDispatchCompleted(t *dispatch.Task, r *store.Robot) {
	_, err := m.e.appendEvent(&r.ID, r.Name, store.EventDispatchComplete, store.SeverityInfo,
		fmt.Sprintf("%s arrived at alarm location", r.Name),
		map[string]any{"event_id": t.EventID, "target": t.Target, "task_id": t.ID})
	if err != nil {
		m.e.logFn("engine: dispatch complete event for robot %d: %v", r.ID, err)
	}
	m.e.Events.Emit(Notice{Type: EventDispatchCompleted, Payload: DispatchEvent{Task: *t, Robot: r}})
}

func (m *robotEmitter) EmitDispatchFailed(t *dispatch.Task, err error) {
	m.e.Events.Emit(Notice{Type: EventDispatchFailed, Payload: DispatchEvent{Task: *t, Err: err}})
}

// appendEvent stores one event row and announces it. The returned event
// carries the robot name for observers.
func (e *Engine) appendEvent(robotID *int64, robotName, typ, severity, message string, data any) (*store.Event, error) {
	ev := &store.Event{RobotID: robotID, RobotName: robotName, Type: typ, Severity: severity, Message: message}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode event data: %w", err)
		}
		ev.Data = raw
	}
	if err := e.db.AppendEvent(ev); err != nil {
		return nil, err
	}
	e.Events.Emit(Notice{Type: EventAppended, Payload: AppendedEvent{Event: ev}})
	return ev, nil
}
