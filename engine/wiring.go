package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetwatch/bus"
	"fleetwatch/store"
)

const publishTimeout = 2 * time.Second

// RobotUpdateMessage is the robot_updates channel payload.
type RobotUpdateMessage struct {
	Type  string       `json:"type"`
	Robot *store.Robot `json:"robot"`
}

// EventMessage is the events channel payload.
type EventMessage struct {
	Type  string       `json:"type"`
	Event *store.Event `json:"event"`
}

// AlertMessage is the alerts channel payload for a zone violation.
type AlertMessage struct {
	Type      string    `json:"type"`
	Kind      string    `json:"kind"`
	Severity  string    `json:"severity"`
	RobotID   int64     `json:"robot_id"`
	RobotName string    `json:"robot_name"`
	Zone      string    `json:"zone"`
	ZoneID    int64     `json:"zone_id"`
	ZoneType  string    `json:"zone_type"`
	EventID   int64     `json:"event_id,omitempty"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Engine) wireEventHandlers() {
	// Robot state goes out on the bus and stales the list cache
	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(RobotUpdatedEvent)
		e.cache.Invalidate(context.Background())
		e.publish(bus.ChannelRobotUpdates, RobotUpdateMessage{Type: "robot_update", Robot: ev.Robot})
	}, EventRobotUpdated)

	// Every stored event row is relayed
	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(AppendedEvent)
		e.metrics.EventAppended(ev.Event.Type)
		e.publish(bus.ChannelEvents, EventMessage{Type: "event", Event: ev.Event})
	}, EventAppended)

	// Zone violations also raise an alert
	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(ViolationEvent)
		msg := AlertMessage{
			Type:      "alert",
			Kind:      store.EventZoneViolation,
			Severity:  ev.Violation.Severity,
			RobotID:   ev.Robot.ID,
			RobotName: ev.Robot.Name,
			Zone:      ev.Violation.ZoneName,
			ZoneID:    ev.Violation.ZoneID,
			ZoneType:  string(ev.Violation.ZoneType),
			Lat:       ev.Violation.Point.Lat,
			Lon:       ev.Violation.Point.Lon,
			Timestamp: n.Timestamp,
		}
		if ev.Event != nil {
			msg.EventID = ev.Event.ID
		}
		e.publish(bus.ChannelAlerts, msg)
	}, EventRobotViolation)

	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(DispatchEvent)
		e.metrics.DispatchStarted()
		detail := fmt.Sprintf("target %s reason %q", ev.Task.Target, ev.Task.Reason)
		e.audit("robot", ev.Task.RobotID, "dispatched", detail, operatorActor(ev.Task.OperatorID))
	}, EventDispatchStarted)

	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(DispatchEvent)
		e.metrics.DispatchFinished(true)
		e.audit("robot", ev.Task.RobotID, "arrived", ev.Task.Target.String(), "system")
	}, EventDispatchCompleted)

	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(DispatchEvent)
		e.metrics.DispatchFinished(false)
		e.logFn("engine: dispatch of robot %d failed: %v", ev.Task.RobotID, ev.Err)
		e.audit("robot", ev.Task.RobotID, "dispatch_failed", errString(ev.Err), "system")
	}, EventDispatchFailed)

	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(SimulationEvent)
		action := "stopped"
		if ev.Running {
			action = "started"
		}
		e.audit("simulation", 0, action, "", ev.Actor)
	}, EventSimulationChanged)

	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(EntityChangedEvent)
		e.audit(ev.Entity, ev.ID, ev.Action, ev.Detail, ev.Actor)
	}, EventEntityChanged)

	e.Events.SubscribeTypes(func(n Notice) {
		ev := n.Payload.(PresenceEvent)
		e.metrics.SetOperatorsOnline(ev.OperatorsOnline)
	}, EventPresenceChanged)
}

// publish encodes msg and sends it on channel. Bus failures are logged and
// counted, never returned: the database write already happened.
func (e *Engine) publish(channel string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		e.logFn("engine: encode %s message: %v", channel, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = e.bus.Publish(ctx, channel, payload)
	e.metrics.Published(channel, err)
	if err != nil && !errors.Is(err, bus.ErrClosed) {
		e.logFn("engine: publish %s: %v", channel, err)
	}
}

func (e *Engine) audit(entity string, id int64, action, detail, actor string) {
	if err := e.db.AppendAudit(entity, id, action, detail, actor); err != nil {
		e.logFn("engine: audit %s %d %s: %v", entity, id, action, err)
	}
}

func operatorActor(id int64) string {
	if id <= 0 {
		return "system"
	}
	return fmt.Sprintf("operator:%d", id)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
