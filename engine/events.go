package engine

import (
	"fleetwatch/dispatch"
	"fleetwatch/geo"
	"fleetwatch/store"
)

const (
	EventRobotUpdated EventType = iota + 1
	EventRobotViolation
	EventAppended
	EventDispatchStarted
	EventDispatchCompleted
	EventDispatchFailed
	EventSimulationChanged
	EventEntityChanged
	EventPresenceChanged
)

// --- Notice payloads ---

type RobotUpdatedEvent struct {
	Robot *store.Robot
}

type ViolationEvent struct {
	Robot     *store.Robot
	Violation geo.Violation
	Event     *store.Event
}

// AppendedEvent carries every event row written to the store.
type AppendedEvent struct {
	Event *store.Event
}

type DispatchEvent struct {
	Task  dispatch.Task
	Robot *store.Robot
	Err   error
}

type SimulationEvent struct {
	Running bool
	Actor   string
}

// EntityChangedEvent records an operator change to a robot, route or zone.
type EntityChangedEvent struct {
	Entity string // "robot", "route", "zone", "event"
	ID     int64
	Action string // "created", "updated", "deleted", "activated", ...
	Detail string
	Actor  string
}

type PresenceEvent struct {
	OperatorsOnline int
	FocusCounts     map[string]int
}
