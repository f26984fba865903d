package dispatch

import (
	"fleetwatch/geo"
	"fleetwatch/store"
)

// Emitter is the interface adapters must satisfy to bridge dispatch events to the engine.
type Emitter interface {
	RobotMoved(r *store.Robot, violations []geo.Violation)
	EmitDispatchStarted(t *Task, r *store.Robot)
	EmitDispatchCompleted(t *Task, r *store.Robot)
	EmitDispatchFailed(t *Task, err error)
}
