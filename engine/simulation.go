package engine

import (
	"context"

	"fleetwatch/config"
	"fleetwatch/presence"
	"fleetwatch/simulation"
)

// StartSimulation starts the tick loop. It reports false when the loop was
// already running.
func (e *Engine) StartSimulation(ctx context.Context, actor string) bool {
	if !e.scheduler.Start(ctx) {
		return false
	}
	e.Events.Emit(Notice{Type: EventSimulationChanged, Payload: SimulationEvent{Running: true, Actor: actor}})
	return true
}

func (e *Engine) StopSimulation(actor string) bool {
	if !e.scheduler.Running() {
		return false
	}
	e.scheduler.Stop()
	e.Events.Emit(Notice{Type: EventSimulationChanged, Payload: SimulationEvent{Running: false, Actor: actor}})
	return true
}

func (e *Engine) SimulationStatus() simulation.Status {
	return e.scheduler.Status()
}

// UpdateSimulation applies a runtime config change to the scheduler and the
// offline monitor and persists it when a config path is set.
func (e *Engine) UpdateSimulation(p config.SimulationPatch, actor string) simulation.Status {
	e.scheduler.UpdateConfig(p)
	e.monitor.Reconfigure()
	if e.configPath != "" {
		if err := e.cfg.Save(e.configPath); err != nil {
			e.logFn("engine: save config: %v", err)
		}
	}
	e.changed("simulation", 0, "config_updated", "", actor)
	return e.scheduler.Status()
}

// OperatorJoined registers an authenticated observer connection.
func (e *Engine) OperatorJoined(operatorID int64, connID string) presence.State {
	st := e.presence.Join(operatorID, connID)
	e.presenceChanged(st)
	return st
}

// OperatorLeft drops a connection. changed is false when the connection
// was unknown.
func (e *Engine) OperatorLeft(operatorID int64, connID string) (presence.State, bool) {
	st, changed := e.presence.Leave(operatorID, connID)
	if changed {
		e.presenceChanged(st)
	}
	return st, changed
}

func (e *Engine) SetFocus(operatorID int64, robotID *int64) presence.State {
	st := e.presence.SetFocus(operatorID, robotID)
	e.presenceChanged(st)
	return st
}

func (e *Engine) PresenceState() presence.State {
	return e.presence.Snapshot()
}

func (e *Engine) presenceChanged(st presence.State) {
	e.Events.Emit(Notice{Type: EventPresenceChanged, Payload: PresenceEvent{
		OperatorsOnline: st.OperatorsOnline,
		FocusCounts:     st.FocusCounts,
	}})
}
