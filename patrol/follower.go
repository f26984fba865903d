package patrol

import (
	"log"

	"fleetwatch/geo"
	"fleetwatch/store"
)

type LogFunc func(format string, args ...any)

// MinBattery is the battery level at or below which a robot stops patrolling.
const MinBattery = 5

// Store is the persistence the follower needs.
type Store interface {
	LoadPatrolRobots(minBattery int, excluding map[int64]bool) ([]*store.Robot, error)
	GetRobot(id int64) (*store.Robot, error)
	ApplyMovement(id int64, u store.RobotUpdate, sample bool) (*store.Robot, error)
}

// Guard serialises controllers per robot and exposes dispatch reservations.
type Guard interface {
	Reserved() map[int64]bool
	Guard(robotID int64) (release func(), ok bool)
}

// Emitter receives every persisted patrol move.
type Emitter interface {
	RobotMoved(r *store.Robot, violations []geo.Violation)
}

type Follower struct {
	store   Store
	guard   Guard
	emitter Emitter
	params  func() Params
	logFn   LogFunc
}

func NewFollower(s Store, g Guard, e Emitter, params func() Params, logFn LogFunc) *Follower {
	if logFn == nil {
		logFn = log.Printf
	}
	return &Follower{store: s, guard: g, emitter: e, params: params, logFn: logFn}
}

// Tick moves every eligible patrol robot one step and returns how many moved.
// Errors on one robot are logged and do not affect the others.
func (f *Follower) Tick(zones []geo.Zone) int {
	robots, err := f.store.LoadPatrolRobots(MinBattery, f.guard.Reserved())
	if err != nil {
		f.logFn("patrol: load robots: %v", err)
		return 0
	}
	p := f.params()
	moved := 0
	for _, r := range robots {
		if f.advance(r.ID, p, zones) {
			moved++
		}
	}
	return moved
}

func (f *Follower) advance(id int64, p Params, zones []geo.Zone) bool {
	release, ok := f.guard.Guard(id)
	if !ok {
		return false
	}
	defer release()

	// Re-read under the guard; the batch load may be stale.
	r, err := f.store.GetRobot(id)
	if err != nil {
		f.logFn("patrol: robot %d: %v", id, err)
		return false
	}
	if r.Status == store.StatusOffline || r.Battery <= MinBattery || r.ActiveRoute == nil {
		return false
	}
	route := r.ActiveRoute
	res, ok := Step(State{Position: r.Position(), Heading: r.Heading, Index: r.PatrolIndex},
		route.Waypoints, NormalizeDirection(route.Direction), p)
	if !ok {
		return false
	}

	status := store.StatusMoving
	updated, err := f.store.ApplyMovement(id, store.RobotUpdate{
		Status:      &status,
		Lat:         &res.Position.Lat,
		Lon:         &res.Position.Lon,
		Speed:       &res.Speed,
		Heading:     &res.Heading,
		PatrolIndex: &res.Index,
	}, true)
	if err != nil {
		f.logFn("patrol: save robot %d: %v", id, err)
		return false
	}
	f.emitter.RobotMoved(updated, geo.Evaluate(updated.Position(), zones))
	return true
}
