package engine

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"fleetwatch/dispatch"
	"fleetwatch/geo"
	"fleetwatch/store"
)

const (
	MaxRobotNameLength = 100
	manualMoveRadius   = 0.001
	trailLimit         = 1000
	historyLimit       = 5000
)

// DefaultRobotPosition is where a robot created without coordinates starts.
var DefaultRobotPosition = geo.Point{Lat: 52.52, Lon: 13.405}

type NewRobot struct {
	Name string
	Lat  *float64
	Lon  *float64
}

type RobotPatch struct {
	Name    *string `json:"name"`
	Status  *string `json:"status"`
	Battery *int    `json:"battery"`
}

// ListRobots reads the robot list through the cache.
func (e *Engine) ListRobots(ctx context.Context) ([]*store.Robot, error) {
	return e.cache.List(ctx)
}

func (e *Engine) GetRobot(id int64) (*store.Robot, error) {
	return e.db.GetRobot(id)
}

func (e *Engine) CreateRobot(in NewRobot, actor string) (*store.Robot, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("Robot name required")
	}
	if len(name) > MaxRobotNameLength {
		return nil, invalid("Robot name too long")
	}
	pos := DefaultRobotPosition
	if in.Lat != nil {
		pos.Lat = *in.Lat
	}
	if in.Lon != nil {
		pos.Lon = *in.Lon
	}
	if !pos.Finite() || !pos.Valid() {
		return nil, invalid("Invalid coordinates")
	}
	r, err := e.db.CreateRobot(name, pos, 100)
	if err != nil {
		return nil, err
	}
	e.cache.Invalidate(context.Background())
	e.changed("robot", r.ID, "created", name, actor)
	return r, nil
}

func (e *Engine) UpdateRobot(id int64, p RobotPatch, actor string) (*store.Robot, error) {
	if p.Name == nil && p.Status == nil && p.Battery == nil {
		return nil, invalid("No updates provided")
	}
	u := store.RobotUpdate{Name: p.Name, Status: p.Status, Battery: p.Battery}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" || len(name) > MaxRobotNameLength {
			return nil, invalid("Robot name must be 1-%d characters", MaxRobotNameLength)
		}
		u.Name = &name
	}
	if p.Status != nil && !store.ValidStatus(*p.Status) {
		return nil, invalid("Invalid status")
	}
	if p.Battery != nil && (*p.Battery < 0 || *p.Battery > 100) {
		return nil, invalid("Battery must be between 0 and 100")
	}

	unlock := e.registry.Lock(id)
	r, err := e.db.SaveRobotState(id, u)
	unlock()
	if err != nil {
		return nil, err
	}
	e.Events.Emit(Notice{Type: EventRobotUpdated, Payload: RobotUpdatedEvent{Robot: r}})
	e.changed("robot", id, "updated", "", actor)
	return r, nil
}

func (e *Engine) DeleteRobot(id int64, actor string) error {
	if e.dispatcher.IsActive(id) {
		return dispatch.ErrAlreadyDispatching
	}
	if err := e.db.DeleteRobot(id); err != nil {
		return err
	}
	e.registry.Forget(id)
	e.cache.Invalidate(context.Background())
	e.changed("robot", id, "deleted", "", actor)
	return nil
}

// MoveRobot nudges a robot to a random nearby point, the same way a single
// free-roam step would, and runs geofencing on the result. The first move of
// a robot with no history also records where it started.
func (e *Engine) MoveRobot(id int64) (*store.Robot, error) {
	release, ok := e.registry.Guard(id)
	if !ok {
		return nil, dispatch.ErrAlreadyDispatching
	}
	defer release()

	r, err := e.db.GetRobot(id)
	if err != nil {
		return nil, err
	}
	from := r.Position()
	to := geo.Point{
		Lat: from.Lat + (rand.Float64()-0.5)*manualMoveRadius*2,
		Lon: from.Lon + (rand.Float64()-0.5)*manualMoveRadius*2,
	}
	speed := rand.Float64() * 5
	heading := geo.Bearing(from, to)
	status := store.StatusMoving

	has, err := e.db.HasPositions(id)
	if err != nil {
		return nil, err
	}
	if !has {
		err := e.db.AppendPositionSample(store.PositionSample{
			RobotID: id, Lat: from.Lat, Lon: from.Lon, Battery: r.Battery,
			Heading: r.Heading, Timestamp: time.Now().Add(-time.Second),
		})
		if err != nil {
			return nil, err
		}
	}

	updated, err := e.db.ApplyMovement(id, store.RobotUpdate{
		Status: &status, Lat: &to.Lat, Lon: &to.Lon, Speed: &speed, Heading: &heading,
	}, true)
	if err != nil {
		return nil, err
	}
	zones, err := e.db.LoadActiveZones()
	if err != nil {
		e.logFn("engine: move robot %d: load zones: %v", id, err)
	}
	em := &robotEmitter{e: e}
	em.RobotMoved(updated, geo.Evaluate(updated.Position(), zones))
	return updated, nil
}

// Trail returns the robot's samples from the last duration, oldest first.
func (e *Engine) Trail(id int64, duration time.Duration) ([]*store.PositionSample, error) {
	if duration <= 0 {
		duration = time.Minute
	}
	return e.db.ListPositions(id, time.Now().Add(-duration), time.Time{}, trailLimit)
}

// History returns the robot's samples from the last minutes (at least one).
func (e *Engine) History(id int64, minutes int) ([]*store.PositionSample, int, error) {
	if minutes < 1 {
		minutes = 5
	}
	pts, err := e.db.ListPositions(id, time.Now().Add(-time.Duration(minutes)*time.Minute), time.Time{}, historyLimit)
	return pts, minutes, err
}

// AssignZone sets the robot's assigned zone; nil clears it.
func (e *Engine) AssignZone(robotID int64, zoneID *int64, actor string) (*store.Robot, error) {
	if zoneID != nil {
		if _, err := e.db.GetZone(*zoneID); err != nil {
			return nil, err
		}
	}
	r, err := e.db.AssignZone(robotID, zoneID)
	if err != nil {
		return nil, err
	}
	e.Events.Emit(Notice{Type: EventRobotUpdated, Payload: RobotUpdatedEvent{Robot: r}})
	e.changed("robot", robotID, "zone_assigned", "", actor)
	return r, nil
}

// RobotReplay is one robot's track for the replay API.
type RobotReplay struct {
	RobotID   int64                   `json:"robot_id"`
	RobotName string                  `json:"robot_name"`
	Positions []*store.PositionSample `json:"positions"`
}

// Replay returns the samples recorded in [from, to], grouped by robot in id
// order. Robots without samples in the window are left out.
func (e *Engine) Replay(from, to time.Time) ([]RobotReplay, error) {
	robots, err := e.db.ListRobots()
	if err != nil {
		return nil, err
	}
	samples, err := e.db.ListPositions(0, from, to, 0)
	if err != nil {
		return nil, err
	}
	byRobot := make(map[int64][]*store.PositionSample)
	for _, s := range samples {
		byRobot[s.RobotID] = append(byRobot[s.RobotID], s)
	}
	out := make([]RobotReplay, 0, len(byRobot))
	for _, r := range robots {
		if pts := byRobot[r.ID]; len(pts) > 0 {
			out = append(out, RobotReplay{RobotID: r.ID, RobotName: r.Name, Positions: pts})
		}
	}
	return out, nil
}

// ReplayRobot returns one robot's samples in [from, to].
func (e *Engine) ReplayRobot(id int64, from, to time.Time) ([]*store.PositionSample, error) {
	if _, err := e.db.GetRobot(id); err != nil {
		return nil, err
	}
	return e.db.ListPositions(id, from, to, 0)
}

// changed announces an operator change for the audit log.
func (e *Engine) changed(entity string, id int64, action, detail, actor string) {
	e.Events.Emit(Notice{Type: EventEntityChanged, Payload: EntityChangedEvent{
		Entity: entity, ID: id, Action: action, Detail: detail, Actor: actor,
	}})
}
