package patrol

import (
	"errors"
	"math"
	"sync"
	"testing"

	"fleetwatch/geo"
	"fleetwatch/store"
)

var square = []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}}

func TestNormalizeWaypoints(t *testing.T) {
	in := []geo.Point{{Lat: 0, Lon: 0}, {Lat: math.NaN(), Lon: 1}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 0, Lon: 0}}
	got := NormalizeWaypoints(in)
	want := []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := ValidateWaypoints([]geo.Point{{Lat: 1, Lon: 1}, {Lat: 1, Lon: 1}}); err == nil {
		t.Error("route that closes onto itself should be rejected")
	}
	if _, err := ValidateWaypoints([]geo.Point{{Lat: 91, Lon: 0}, {Lat: 0, Lon: 0}}); err == nil {
		t.Error("out-of-range waypoint should be rejected")
	}
}

func TestNormalizeDirection(t *testing.T) {
	tests := map[string]Direction{
		"ccw":               CounterClockwise,
		"CounterClockwise":  CounterClockwise,
		"counter-clockwise": CounterClockwise,
		"cw":                Clockwise,
		"":                  Clockwise,
		"sideways":          Clockwise,
	}
	for in, want := range tests {
		if got := NormalizeDirection(in); got != want {
			t.Errorf("NormalizeDirection(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStepCyclesClockwise(t *testing.T) {
	p := Params{Step: 0.25, Speed: 1.5}
	s := State{Position: geo.Point{Lat: 0, Lon: 0}, Index: 0}
	var seen []int
	last := s.Index
	for i := 0; i < 40 && len(seen) < 5; i++ {
		res, ok := Step(s, square, Clockwise, p)
		if !ok {
			t.Fatal("step refused a valid route")
		}
		if !res.Position.Finite() || math.IsNaN(res.Heading) {
			t.Fatalf("tick %d produced non-finite state %+v", i, res)
		}
		if res.Speed != 1.5 {
			t.Errorf("Speed = %v", res.Speed)
		}
		if res.Index != last {
			if want := (last + 1) % len(square); res.Index != want {
				t.Fatalf("index jumped %d -> %d, want %d", last, res.Index, want)
			}
			seen = append(seen, res.Index)
			last = res.Index
		}
		s = State{Position: res.Position, Heading: res.Heading, Index: res.Index}
	}
	want := []int{1, 2, 3, 0, 1}
	for i := range want {
		if i >= len(seen) || seen[i] != want[i] {
			t.Fatalf("index sequence = %v, want prefix %v", seen, want)
		}
	}
}

func TestStepCounterClockwise(t *testing.T) {
	p := Params{Step: 0.25, Speed: 1}
	res, _ := Step(State{Position: square[0], Index: 0}, square, CounterClockwise, p)
	if res.Index != 3 {
		t.Fatalf("ccw from index 0 -> %d, want 3", res.Index)
	}
	res, _ = Step(State{Position: res.Position, Index: res.Index}, square, CounterClockwise, p)
	// Heading toward (1,0) from (0,0) is due north.
	if math.Abs(res.Heading) > 1e-9 {
		t.Errorf("heading = %v, want 0", res.Heading)
	}
}

func TestStepInertRoutes(t *testing.T) {
	p := Params{Step: 0.1}
	if _, ok := Step(State{}, []geo.Point{{Lat: 1, Lon: 1}}, Clockwise, p); ok {
		t.Error("single waypoint route should be inert")
	}
	if _, ok := Step(State{}, []geo.Point{{Lat: 1, Lon: 1}, {Lat: 1, Lon: 1}}, Clockwise, p); ok {
		t.Error("closed two-point route collapses to one waypoint and should be inert")
	}
}

func TestRejoinReducesDistance(t *testing.T) {
	p := Params{Step: 0.05, Speed: 1.5}
	s := State{Position: geo.Point{Lat: 3, Lon: 0.5}, Index: 2}
	threshold := rejoinFactor * p.Step
	prev := DistanceToPath(s.Position, square)
	rejoined := false
	for i := 0; i < 200; i++ {
		res, ok := Step(s, square, Clockwise, p)
		if !ok {
			t.Fatal("step refused")
		}
		d := DistanceToPath(res.Position, square)
		if !rejoined {
			if !res.Rejoining {
				t.Fatalf("tick %d: not rejoining at distance %v", i, prev)
			}
			if d >= prev {
				t.Fatalf("tick %d: distance %v did not shrink from %v", i, d, prev)
			}
			if d <= threshold {
				rejoined = true
				// Nearest point lies on the (1,1)->(1,0) segment, so cw resumes at 3.
				if res.Arrived && res.Rejoining && res.Index != 3 {
					t.Errorf("rejoin index = %d, want 3", res.Index)
				}
			}
		} else if res.Rejoining {
			t.Fatalf("tick %d: fell back into rejoin after reaching the path", i)
		}
		prev = d
		s = State{Position: res.Position, Heading: res.Heading, Index: res.Index}
	}
	if !rejoined {
		t.Fatal("robot never rejoined its path")
	}
}

type fakeStore struct {
	mu     sync.Mutex
	robots map[int64]*store.Robot
	fail   map[int64]bool
	saved  int
}

func (f *fakeStore) LoadPatrolRobots(minBattery int, excluding map[int64]bool) ([]*store.Robot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Robot
	for _, r := range f.robots {
		if r.ActiveRoute != nil && r.Status != store.StatusOffline && r.Battery > minBattery && !excluding[r.ID] {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRobot(id int64) (*store.Robot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.robots[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeStore) ApplyMovement(id int64, u store.RobotUpdate, _ bool) (*store.Robot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return nil, errors.New("disk full")
	}
	r := f.robots[id]
	r.Status, r.Lat, r.Lon, r.Speed, r.Heading, r.PatrolIndex = *u.Status, *u.Lat, *u.Lon, *u.Speed, *u.Heading, *u.PatrolIndex
	f.saved++
	c := *r
	return &c, nil
}

type fakeGuard struct{ reserved map[int64]bool }

func (g fakeGuard) Reserved() map[int64]bool { return g.reserved }
func (g fakeGuard) Guard(id int64) (func(), bool) {
	if g.reserved[id] {
		return nil, false
	}
	return func() {}, true
}

type recorder struct {
	moved      []int64
	violations int
}

func (r *recorder) RobotMoved(robot *store.Robot, v []geo.Violation) {
	r.moved = append(r.moved, robot.ID)
	r.violations += len(v)
}

func patrolRobot(id int64, battery int) *store.Robot {
	return &store.Robot{ID: id, Status: store.StatusIdle, Battery: battery,
		ActiveRoute: &store.PatrolRoute{ID: id, RobotID: id, Direction: "cw", IsActive: true, Waypoints: square}}
}

func TestFollowerTick(t *testing.T) {
	fs := &fakeStore{
		robots: map[int64]*store.Robot{
			1: patrolRobot(1, 80),
			2: patrolRobot(2, 80), // reserved by dispatch
			3: patrolRobot(3, 5),  // battery too low
			4: patrolRobot(4, 80), // persistence fails
		},
		fail: map[int64]bool{4: true},
	}
	rec := &recorder{}
	zones := []geo.Zone{{ID: 9, Type: geo.ZoneWarning, Enabled: true,
		Geometry: geo.CircleGeometry(geo.Point{Lat: 0, Lon: 0}, 100000)}}
	f := NewFollower(fs, fakeGuard{reserved: map[int64]bool{2: true}}, rec,
		func() Params { return Params{Step: 0.25, Speed: 1.5} }, t.Logf)

	if n := f.Tick(zones); n != 1 {
		t.Fatalf("moved = %d, want 1", n)
	}
	if len(rec.moved) != 1 || rec.moved[0] != 1 {
		t.Errorf("emitted = %v, want [1]", rec.moved)
	}
	if rec.violations != 1 {
		t.Errorf("violations = %d, want 1", rec.violations)
	}
	r, _ := fs.GetRobot(1)
	if r.Status != store.StatusMoving || r.PatrolIndex != 1 || r.Speed != 1.5 {
		t.Errorf("robot after tick = %+v", r)
	}
	untouched, _ := fs.GetRobot(2)
	if untouched.Status != store.StatusIdle || untouched.PatrolIndex != 0 {
		t.Errorf("reserved robot changed: %+v", untouched)
	}
}
