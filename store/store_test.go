package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetwatch/config"
	"fleetwatch/geo"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: dbPath},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func ptr[T any](v T) *T { return &v }

// --- Robot tests ---

func TestRobotCRUD(t *testing.T) {
	db := testDB(t)

	r, err := db.CreateRobot("Scout-1", geo.Point{Lat: 52.52, Lon: 13.405}, 90)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID == 0 {
		t.Fatal("ID should be assigned")
	}
	if r.Status != StatusIdle || r.Battery != 90 {
		t.Errorf("new robot = %+v", r)
	}

	got, err := db.SaveRobotState(r.ID, RobotUpdate{Status: ptr(StatusMoving), Lat: ptr(52.53), Speed: ptr(2.5)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.Status != StatusMoving || got.Lat != 52.53 || got.Lon != 13.405 || got.Speed != 2.5 {
		t.Errorf("saved robot = %+v", got)
	}

	list, err := db.ListRobots()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list len = %d, want 1", len(list))
	}

	if err := db.DeleteRobot(r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.GetRobot(r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
	if _, err := db.SaveRobotState(r.ID, RobotUpdate{Battery: ptr(5)}); !errors.Is(err, ErrNotFound) {
		t.Errorf("save missing robot err = %v, want ErrNotFound", err)
	}
}

func TestApplyMovementRecordsSample(t *testing.T) {
	db := testDB(t)
	r, _ := db.CreateRobot("R", geo.Point{Lat: 1, Lon: 1}, 50)

	if _, err := db.ApplyMovement(r.ID, RobotUpdate{Lat: ptr(1.001), Lon: ptr(1.002), Battery: ptr(49)}, true); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := db.ApplyMovement(r.ID, RobotUpdate{Status: ptr(StatusIdle)}, false); err != nil {
		t.Fatalf("apply no sample: %v", err)
	}
	samples, err := db.ListPositions(r.ID, time.Now().Add(-time.Minute), time.Time{}, 0)
	if err != nil {
		t.Fatalf("positions: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(samples))
	}
	if samples[0].Lat != 1.001 || samples[0].Lon != 1.002 || samples[0].Battery != 49 {
		t.Errorf("sample = %+v", samples[0])
	}
}

func TestMarkStaleOfflineIdempotent(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return base }
	stale, _ := db.CreateRobot("stale", geo.Point{}, 80)

	db.now = func() time.Time { return base.Add(30 * time.Second) }
	fresh, _ := db.CreateRobot("fresh", geo.Point{}, 80)

	cutoff := base.Add(20 * time.Second)
	flips, err := db.MarkStaleOffline(cutoff)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if len(flips) != 1 || flips[0].Robot.ID != stale.ID || flips[0].From != StatusIdle {
		t.Fatalf("flips = %+v, want only the stale robot", flips)
	}
	if flips[0].Robot.Status != StatusOffline {
		t.Errorf("flipped status = %q", flips[0].Robot.Status)
	}

	again, err := db.MarkStaleOffline(cutoff)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second run flipped %d robots, want 0", len(again))
	}
	got, _ := db.GetRobot(fresh.ID)
	if got.Status != StatusIdle {
		t.Errorf("fresh robot status = %q", got.Status)
	}
}

// --- Route tests ---

func TestSingleActiveRoute(t *testing.T) {
	db := testDB(t)
	r, _ := db.CreateRobot("P", geo.Point{}, 100)

	first := &PatrolRoute{RobotID: r.ID, Name: "A", Direction: "cw", IsActive: true,
		Waypoints: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}}
	if err := db.CreateRoute(first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	second := &PatrolRoute{RobotID: r.ID, Name: "B", Direction: "ccw", IsActive: true,
		Waypoints: []geo.Point{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}, {Lat: 1, Lon: 2}}}
	if err := db.CreateRoute(second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	routes, err := db.ListRoutes(r.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	active := 0
	for _, rt := range routes {
		if rt.IsActive {
			active++
			if rt.ID != second.ID {
				t.Errorf("active route = %d, want %d", rt.ID, second.ID)
			}
		}
	}
	if active != 1 {
		t.Fatalf("active routes = %d, want 1", active)
	}

	robot, _ := db.GetRobot(r.ID)
	if robot.ActiveRoute == nil || robot.ActiveRoute.ID != second.ID {
		t.Fatalf("robot active route = %+v", robot.ActiveRoute)
	}
	if len(robot.PatrolPath) != 3 || robot.PatrolIndex != 0 {
		t.Errorf("mirrored path = %v index %d", robot.PatrolPath, robot.PatrolIndex)
	}

	idx := 2
	if _, err := db.SaveRobotState(r.ID, RobotUpdate{PatrolIndex: &idx}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ActivateRoute(r.ID, first.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	robot, _ = db.GetRobot(r.ID)
	if robot.PatrolIndex != 0 || len(robot.PatrolPath) != 2 || robot.ActiveRoute.Name != "A" {
		t.Errorf("after activate: index %d path %v route %+v", robot.PatrolIndex, robot.PatrolPath, robot.ActiveRoute)
	}

	if err := db.DeactivateRoutes(r.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	robot, _ = db.GetRobot(r.ID)
	if robot.ActiveRoute != nil || robot.PatrolPath != nil {
		t.Errorf("after deactivate: %+v", robot)
	}
	eligible, err := db.LoadRobotsEligibleForTick(nil)
	if err != nil || len(eligible) != 1 {
		t.Errorf("eligible = %d err %v, want free-roam robot back", len(eligible), err)
	}
}

func TestTickEligibility(t *testing.T) {
	db := testDB(t)
	roam, _ := db.CreateRobot("roam", geo.Point{}, 100)
	patrol, _ := db.CreateRobot("patrol", geo.Point{}, 100)
	low, _ := db.CreateRobot("low", geo.Point{}, 5)
	off, _ := db.CreateRobot("off", geo.Point{}, 100)
	db.SaveRobotState(off.ID, RobotUpdate{Status: ptr(StatusOffline)})
	for _, id := range []int64{patrol.ID, low.ID} {
		if err := db.CreateRoute(&PatrolRoute{RobotID: id, Name: "loop", Direction: "cw", IsActive: true,
			Waypoints: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}}); err != nil {
			t.Fatal(err)
		}
	}

	free, _ := db.LoadRobotsEligibleForTick(nil)
	if len(free) != 1 || free[0].ID != roam.ID {
		t.Errorf("free roam = %v", ids(free))
	}
	free, _ = db.LoadRobotsEligibleForTick(map[int64]bool{roam.ID: true})
	if len(free) != 0 {
		t.Errorf("excluded robot still eligible: %v", ids(free))
	}
	patrolling, _ := db.LoadPatrolRobots(5, nil)
	if len(patrolling) != 1 || patrolling[0].ID != patrol.ID {
		t.Errorf("patrol robots = %v", ids(patrolling))
	}
	if patrolling[0].ActiveRoute == nil || len(patrolling[0].ActiveRoute.Waypoints) != 2 {
		t.Errorf("patrol robot route = %+v", patrolling[0].ActiveRoute)
	}
}

func ids(robots []*Robot) []int64 {
	var out []int64
	for _, r := range robots {
		out = append(out, r.ID)
	}
	return out
}

// --- Zone tests ---

func TestZonesSkipCorruptGeometry(t *testing.T) {
	db := testDB(t)
	z := &Zone{Zone: geo.Zone{Name: "Yard", Type: geo.ZoneRestricted, Enabled: true,
		Geometry: geo.CircleGeometry(geo.Point{Lat: 51.34, Lon: 12.45}, 50)}}
	if err := db.CreateZone(z); err != nil {
		t.Fatalf("create: %v", err)
	}
	off := &Zone{Zone: geo.Zone{Name: "Off", Type: geo.ZoneWarning, Enabled: false,
		Geometry: geo.PolygonGeometry(geo.Point{}, geo.Point{Lat: 0, Lon: 1}, geo.Point{Lat: 1, Lon: 1})}}
	if err := db.CreateZone(off); err != nil {
		t.Fatalf("create disabled: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO zones (name, type, geometry, enabled, created_at, updated_at) VALUES ('bad', 'restricted', '{oops', 1, '', '')`); err != nil {
		t.Fatal(err)
	}

	zones, err := db.ListZones()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(zones) != 2 {
		t.Errorf("zones = %d, want 2 (corrupt one skipped)", len(zones))
	}
	active, err := db.LoadActiveZones()
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != z.ID {
		t.Fatalf("active zones = %+v", active)
	}
	if active[0].Geometry.Kind != geo.KindCircle || active[0].Geometry.Circle.Radius != 50 {
		t.Errorf("geometry = %+v", active[0].Geometry)
	}
}

func TestRoutesSkipCorruptWaypoints(t *testing.T) {
	db := testDB(t)
	var skipped []string
	db.SetLogFunc(func(format string, args ...any) { skipped = append(skipped, format) })
	r, _ := db.CreateRobot("P", geo.Point{}, 100)

	good := &PatrolRoute{RobotID: r.ID, Name: "A", Direction: "cw",
		Waypoints: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}}}
	if err := db.CreateRoute(good); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO patrol_routes (robot_id, name, waypoints, direction, is_active, created_at, updated_at) VALUES (?, 'bad', '[[oops', 'cw', 0, '', '')`, r.ID); err != nil {
		t.Fatal(err)
	}

	routes, err := db.ListRoutes(r.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(routes) != 1 || routes[0].ID != good.ID {
		t.Errorf("routes = %+v, want only %d", routes, good.ID)
	}
	if len(skipped) != 1 {
		t.Errorf("skip warnings = %d, want 1", len(skipped))
	}
}

// --- Event tests ---

func TestEventsFilterAndCount(t *testing.T) {
	db := testDB(t)
	r, _ := db.CreateRobot("E", geo.Point{}, 100)
	data, _ := json.Marshal(map[string]any{"from": "idle", "to": "offline"})
	for i := 0; i < 3; i++ {
		e := &Event{RobotID: &r.ID, Type: EventStatusChange, Severity: SeverityError, Message: "went offline", Data: data}
		if err := db.AppendEvent(e); err != nil {
			t.Fatalf("append: %v", err)
		}
		if e.ID == 0 {
			t.Fatal("event ID should be assigned")
		}
	}
	if err := db.AppendEvent(&Event{Type: EventAlarmTriggered, Severity: SeverityCritical, Message: "alarm"}); err != nil {
		t.Fatal(err)
	}

	events, total, err := db.ListEvents(EventFilter{RobotID: &r.ID, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(events) != 2 {
		t.Errorf("total %d len %d, want 3 and 2", total, len(events))
	}
	if events[0].RobotName != "E" {
		t.Errorf("RobotName = %q", events[0].RobotName)
	}
	var payload map[string]string
	if err := json.Unmarshal(events[0].Data, &payload); err != nil || payload["to"] != "offline" {
		t.Errorf("data = %s (%v)", events[0].Data, err)
	}

	crit, total, _ := db.ListEvents(EventFilter{Severity: SeverityCritical})
	if total != 1 || crit[0].RobotID != nil {
		t.Errorf("critical events = %+v", crit)
	}

	// Deleting the robot keeps its events with a null robot.
	db.DeleteRobot(r.ID)
	got, err := db.GetEvent(events[0].ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.RobotID != nil {
		t.Errorf("robot_id after delete = %v", *got.RobotID)
	}
}

// --- Operator / audit tests ---

func TestOperatorsAndAudit(t *testing.T) {
	db := testDB(t)
	o, err := db.CreateOperator(" Admin@Test.com ", "Admin", "hash")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := db.GetOperatorByEmail("admin@test.com")
	if err != nil || got.ID != o.ID {
		t.Fatalf("by email = %+v, %v", got, err)
	}
	if _, err := db.CreateOperator("admin@test.com", "dup", "x"); err == nil {
		t.Error("duplicate email should fail")
	}
	if _, err := db.GetOperatorByEmail("nobody@test.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing operator err = %v", err)
	}

	if err := db.AppendAudit("robot", 7, "dispatch", "to (1, 2)", "admin@test.com"); err != nil {
		t.Fatal(err)
	}
	entries, err := db.ListAuditLog(10)
	if err != nil || len(entries) != 1 || entries[0].Action != "dispatch" {
		t.Errorf("audit = %+v, %v", entries, err)
	}
}
