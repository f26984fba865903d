package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"fleetwatch/geo"
)

const (
	StatusIdle    = "idle"
	StatusMoving  = "moving"
	StatusOffline = "offline"
)

// ValidStatus reports whether s is a robot status.
func ValidStatus(s string) bool {
	switch s {
	case StatusIdle, StatusMoving, StatusOffline:
		return true
	}
	return false
}

type Robot struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	Status         string      `json:"status"`
	Battery        int         `json:"battery"`
	Lat            float64     `json:"lat"`
	Lon            float64     `json:"lon"`
	Speed          float64     `json:"speed"`
	Heading        float64     `json:"heading"`
	AssignedZoneID *int64      `json:"assigned_zone_id"`
	PatrolIndex    int         `json:"patrol_index"`
	PatrolPath     []geo.Point `json:"patrol_path"` // read cache of the active route
	LastSeen       time.Time   `json:"last_seen"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	ActiveRoute *PatrolRoute `json:"active_route,omitempty"`
}

func (r *Robot) Position() geo.Point { return geo.Point{Lat: r.Lat, Lon: r.Lon} }

// RobotUpdate lists the robot fields a write should change. Nil fields are
// left untouched; last_seen and updated_at are always refreshed.
type RobotUpdate struct {
	Name        *string
	Status      *string
	Battery     *int
	Lat         *float64
	Lon         *float64
	Speed       *float64
	Heading     *float64
	PatrolIndex *int
}

// StatusFlip records one robot moved to offline by MarkStaleOffline.
type StatusFlip struct {
	Robot *Robot
	From  string
}

const robotSelect = `SELECT r.id, r.name, r.status, r.battery, r.lat, r.lon, r.speed, r.heading,
    r.assigned_zone_id, r.patrol_index, r.patrol_path, r.last_seen, r.created_at, r.updated_at,
    pr.id, pr.name, pr.waypoints, pr.direction, pr.created_at, pr.updated_at
  FROM robots r
  LEFT JOIN patrol_routes pr ON pr.robot_id = r.id AND pr.is_active = ?`

func (db *DB) scanRobot(row interface{ Scan(...any) error }) (*Robot, error) {
	var r Robot
	var zoneID sql.NullInt64
	var path, lastSeen, createdAt, updatedAt any
	var routeID sql.NullInt64
	var routeName, routeDir sql.NullString
	var routeWaypoints, routeCreated, routeUpdated any
	err := row.Scan(&r.ID, &r.Name, &r.Status, &r.Battery, &r.Lat, &r.Lon, &r.Speed, &r.Heading,
		&zoneID, &r.PatrolIndex, &path, &lastSeen, &createdAt, &updatedAt,
		&routeID, &routeName, &routeWaypoints, &routeDir, &routeCreated, &routeUpdated)
	if err != nil {
		return nil, err
	}
	if zoneID.Valid {
		id := zoneID.Int64
		r.AssignedZoneID = &id
	}
	if raw := jsonText(path); len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.PatrolPath); err != nil {
			db.logFn("store: robot %d has unreadable patrol_path: %v", r.ID, err)
			r.PatrolPath = nil
		}
	}
	r.LastSeen = parseTime(lastSeen)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	if routeID.Valid {
		route := &PatrolRoute{
			ID:        routeID.Int64,
			RobotID:   r.ID,
			Name:      routeName.String,
			Direction: routeDir.String,
			IsActive:  true,
			CreatedAt: parseTime(routeCreated),
			UpdatedAt: parseTime(routeUpdated),
		}
		if err := json.Unmarshal(jsonText(routeWaypoints), &route.Waypoints); err != nil {
			db.logFn("store: route %d has unreadable waypoints: %v", route.ID, err)
		}
		r.ActiveRoute = route
	}
	return &r, nil
}

func (db *DB) queryRobots(q queryer, where string, args ...any) ([]*Robot, error) {
	query := robotSelect
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY r.id"
	rows, err := q.Query(db.Q(query), append([]any{true}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var robots []*Robot
	for rows.Next() {
		r, err := db.scanRobot(rows)
		if err != nil {
			return nil, err
		}
		robots = append(robots, r)
	}
	return robots, rows.Err()
}

func (db *DB) getRobot(q queryer, id int64) (*Robot, error) {
	r, err := db.scanRobot(q.QueryRow(db.Q(robotSelect+" WHERE r.id = ?"), true, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("robot %d", id))
	}
	return r, nil
}

func (db *DB) GetRobot(id int64) (*Robot, error) {
	return db.getRobot(db.DB, id)
}

func (db *DB) ListRobots() ([]*Robot, error) {
	return db.queryRobots(db.DB, "")
}

func (db *DB) CreateRobot(name string, pos geo.Point, battery int) (*Robot, error) {
	now := db.ts(db.now())
	var id int64
	err := db.QueryRow(db.Q(`INSERT INTO robots (name, status, battery, lat, lon, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		name, StatusIdle, battery, pos.Lat, pos.Lon, now, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create robot: %w", err)
	}
	return db.GetRobot(id)
}

func (db *DB) DeleteRobot(id int64) error {
	res, err := db.Exec(db.Q(`DELETE FROM robots WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete robot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) updateRobot(q queryer, id int64, u RobotUpdate) error {
	now := db.ts(db.now())
	sets := []string{"last_seen = ?", "updated_at = ?"}
	args := []any{now, now}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Battery != nil {
		add("battery", *u.Battery)
	}
	if u.Lat != nil {
		add("lat", *u.Lat)
	}
	if u.Lon != nil {
		add("lon", *u.Lon)
	}
	if u.Speed != nil {
		add("speed", *u.Speed)
	}
	if u.Heading != nil {
		add("heading", *u.Heading)
	}
	if u.PatrolIndex != nil {
		add("patrol_index", *u.PatrolIndex)
	}
	args = append(args, id)
	res, err := q.Exec(db.Q(`UPDATE robots SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("robot %d: %w", id, ErrNotFound)
	}
	return nil
}

// SaveRobotState applies u and returns the stored robot.
func (db *DB) SaveRobotState(id int64, u RobotUpdate) (*Robot, error) {
	return db.ApplyMovement(id, u, false)
}

// ApplyMovement applies u and, when sample is set, appends a position sample
// of the resulting state. Both writes commit together or not at all.
func (db *DB) ApplyMovement(id int64, u RobotUpdate, sample bool) (*Robot, error) {
	var out *Robot
	err := db.withTx(func(tx *sql.Tx) error {
		if err := db.updateRobot(tx, id, u); err != nil {
			return err
		}
		r, err := db.getRobot(tx, id)
		if err != nil {
			return err
		}
		if sample {
			if err := db.insertPosition(tx, PositionSample{
				RobotID: r.ID, Lat: r.Lat, Lon: r.Lon, Battery: r.Battery,
				Speed: r.Speed, Heading: r.Heading, Timestamp: r.LastSeen,
			}); err != nil {
				return err
			}
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save robot %d: %w", id, err)
	}
	return out, nil
}

// AssignZone sets or clears (zoneID nil) the robot's assigned zone.
func (db *DB) AssignZone(robotID int64, zoneID *int64) (*Robot, error) {
	var v any
	if zoneID != nil {
		v = *zoneID
	}
	res, err := db.Exec(db.Q(`UPDATE robots SET assigned_zone_id = ?, updated_at = ? WHERE id = ?`), v, db.ts(db.now()), robotID)
	if err != nil {
		return nil, fmt.Errorf("assign zone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("robot %d: %w", robotID, ErrNotFound)
	}
	return db.GetRobot(robotID)
}

func excluded(robots []*Robot, excluding map[int64]bool) []*Robot {
	if len(excluding) == 0 {
		return robots
	}
	out := robots[:0]
	for _, r := range robots {
		if !excluding[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// LoadRobotsEligibleForTick returns free-roaming robots: online, without an
// active patrol route and not in excluding.
func (db *DB) LoadRobotsEligibleForTick(excluding map[int64]bool) ([]*Robot, error) {
	robots, err := db.queryRobots(db.DB, "r.status <> ? AND pr.id IS NULL", StatusOffline)
	if err != nil {
		return nil, fmt.Errorf("load tick robots: %w", err)
	}
	return excluded(robots, excluding), nil
}

// LoadPatrolRobots returns online robots with battery above minBattery and an
// active patrol route, skipping those in excluding.
func (db *DB) LoadPatrolRobots(minBattery int, excluding map[int64]bool) ([]*Robot, error) {
	robots, err := db.queryRobots(db.DB, "r.status <> ? AND r.battery > ? AND pr.id IS NOT NULL", StatusOffline, minBattery)
	if err != nil {
		return nil, fmt.Errorf("load patrol robots: %w", err)
	}
	return excluded(robots, excluding), nil
}

// WakeRobots marks every robot idle and seen now. It returns the number of
// robots touched.
func (db *DB) WakeRobots() (int64, error) {
	now := db.ts(db.now())
	res, err := db.Exec(db.Q(`UPDATE robots SET status = ?, speed = 0, last_seen = ?, updated_at = ?`), StatusIdle, now, now)
	if err != nil {
		return 0, fmt.Errorf("wake robots: %w", err)
	}
	return res.RowsAffected()
}

// MarkStaleOffline moves robots last seen before cutoff to offline. The
// update is conditional per row, so a robot already offline (or refreshed
// in the meantime) is never reported twice.
func (db *DB) MarkStaleOffline(cutoff time.Time) ([]StatusFlip, error) {
	rows, err := db.Query(db.Q(`SELECT id, status FROM robots WHERE status <> ? AND last_seen < ?`), StatusOffline, db.ts(cutoff))
	if err != nil {
		return nil, fmt.Errorf("find stale robots: %w", err)
	}
	type candidate struct {
		id     int64
		status string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.status); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var flips []StatusFlip
	for _, c := range candidates {
		res, err := db.Exec(db.Q(`UPDATE robots SET status = ?, speed = 0, updated_at = ?
			WHERE id = ? AND status <> ? AND last_seen < ?`),
			StatusOffline, db.ts(db.now()), c.id, StatusOffline, db.ts(cutoff))
		if err != nil {
			db.logFn("store: mark robot %d offline: %v", c.id, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		r, err := db.GetRobot(c.id)
		if err != nil {
			db.logFn("store: reload robot %d: %v", c.id, err)
			continue
		}
		flips = append(flips, StatusFlip{Robot: r, From: c.status})
	}
	return flips, nil
}
