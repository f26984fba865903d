package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fleetwatch/geo"
)

// PatrolRoute is the canonical source of a robot's patrol path. At most one
// route per robot is active; robots.patrol_path only mirrors it.
type PatrolRoute struct {
	ID        int64       `json:"id"`
	RobotID   int64       `json:"robot_id"`
	Name      string      `json:"name"`
	Waypoints []geo.Point `json:"waypoints"`
	Direction string      `json:"direction"`
	IsActive  bool        `json:"is_active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

const routeSelectCols = `id, robot_id, name, waypoints, direction, is_active, created_at, updated_at`

// scanRoute returns the partly decoded route alongside a waypoint decode
// error so listings can skip the row.
func scanRoute(row interface{ Scan(...any) error }) (*PatrolRoute, error) {
	var r PatrolRoute
	var waypoints, createdAt, updatedAt any
	if err := row.Scan(&r.ID, &r.RobotID, &r.Name, &waypoints, &r.Direction, &r.IsActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(jsonText(waypoints), &r.Waypoints); err != nil {
		return &r, fmt.Errorf("route %d waypoints: %w", r.ID, err)
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (db *DB) ListRoutes(robotID int64) ([]*PatrolRoute, error) {
	rows, err := db.Query(db.Q(`SELECT `+routeSelectCols+` FROM patrol_routes WHERE robot_id = ? ORDER BY id`), robotID)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()
	var routes []*PatrolRoute
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			if r != nil {
				db.logFn("store: skipping route: %v", err)
				continue
			}
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (db *DB) getRoute(q queryer, robotID, routeID int64) (*PatrolRoute, error) {
	r, err := scanRoute(q.QueryRow(db.Q(`SELECT `+routeSelectCols+` FROM patrol_routes WHERE id = ? AND robot_id = ?`), routeID, robotID))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("route %d", routeID))
	}
	return r, nil
}

func (db *DB) GetRoute(robotID, routeID int64) (*PatrolRoute, error) {
	return db.getRoute(db.DB, robotID, routeID)
}

// mirrorPath writes the read cache of the robot's active path. A nil path
// clears it. The patrol index restarts at 0 either way.
func (db *DB) mirrorPath(tx *sql.Tx, robotID int64, path []geo.Point) error {
	var v any
	if path != nil {
		data, err := json.Marshal(path)
		if err != nil {
			return err
		}
		v = string(data)
	}
	res, err := tx.Exec(db.Q(`UPDATE robots SET patrol_path = ?, patrol_index = 0, updated_at = ? WHERE id = ?`), v, db.ts(db.now()), robotID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("robot %d: %w", robotID, ErrNotFound)
	}
	return nil
}

func (db *DB) deactivateRoutes(tx *sql.Tx, robotID int64) error {
	_, err := tx.Exec(db.Q(`UPDATE patrol_routes SET is_active = ?, updated_at = ? WHERE robot_id = ? AND is_active = ?`),
		false, db.ts(db.now()), robotID, true)
	return err
}

// CreateRoute stores r. An active route replaces the robot's current one.
func (db *DB) CreateRoute(r *PatrolRoute) error {
	waypoints, err := json.Marshal(r.Waypoints)
	if err != nil {
		return fmt.Errorf("encode waypoints: %w", err)
	}
	now := db.now().UTC()
	err = db.withTx(func(tx *sql.Tx) error {
		if r.IsActive {
			if err := db.deactivateRoutes(tx, r.RobotID); err != nil {
				return err
			}
		}
		err := tx.QueryRow(db.Q(`INSERT INTO patrol_routes (robot_id, name, waypoints, direction, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			r.RobotID, r.Name, string(waypoints), r.Direction, r.IsActive, db.ts(now), db.ts(now)).Scan(&r.ID)
		if err != nil {
			return err
		}
		if r.IsActive {
			return db.mirrorPath(tx, r.RobotID, r.Waypoints)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create route: %w", err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

// UpdateRoute rewrites name, waypoints and direction. When the route is
// active the robot's mirrored path is refreshed and its index restarts.
func (db *DB) UpdateRoute(r *PatrolRoute) error {
	waypoints, err := json.Marshal(r.Waypoints)
	if err != nil {
		return fmt.Errorf("encode waypoints: %w", err)
	}
	err = db.withTx(func(tx *sql.Tx) error {
		cur, err := db.getRoute(tx, r.RobotID, r.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(db.Q(`UPDATE patrol_routes SET name = ?, waypoints = ?, direction = ?, updated_at = ? WHERE id = ?`),
			r.Name, string(waypoints), r.Direction, db.ts(db.now()), r.ID); err != nil {
			return err
		}
		r.IsActive = cur.IsActive
		r.CreatedAt = cur.CreatedAt
		if cur.IsActive {
			return db.mirrorPath(tx, r.RobotID, r.Waypoints)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update route: %w", err)
	}
	r.UpdatedAt = db.now().UTC()
	return nil
}

func (db *DB) DeleteRoute(robotID, routeID int64) error {
	err := db.withTx(func(tx *sql.Tx) error {
		cur, err := db.getRoute(tx, robotID, routeID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(db.Q(`DELETE FROM patrol_routes WHERE id = ?`), routeID); err != nil {
			return err
		}
		if cur.IsActive {
			return db.mirrorPath(tx, robotID, nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete route: %w", err)
	}
	return nil
}

// ActivateRoute makes routeID the robot's only active route.
func (db *DB) ActivateRoute(robotID, routeID int64) (*PatrolRoute, error) {
	var out *PatrolRoute
	err := db.withTx(func(tx *sql.Tx) error {
		r, err := db.getRoute(tx, robotID, routeID)
		if err != nil {
			return err
		}
		if err := db.deactivateRoutes(tx, robotID); err != nil {
			return err
		}
		if _, err := tx.Exec(db.Q(`UPDATE patrol_routes SET is_active = ?, updated_at = ? WHERE id = ?`), true, db.ts(db.now()), routeID); err != nil {
			return err
		}
		if err := db.mirrorPath(tx, robotID, r.Waypoints); err != nil {
			return err
		}
		r.IsActive = true
		out = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("activate route: %w", err)
	}
	return out, nil
}

// DeactivateRoutes stops the robot's patrol, returning it to free roam.
func (db *DB) DeactivateRoutes(robotID int64) error {
	err := db.withTx(func(tx *sql.Tx) error {
		if err := db.deactivateRoutes(tx, robotID); err != nil {
			return err
		}
		return db.mirrorPath(tx, robotID, nil)
	})
	if err != nil {
		return fmt.Errorf("deactivate routes: %w", err)
	}
	return nil
}
