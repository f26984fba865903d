package store

import (
	"fmt"
	"time"
)

type PositionSample struct {
	RobotID   int64     `json:"robot_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Battery   int       `json:"battery"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

func (db *DB) insertPosition(q queryer, s PositionSample) error {
	if s.Timestamp.IsZero() {
		s.Timestamp = db.now()
	}
	_, err := q.Exec(db.Q(`INSERT INTO robot_positions (robot_id, lat, lon, battery, speed, heading, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		s.RobotID, s.Lat, s.Lon, s.Battery, s.Speed, s.Heading, db.ts(s.Timestamp))
	return err
}

func (db *DB) AppendPositionSample(s PositionSample) error {
	if err := db.insertPosition(db.DB, s); err != nil {
		return fmt.Errorf("append position: %w", err)
	}
	return nil
}

// ListPositions returns samples recorded in [from, to] in time order. A zero
// robotID selects every robot; a zero to means now. limit <= 0 is unbounded.
func (db *DB) ListPositions(robotID int64, from, to time.Time, limit int) ([]*PositionSample, error) {
	if to.IsZero() {
		to = db.now()
	}
	query := `SELECT robot_id, lat, lon, battery, speed, heading, recorded_at FROM robot_positions WHERE recorded_at >= ? AND recorded_at <= ?`
	args := []any{db.ts(from), db.ts(to)}
	if robotID != 0 {
		query += ` AND robot_id = ?`
		args = append(args, robotID)
	}
	query += ` ORDER BY recorded_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()
	var out []*PositionSample
	for rows.Next() {
		var s PositionSample
		var at any
		if err := rows.Scan(&s.RobotID, &s.Lat, &s.Lon, &s.Battery, &s.Speed, &s.Heading, &at); err != nil {
			return nil, err
		}
		s.Timestamp = parseTime(at)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// HasPositions reports whether any sample exists for the robot.
func (db *DB) HasPositions(robotID int64) (bool, error) {
	var n int
	err := db.QueryRow(db.Q(`SELECT COUNT(*) FROM robot_positions WHERE robot_id = ?`), robotID).Scan(&n)
	return n > 0, err
}
