package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	EventStatusChange     = "status_change"
	EventBatteryLow       = "battery_low"
	EventZoneViolation    = "zone_violation"
	EventDispatch         = "dispatch"
	EventDispatchComplete = "dispatch_complete"
	EventAlarmTriggered   = "alarm_triggered"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

func ValidSeverity(s string) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

type Event struct {
	ID        int64           `json:"id"`
	RobotID   *int64          `json:"robot_id"`
	RobotName string          `json:"robot_name,omitempty"`
	Type      string          `json:"type"`
	Severity  string          `json:"severity"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventFilter struct {
	RobotID  *int64
	Type     string
	Severity string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// AppendEvent stores e and fills in its ID and CreatedAt.
func (db *DB) AppendEvent(e *Event) error {
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = db.now().UTC()
	}
	var robotID, data any
	if e.RobotID != nil {
		robotID = *e.RobotID
	}
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	err := db.QueryRow(db.Q(`INSERT INTO events (robot_id, type, severity, message, data, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		robotID, e.Type, e.Severity, e.Message, data, db.ts(e.CreatedAt)).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

const eventSelect = `SELECT e.id, e.robot_id, COALESCE(r.name, ''), e.type, e.severity, e.message, e.data, e.created_at
  FROM events e LEFT JOIN robots r ON r.id = e.robot_id`

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var e Event
	var robotID sql.NullInt64
	var data, createdAt any
	if err := row.Scan(&e.ID, &robotID, &e.RobotName, &e.Type, &e.Severity, &e.Message, &data, &createdAt); err != nil {
		return nil, err
	}
	if robotID.Valid {
		id := robotID.Int64
		e.RobotID = &id
	}
	if raw := jsonText(data); len(raw) > 0 {
		e.Data = json.RawMessage(raw)
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (db *DB) GetEvent(id int64) (*Event, error) {
	e, err := scanEvent(db.QueryRow(db.Q(eventSelect+` WHERE e.id = ?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("event %d", id))
	}
	return e, nil
}

// ListEvents returns matching events newest first along with the total count
// of matches ignoring Limit and Offset.
func (db *DB) ListEvents(f EventFilter) ([]*Event, int, error) {
	var conds []string
	var args []any
	if f.RobotID != nil {
		conds = append(conds, "e.robot_id = ?")
		args = append(args, *f.RobotID)
	}
	if f.Type != "" {
		conds = append(conds, "e.type = ?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		conds = append(conds, "e.severity = ?")
		args = append(args, f.Severity)
	}
	if !f.From.IsZero() {
		conds = append(conds, "e.created_at >= ?")
		args = append(args, db.ts(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "e.created_at <= ?")
		args = append(args, db.ts(f.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := db.QueryRow(db.Q(`SELECT COUNT(*) FROM events e`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := db.Query(db.Q(eventSelect+where+` ORDER BY e.created_at DESC, e.id DESC LIMIT ? OFFSET ?`), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
