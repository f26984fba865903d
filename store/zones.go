package store

import (
	"encoding/json"
	"fmt"
	"time"

	"fleetwatch/geo"
)

type Zone struct {
	geo.Zone
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const zoneSelectCols = `id, name, type, geometry, color, enabled, created_at, updated_at`

func scanZone(row interface{ Scan(...any) error }) (*Zone, error) {
	var z Zone
	var geometry, createdAt, updatedAt any
	if err := row.Scan(&z.ID, &z.Name, &z.Type, &geometry, &z.Color, &z.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	z.CreatedAt = parseTime(createdAt)
	z.UpdatedAt = parseTime(updatedAt)
	g, err := geo.ParseGeometry(jsonText(geometry))
	if err != nil {
		return &z, fmt.Errorf("zone %d: %w", z.ID, err)
	}
	z.Geometry = g
	return &z, nil
}

func (db *DB) CreateZone(z *Zone) error {
	geometry, err := json.Marshal(z.Geometry)
	if err != nil {
		return fmt.Errorf("encode geometry: %w", err)
	}
	now := db.now().UTC()
	err = db.QueryRow(db.Q(`INSERT INTO zones (name, type, geometry, color, enabled, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		z.Name, string(z.Type), string(geometry), z.Color, z.Enabled, db.ts(now), db.ts(now)).Scan(&z.ID)
	if err != nil {
		return fmt.Errorf("create zone: %w", err)
	}
	z.CreatedAt, z.UpdatedAt = now, now
	return nil
}

func (db *DB) UpdateZone(z *Zone) error {
	geometry, err := json.Marshal(z.Geometry)
	if err != nil {
		return fmt.Errorf("encode geometry: %w", err)
	}
	now := db.now().UTC()
	res, err := db.Exec(db.Q(`UPDATE zones SET name = ?, type = ?, geometry = ?, color = ?, enabled = ?, updated_at = ? WHERE id = ?`),
		z.Name, string(z.Type), string(geometry), z.Color, z.Enabled, db.ts(now), z.ID)
	if err != nil {
		return fmt.Errorf("update zone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("zone %d: %w", z.ID, ErrNotFound)
	}
	z.UpdatedAt = now
	return nil
}

func (db *DB) DeleteZone(id int64) error {
	res, err := db.Exec(db.Q(`DELETE FROM zones WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete zone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("zone %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) GetZone(id int64) (*Zone, error) {
	z, err := scanZone(db.QueryRow(db.Q(`SELECT `+zoneSelectCols+` FROM zones WHERE id = ?`), id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("zone %d", id))
	}
	return z, nil
}

// ListZones returns every zone with readable geometry. Zones whose stored
// geometry cannot be parsed are logged and left out.
func (db *DB) ListZones() ([]*Zone, error) {
	rows, err := db.Query(`SELECT ` + zoneSelectCols + ` FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()
	var zones []*Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			if z != nil {
				db.logFn("store: skipping zone: %v", err)
				continue
			}
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// LoadActiveZones returns the enabled zones for geofence evaluation.
func (db *DB) LoadActiveZones() ([]geo.Zone, error) {
	zones, err := db.ListZones()
	if err != nil {
		return nil, err
	}
	out := make([]geo.Zone, 0, len(zones))
	for _, z := range zones {
		if z.Enabled {
			out = append(out, z.Zone)
		}
	}
	return out, nil
}
