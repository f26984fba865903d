package engine

import (
	"encoding/json"
	"strings"

	"fleetwatch/geo"
	"fleetwatch/store"
)

const defaultZoneColor = "#EF4444"

type ZoneInput struct {
	Name     *string         `json:"name"`
	Type     *string         `json:"type"`
	Geometry json.RawMessage `json:"geometry"`
	Color    *string         `json:"color"`
	Enabled  *bool           `json:"enabled"`
}

func (e *Engine) ListZones() ([]*store.Zone, error) {
	return e.db.ListZones()
}

func (e *Engine) GetZone(id int64) (*store.Zone, error) {
	return e.db.GetZone(id)
}

func (e *Engine) CreateZone(in ZoneInput, actor string) (*store.Zone, error) {
	name := ""
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if name == "" || len(in.Geometry) == 0 {
		return nil, invalid("Name and geometry required")
	}
	z := &store.Zone{
		Zone:  geo.Zone{Name: name, Type: geo.ZoneRestricted, Enabled: true},
		Color: defaultZoneColor,
	}
	if err := e.applyZoneInput(z, in); err != nil {
		return nil, err
	}
	if err := e.db.CreateZone(z); err != nil {
		return nil, err
	}
	e.changed("zone", z.ID, "created", z.Name, actor)
	return z, nil
}

func (e *Engine) UpdateZone(id int64, in ZoneInput, actor string) (*store.Zone, error) {
	if in.Name == nil && in.Type == nil && len(in.Geometry) == 0 && in.Color == nil && in.Enabled == nil {
		return nil, invalid("No updates provided")
	}
	z, err := e.db.GetZone(id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, invalid("Zone name must not be empty")
		}
		z.Name = name
	}
	if err := e.applyZoneInput(z, in); err != nil {
		return nil, err
	}
	if err := e.db.UpdateZone(z); err != nil {
		return nil, err
	}
	e.changed("zone", id, "updated", z.Name, actor)
	return z, nil
}

func (e *Engine) DeleteZone(id int64, actor string) error {
	if err := e.db.DeleteZone(id); err != nil {
		return err
	}
	e.changed("zone", id, "deleted", "", actor)
	return nil
}

// applyZoneInput copies type, geometry, color and enabled onto z,
// validating each.
func (e *Engine) applyZoneInput(z *store.Zone, in ZoneInput) error {
	if in.Type != nil {
		t := geo.ZoneType(*in.Type)
		if !t.Valid() {
			return invalid("Zone type must be restricted, warning or safe")
		}
		z.Type = t
	}
	if len(in.Geometry) > 0 {
		g, err := geo.ParseGeometry(in.Geometry)
		if err != nil {
			return invalid("%s", err.Error())
		}
		e.cfg.Lock()
		allow := e.cfg.Zones.AllowSelfIntersection
		e.cfg.Unlock()
		if g, err = geo.ValidateGeometry(g, allow); err != nil {
			return invalid("%s", err.Error())
		}
		z.Geometry = g
	}
	if in.Color != nil {
		z.Color = *in.Color
	}
	if in.Enabled != nil {
		z.Enabled = *in.Enabled
	}
	return nil
}
