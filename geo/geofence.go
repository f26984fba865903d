package geo

type ZoneType string

const (
	ZoneRestricted ZoneType = "restricted"
	ZoneWarning    ZoneType = "warning"
	ZoneSafe       ZoneType = "safe"
)

func (t ZoneType) Valid() bool {
	switch t {
	case ZoneRestricted, ZoneWarning, ZoneSafe:
		return true
	}
	return false
}

// Severity returns the event severity a violation of this zone type carries,
// or "" when the type never escalates.
func (t ZoneType) Severity() string {
	switch t {
	case ZoneRestricted:
		return "error"
	case ZoneWarning:
		return "warning"
	}
	return ""
}

type Zone struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Type     ZoneType `json:"type"`
	Geometry Geometry `json:"geometry"`
	Enabled  bool     `json:"enabled"`
}

type Violation struct {
	ZoneID   int64    `json:"zone_id"`
	ZoneName string   `json:"zone_name"`
	ZoneType ZoneType `json:"zone_type"`
	Severity string   `json:"severity"`
	Point    Point    `json:"-"`
}

// Evaluate returns one violation per enabled restricted or warning zone
// containing p. It holds no state and is safe for concurrent use.
func Evaluate(p Point, zones []Zone) []Violation {
	if !p.Finite() {
		return nil
	}
	var out []Violation
	for _, z := range zones {
		if !z.Enabled {
			continue
		}
		sev := z.Type.Severity()
		if sev == "" {
			continue
		}
		if !z.Geometry.Contains(p) {
			continue
		}
		out = append(out, Violation{
			ZoneID:   z.ID,
			ZoneName: z.Name,
			ZoneType: z.Type,
			Severity: sev,
			Point:    p,
		})
	}
	return out
}
