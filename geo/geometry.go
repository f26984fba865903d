package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidGeometry wraps every geometry validation failure.
var ErrInvalidGeometry = errors.New("invalid zone geometry")

type Kind string

const (
	KindPolygon Kind = "polygon"
	KindCircle  Kind = "circle"
)

type Circle struct {
	Center Point
	Radius float64 // meters
}

// Geometry is a zone shape: exactly one of Polygon or Circle is meaningful,
// selected by Kind.
type Geometry struct {
	Kind    Kind
	Polygon []Point
	Circle  Circle
}

func PolygonGeometry(points ...Point) Geometry {
	return Geometry{Kind: KindPolygon, Polygon: points}
}

func CircleGeometry(center Point, radius float64) Geometry {
	return Geometry{Kind: KindCircle, Circle: Circle{Center: center, Radius: radius}}
}

type geometryJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Center      *Point          `json:"center,omitempty"`
	Radius      *float64        `json:"radius,omitempty"`
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	switch g.Kind {
	case KindPolygon:
		coords, err := json.Marshal(g.Polygon)
		if err != nil {
			return nil, err
		}
		return json.Marshal(geometryJSON{Type: string(KindPolygon), Coordinates: coords})
	case KindCircle:
		c, r := g.Circle.Center, g.Circle.Radius
		return json.Marshal(geometryJSON{Type: string(KindCircle), Center: &c, Radius: &r})
	}
	return []byte("null"), nil
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	parsed, err := ParseGeometry(data)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGeometry decodes a stored or submitted geometry document. It checks
// structure only; use ValidateGeometry for range and shape constraints.
func ParseGeometry(raw []byte) (Geometry, error) {
	var doc geometryJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrInvalidGeometry, err)
	}
	switch Kind(strings.ToLower(doc.Type)) {
	case KindPolygon:
		var pts []Point
		if len(doc.Coordinates) == 0 {
			return Geometry{}, fmt.Errorf("%w: polygon requires coordinates", ErrInvalidGeometry)
		}
		if err := json.Unmarshal(doc.Coordinates, &pts); err != nil {
			// GeoJSON style: one ring nested in an outer array.
			var rings [][]Point
			if err2 := json.Unmarshal(doc.Coordinates, &rings); err2 != nil || len(rings) == 0 {
				return Geometry{}, fmt.Errorf("%w: polygon coordinates: %v", ErrInvalidGeometry, err)
			}
			pts = rings[0]
		}
		return Geometry{Kind: KindPolygon, Polygon: pts}, nil
	case KindCircle:
		if doc.Center == nil || doc.Radius == nil {
			return Geometry{}, fmt.Errorf("%w: circle requires center [lat, lon] and radius", ErrInvalidGeometry)
		}
		return Geometry{Kind: KindCircle, Circle: Circle{Center: *doc.Center, Radius: *doc.Radius}}, nil
	}
	return Geometry{}, fmt.Errorf("%w: unknown type %q", ErrInvalidGeometry, doc.Type)
}

// Contains reports whether p lies inside g.
func (g Geometry) Contains(p Point) bool {
	switch g.Kind {
	case KindPolygon:
		return PointInPolygon(p, g.Polygon)
	case KindCircle:
		return HaversineMeters(p, g.Circle.Center) <= g.Circle.Radius
	}
	return false
}

// Centroid is the vertex average for polygons and the center for circles.
func (g Geometry) Centroid() Point {
	if g.Kind == KindCircle {
		return g.Circle.Center
	}
	var c Point
	if len(g.Polygon) == 0 {
		return c
	}
	for _, p := range g.Polygon {
		c.Lat += p.Lat
		c.Lon += p.Lon
	}
	n := float64(len(g.Polygon))
	return Point{Lat: c.Lat / n, Lon: c.Lon / n}
}

// PointInPolygon applies the even-odd rule, casting along longitude.
func PointInPolygon(p Point, ring []Point) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := ring[i].Lat, ring[i].Lon
		yj, xj := ring[j].Lat, ring[j].Lon
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// ValidateGeometry normalises g and checks the constraints a stored zone
// must satisfy. Polygons lose a duplicated closing point.
func ValidateGeometry(g Geometry, allowSelfIntersection bool) (Geometry, error) {
	switch g.Kind {
	case KindPolygon:
		pts := make([]Point, 0, len(g.Polygon))
		for i, p := range g.Polygon {
			if !p.Finite() {
				return Geometry{}, fmt.Errorf("%w: point %d is not a finite number", ErrInvalidGeometry, i)
			}
			if !p.Valid() {
				return Geometry{}, fmt.Errorf("%w: point %d out of range (lat -90..90, lon -180..180)", ErrInvalidGeometry, i)
			}
			pts = append(pts, p)
		}
		if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
			pts = pts[:len(pts)-1]
		}
		if len(pts) < 3 {
			return Geometry{}, fmt.Errorf("%w: polygon requires at least 3 points", ErrInvalidGeometry)
		}
		if !allowSelfIntersection && SelfIntersects(pts) {
			return Geometry{}, fmt.Errorf("%w: polygon must not self-intersect", ErrInvalidGeometry)
		}
		return Geometry{Kind: KindPolygon, Polygon: pts}, nil
	case KindCircle:
		if !g.Circle.Center.Finite() || !g.Circle.Center.Valid() {
			return Geometry{}, fmt.Errorf("%w: circle center must be a valid [lat, lon]", ErrInvalidGeometry)
		}
		r := g.Circle.Radius
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return Geometry{}, fmt.Errorf("%w: circle radius must be greater than 0", ErrInvalidGeometry)
		}
		return g, nil
	}
	return Geometry{}, fmt.Errorf("%w: type must be polygon or circle", ErrInvalidGeometry)
}

const orientationEpsilon = 1e-12

// SelfIntersects reports whether any two non-adjacent edges of the closed
// ring cross or touch.
func SelfIntersects(ring []Point) bool {
	n := len(ring)
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := ring[j], ring[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func orientation(p, q, r Point) int {
	v := (q.Lon-p.Lon)*(r.Lat-q.Lat) - (q.Lat-p.Lat)*(r.Lon-q.Lon)
	if math.Abs(v) < orientationEpsilon {
		return 0
	}
	if v > 0 {
		return 1
	}
	return 2
}

func onSegment(p, q, r Point) bool {
	return q.Lon <= math.Max(p.Lon, r.Lon)+orientationEpsilon &&
		q.Lon+orientationEpsilon >= math.Min(p.Lon, r.Lon) &&
		q.Lat <= math.Max(p.Lat, r.Lat)+orientationEpsilon &&
		q.Lat+orientationEpsilon >= math.Min(p.Lat, r.Lat)
}

func segmentsIntersect(p1, q1, p2, q2 Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)
	if o1 != o2 && o3 != o4 {
		return true
	}
	switch {
	case o1 == 0 && onSegment(p1, p2, q1):
		return true
	case o2 == 0 && onSegment(p1, q2, q1):
		return true
	case o3 == 0 && onSegment(p2, p1, q2):
		return true
	case o4 == 0 && onSegment(p2, q1, q2):
		return true
	}
	return false
}
