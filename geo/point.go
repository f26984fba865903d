// Package geo holds the geometric primitives of the fleet: points, zone
// geometries, the geofence evaluator and patrol path generation.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine test.
const EarthRadiusMeters = 6371000.0

// metersPerDegree approximates one degree of latitude.
const metersPerDegree = 111000.0

// Point is a lat/lon pair in degrees. It encodes to JSON as [lat, lon] and
// decodes from either [lat, lon] or {"lat":..,"lon":..}.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lon})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point needs 2 coordinates, got %d", len(pair))
		}
		p.Lat, p.Lon = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if obj.Lon == nil {
		obj.Lon = obj.Lng
	}
	if obj.Lat == nil || obj.Lon == nil {
		return fmt.Errorf("point needs lat and lon")
	}
	p.Lat, p.Lon = *obj.Lat, *obj.Lon
	return nil
}

// Finite reports whether both coordinates are real numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0)
}

// Valid reports whether p is finite and within lat [-90,90], lon [-180,180].
func (p Point) Valid() bool {
	return p.Finite() && p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// Distance is the planar distance between a and b in degrees.
func Distance(a, b Point) float64 {
	return math.Hypot(b.Lat-a.Lat, b.Lon-a.Lon)
}

// Lerp returns the point at fraction t along a->b.
func Lerp(a, b Point, t float64) Point {
	return Point{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalised to [0, 360).
func Bearing(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// HaversineMeters is the great-circle distance between a and b.
func HaversineMeters(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
