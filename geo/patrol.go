package geo

import (
	"fmt"
	"math"
)

// circlePatrolPoints is the number of waypoints placed around a circular zone.
const circlePatrolPoints = 12

// PatrolFromZone builds a closed patrol loop that follows the zone boundary,
// pushed outward by offsetMeters.
func PatrolFromZone(g Geometry, offsetMeters float64) ([]Point, error) {
	if math.IsNaN(offsetMeters) || math.IsInf(offsetMeters, 0) {
		return nil, fmt.Errorf("offset must be a finite number")
	}
	switch g.Kind {
	case KindPolygon:
		if len(g.Polygon) < 3 {
			return nil, fmt.Errorf("%w: polygon requires at least 3 points", ErrInvalidGeometry)
		}
		c := g.Centroid()
		lonScale := metersPerDegree * math.Cos(radians(c.Lat))
		out := make([]Point, 0, len(g.Polygon))
		for _, p := range g.Polygon {
			dy := (p.Lat - c.Lat) * metersPerDegree
			dx := (p.Lon - c.Lon) * lonScale
			d := math.Hypot(dx, dy)
			if d == 0 || lonScale == 0 {
				out = append(out, p)
				continue
			}
			scale := (d + offsetMeters) / d
			out = append(out, Point{
				Lat: c.Lat + dy*scale/metersPerDegree,
				Lon: c.Lon + dx*scale/lonScale,
			})
		}
		return out, nil
	case KindCircle:
		r := g.Circle.Radius + offsetMeters
		if r <= 0 {
			return nil, fmt.Errorf("offset leaves no patrol radius")
		}
		c := g.Circle.Center
		lonScale := metersPerDegree * math.Cos(radians(c.Lat))
		if lonScale == 0 {
			return nil, fmt.Errorf("cannot patrol a circle centred on a pole")
		}
		out := make([]Point, 0, circlePatrolPoints)
		for i := 0; i < circlePatrolPoints; i++ {
			a := 2 * math.Pi * float64(i) / circlePatrolPoints
			out = append(out, Point{
				Lat: c.Lat + r*math.Cos(a)/metersPerDegree,
				Lon: c.Lon + r*math.Sin(a)/lonScale,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown geometry", ErrInvalidGeometry)
}
