// Package patrol moves robots around closed waypoint loops.
package patrol

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"fleetwatch/geo"
)

type Direction string

const (
	Clockwise        Direction = "cw"
	CounterClockwise Direction = "ccw"
)

// NormalizeDirection maps the accepted spellings of counter-clockwise to
// CounterClockwise; anything else patrols clockwise.
func NormalizeDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ccw", "counterclockwise", "counter-clockwise":
		return CounterClockwise
	}
	return Clockwise
}

// NormalizeWaypoints drops non-finite points and a last point that repeats
// the first, since the loop is closed implicitly.
func NormalizeWaypoints(pts []geo.Point) []geo.Point {
	out := make([]geo.Point, 0, len(pts))
	for _, p := range pts {
		if p.Finite() {
			out = append(out, p)
		}
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// ErrTooFewWaypoints means fewer than two usable points remained after
// normalisation.
var ErrTooFewWaypoints = errors.New("route requires at least 2 distinct waypoints")

// ValidateWaypoints normalises pts and checks that they form a usable route.
func ValidateWaypoints(pts []geo.Point) ([]geo.Point, error) {
	for i, p := range pts {
		if p.Finite() && !p.Valid() {
			return nil, fmt.Errorf("waypoint %d out of range (lat -90..90, lon -180..180)", i)
		}
	}
	out := NormalizeWaypoints(pts)
	if len(out) < 2 {
		return nil, ErrTooFewWaypoints
	}
	return out, nil
}

// nearestOnPath projects p onto every segment of the closed loop and returns
// the closest point, its distance and the index of the segment's start.
func nearestOnPath(p geo.Point, pts []geo.Point) (geo.Point, float64, int) {
	best := pts[0]
	bestDist := math.Inf(1)
	bestSeg := 0
	n := len(pts)
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		q := projectOnSegment(p, a, b)
		if d := geo.Distance(p, q); d < bestDist {
			best, bestDist, bestSeg = q, d, i
		}
	}
	return best, bestDist, bestSeg
}

func projectOnSegment(p, a, b geo.Point) geo.Point {
	dLat, dLon := b.Lat-a.Lat, b.Lon-a.Lon
	lenSq := dLat*dLat + dLon*dLon
	if lenSq == 0 {
		return a
	}
	t := ((p.Lat-a.Lat)*dLat + (p.Lon-a.Lon)*dLon) / lenSq
	t = math.Max(0, math.Min(1, t))
	return geo.Lerp(a, b, t)
}

// DistanceToPath is the planar distance from p to the closed loop.
func DistanceToPath(p geo.Point, pts []geo.Point) float64 {
	if len(pts) == 0 {
		return math.Inf(1)
	}
	_, d, _ := nearestOnPath(p, pts)
	return d
}
