package patrol

import (
	"fleetwatch/geo"
)

// Params tunes the per-tick movement.
type Params struct {
	Step  float64 // degrees moved per tick
	Speed float64 // reported speed while patrolling
}

// rejoinFactor scales Step into the distance beyond which a robot is
// considered off its path.
const rejoinFactor = 1.2

// State is the part of a robot the follower reads.
type State struct {
	Position geo.Point
	Heading  float64
	Index    int
}

// Result is the robot state after one tick.
type Result struct {
	Position  geo.Point
	Heading   float64
	Speed     float64
	Index     int
	Rejoining bool
	Arrived   bool
}

// Step advances a robot one tick along its route. It returns false when the
// route has fewer than two usable waypoints.
func Step(s State, waypoints []geo.Point, dir Direction, p Params) (Result, bool) {
	pts := NormalizeWaypoints(waypoints)
	n := len(pts)
	if n < 2 || p.Step <= 0 || !s.Position.Finite() {
		return Result{}, false
	}
	index := ((s.Index % n) + n) % n

	nearest, dist, seg := nearestOnPath(s.Position, pts)
	rejoin := dist > rejoinFactor*p.Step
	target := pts[index]
	if rejoin {
		target = nearest
	}

	next := target
	arrived := true
	if remaining := geo.Distance(s.Position, target); remaining > 2*p.Step {
		next = geo.Lerp(s.Position, target, p.Step/remaining)
		arrived = false
	}

	if arrived {
		switch {
		case rejoin && dir == CounterClockwise:
			index = seg
		case rejoin:
			index = (seg + 1) % n
		case dir == CounterClockwise:
			index = (index - 1 + n) % n
		default:
			index = (index + 1) % n
		}
	}

	heading := s.Heading
	if next != s.Position {
		heading = geo.Bearing(s.Position, next)
	}
	return Result{
		Position:  next,
		Heading:   heading,
		Speed:     p.Speed,
		Index:     index,
		Rejoining: rejoin,
		Arrived:   arrived,
	}, true
}
