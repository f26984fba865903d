package dispatch

import (
	"errors"
	"time"

	"fleetwatch/geo"
	"fleetwatch/store"
)

var (
	ErrInvalidRobot       = errors.New("invalid robot id")
	ErrInvalidTarget      = errors.New("invalid dispatch target")
	ErrAlreadyDispatching = errors.New("robot is already dispatching")
	ErrRobotNotFound      = errors.New("robot not found")
	ErrStopped            = errors.New("dispatcher stopped")
)

// Params are the tunable dispatch timings.
type Params struct {
	Steps     int
	StepDelay time.Duration
	Speed     float64
}

type Request struct {
	RobotID    int64
	Target     geo.Point
	OperatorID int64
	EventID    *int64
	Reason     string
}

type Result struct {
	Robot      *store.Robot `json:"robot"`
	Target     geo.Point    `json:"target"`
	ETASeconds int          `json:"etaSeconds"`
}

// Task is one running dispatch. It lives only in memory.
type Task struct {
	ID         string      `json:"id"`
	RobotID    int64       `json:"robotId"`
	RobotName  string      `json:"robotName"`
	Start      geo.Point   `json:"start"`
	Target     geo.Point   `json:"target"`
	Path       []geo.Point `json:"path"`
	OperatorID int64       `json:"operatorId"`
	EventID    *int64      `json:"eventId,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
}

// interpolate returns steps evenly spaced points ending exactly at to.
func interpolate(from, to geo.Point, steps int) []geo.Point {
	path := make([]geo.Point, steps)
	for i := 1; i <= steps; i++ {
		path[i-1] = geo.Lerp(from, to, float64(i)/float64(steps))
	}
	path[steps-1] = to
	return path
}
