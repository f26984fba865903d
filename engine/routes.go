package engine

import (
	"errors"
	"strings"
	"time"

	"fleetwatch/geo"
	"fleetwatch/patrol"
	"fleetwatch/store"
)

type RouteInput struct {
	Name      *string     `json:"name"`
	Waypoints []geo.Point `json:"waypoints"`
	Direction *string     `json:"direction"`
	IsActive  *bool       `json:"isActive"`
}

func (e *Engine) ListRoutes(robotID int64) ([]*store.PatrolRoute, error) {
	if _, err := e.db.GetRobot(robotID); err != nil {
		return nil, err
	}
	return e.db.ListRoutes(robotID)
}

// CreateRoute stores a new route for the robot. An active route replaces the
// robot's current one.
func (e *Engine) CreateRoute(robotID int64, in RouteInput, actor string) (*store.PatrolRoute, error) {
	if in.Waypoints == nil {
		return nil, invalid("Waypoints array required")
	}
	pts, err := validWaypoints(in.Waypoints)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.GetRobot(robotID); err != nil {
		return nil, err
	}
	name := ""
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if name == "" {
		name = "Route " + time.Now().UTC().Format(time.RFC3339)
	}
	dir := patrol.Clockwise
	if in.Direction != nil {
		dir = patrol.NormalizeDirection(*in.Direction)
	}
	r := &store.PatrolRoute{
		RobotID:   robotID,
		Name:      name,
		Waypoints: pts,
		Direction: string(dir),
		IsActive:  in.IsActive != nil && *in.IsActive,
	}
	unlock := e.registry.Lock(robotID)
	err = e.db.CreateRoute(r)
	unlock()
	if err != nil {
		return nil, err
	}
	if r.IsActive {
		e.robotChanged(robotID)
	}
	e.changed("route", r.ID, "created", name, actor)
	return r, nil
}

// UpdateRoute applies the given fields. Setting isActive true makes this the
// robot's only active route; false returns the robot to free roam.
func (e *Engine) UpdateRoute(robotID, routeID int64, in RouteInput, actor string) (*store.PatrolRoute, error) {
	if in.Name == nil && in.Waypoints == nil && in.Direction == nil && in.IsActive == nil {
		return nil, invalid("No updates provided")
	}
	// Route writes reset the mirrored patrol index; hold the robot's lock so
	// an in-flight patrol tick cannot write back the old one.
	unlock := e.registry.Lock(robotID)
	r, err := e.updateRoute(robotID, routeID, in)
	unlock()
	if err != nil {
		return nil, err
	}
	e.robotChanged(robotID)
	e.changed("route", routeID, "updated", r.Name, actor)
	return r, nil
}

func (e *Engine) updateRoute(robotID, routeID int64, in RouteInput) (*store.PatrolRoute, error) {
	r, err := e.db.GetRoute(robotID, routeID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil || in.Waypoints != nil || in.Direction != nil {
		if in.Name != nil {
			if name := strings.TrimSpace(*in.Name); name != "" {
				r.Name = name
			}
		}
		if in.Direction != nil {
			r.Direction = string(patrol.NormalizeDirection(*in.Direction))
		}
		if in.Waypoints != nil {
			pts, err := validWaypoints(in.Waypoints)
			if err != nil {
				return nil, err
			}
			r.Waypoints = pts
		}
		if err := e.db.UpdateRoute(r); err != nil {
			return nil, err
		}
	}
	if in.IsActive != nil {
		switch {
		case *in.IsActive && !r.IsActive:
			if r, err = e.db.ActivateRoute(robotID, routeID); err != nil {
				return nil, err
			}
		case !*in.IsActive && r.IsActive:
			if err := e.db.DeactivateRoutes(robotID); err != nil {
				return nil, err
			}
			r.IsActive = false
		}
	}
	return r, nil
}

func (e *Engine) ActivateRoute(robotID, routeID int64, actor string) (*store.PatrolRoute, error) {
	unlock := e.registry.Lock(robotID)
	r, err := e.db.ActivateRoute(robotID, routeID)
	unlock()
	if err != nil {
		return nil, err
	}
	e.robotChanged(robotID)
	e.changed("route", routeID, "activated", r.Name, actor)
	return r, nil
}

// DeleteRoute removes the route and returns what was deleted.
func (e *Engine) DeleteRoute(robotID, routeID int64, actor string) (*store.PatrolRoute, error) {
	r, err := e.db.GetRoute(robotID, routeID)
	if err != nil {
		return nil, err
	}
	unlock := e.registry.Lock(robotID)
	err = e.db.DeleteRoute(robotID, routeID)
	unlock()
	if err != nil {
		return nil, err
	}
	if r.IsActive {
		e.robotChanged(robotID)
	}
	e.changed("route", routeID, "deleted", r.Name, actor)
	return r, nil
}

// SetPatrol creates a route and activates it in one step.
func (e *Engine) SetPatrol(robotID int64, in RouteInput, actor string) (*store.PatrolRoute, error) {
	active := true
	in.IsActive = &active
	return e.CreateRoute(robotID, in, actor)
}

// ClearPatrol deactivates every route of the robot.
func (e *Engine) ClearPatrol(robotID int64, actor string) error {
	if _, err := e.db.GetRobot(robotID); err != nil {
		return err
	}
	unlock := e.registry.Lock(robotID)
	err := e.db.DeactivateRoutes(robotID)
	unlock()
	if err != nil {
		return err
	}
	e.robotChanged(robotID)
	e.changed("robot", robotID, "patrol_cleared", "", actor)
	return nil
}

// GeneratePatrol derives waypoints around a zone's boundary. Nothing is
// stored; the caller decides whether to save them as a route.
func (e *Engine) GeneratePatrol(zoneID int64, offsetMeters float64) ([]geo.Point, error) {
	z, err := e.db.GetZone(zoneID)
	if err != nil {
		return nil, err
	}
	pts, err := geo.PatrolFromZone(z.Geometry, offsetMeters)
	if err != nil {
		return nil, invalid("%s", err.Error())
	}
	return pts, nil
}

func validWaypoints(pts []geo.Point) ([]geo.Point, error) {
	out, err := patrol.ValidateWaypoints(pts)
	switch {
	case errors.Is(err, patrol.ErrTooFewWaypoints):
		return nil, invalid("At least 2 valid waypoints required")
	case err != nil:
		return nil, invalid("%s", err.Error())
	}
	return out, nil
}

// robotChanged re-reads a robot after a route change and announces it.
func (e *Engine) robotChanged(robotID int64) {
	r, err := e.db.GetRobot(robotID)
	if err != nil {
		e.logFn("engine: reload robot %d: %v", robotID, err)
		return
	}
	e.Events.Emit(Notice{Type: EventRobotUpdated, Payload: RobotUpdatedEvent{Robot: r}})
}
