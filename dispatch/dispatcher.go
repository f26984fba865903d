package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetwatch/geo"
	"fleetwatch/store"
)

type LogFunc func(format string, args ...any)

// Store is the persistence the dispatcher needs.
type Store interface {
	GetRobot(id int64) (*store.Robot, error)
	ApplyMovement(id int64, u store.RobotUpdate, sample bool) (*store.Robot, error)
}

type Dispatcher struct {
	store    Store
	registry *Registry
	emitter  Emitter
	params   func() Params
	logFn    LogFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tasks   map[int64]*Task
	stopped bool
}

func NewDispatcher(s Store, reg *Registry, emitter Emitter, params func() Params, logFn LogFunc) *Dispatcher {
	if logFn == nil {
		logFn = log.Printf
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:    s,
		registry: reg,
		emitter:  emitter,
		params:   params,
		logFn:    logFn,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(map[int64]*Task),
	}
}

func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch reserves the robot and starts driving it to req.Target. It
// returns as soon as the task is running.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.RobotID <= 0 {
		return nil, ErrInvalidRobot
	}
	if !req.Target.Valid() {
		return nil, ErrInvalidTarget
	}
	if d.ctx.Err() != nil {
		return nil, ErrStopped
	}
	if !d.registry.TryReserve(req.RobotID) {
		return nil, ErrAlreadyDispatching
	}

	// Wait out any tick controller mid-write before reading the start point.
	unlock := d.registry.Lock(req.RobotID)
	robot, err := d.store.GetRobot(req.RobotID)
	unlock()
	if err != nil {
		d.registry.Release(req.RobotID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRobotNotFound
		}
		return nil, fmt.Errorf("load robot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		d.registry.Release(req.RobotID)
		return nil, err
	}

	p := d.params()
	if p.Steps < 1 {
		p.Steps = 1
	}
	task := &Task{
		ID:         uuid.NewString(),
		RobotID:    robot.ID,
		RobotName:  robot.Name,
		Start:      robot.Position(),
		Target:     req.Target,
		Path:       interpolate(robot.Position(), req.Target, p.Steps),
		OperatorID: req.OperatorID,
		EventID:    req.EventID,
		Reason:     req.Reason,
		StartedAt:  time.Now().UTC(),
	}

	// Add to the WaitGroup under mu so Stop never waits while a task is
	// still being registered.
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.registry.Release(req.RobotID)
		return nil, ErrStopped
	}
	d.tasks[robot.ID] = task
	d.wg.Add(1)
	d.mu.Unlock()

	d.emitter.EmitDispatchStarted(task, robot)
	d.logFn("dispatch: robot %d (%s) -> %s, %d steps", robot.ID, robot.Name, req.Target, p.Steps)

	go d.run(task, p)

	eta := int(math.Round(float64(p.Steps) * p.StepDelay.Seconds()))
	return &Result{Robot: robot, Target: req.Target, ETASeconds: eta}, nil
}

func (d *Dispatcher) run(task *Task, p Params) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.tasks, task.RobotID)
		d.mu.Unlock()
		d.registry.Release(task.RobotID)
	}()

	prev := task.Start
	for i, point := range task.Path {
		if i > 0 && !d.wait(p.StepDelay) {
			d.abort(task, ErrStopped)
			return
		}
		if err := d.step(task, prev, point, p.Speed); err != nil {
			d.abort(task, err)
			return
		}
		prev = point
	}

	if !d.wait(p.StepDelay) {
		d.abort(task, ErrStopped)
		return
	}
	robot, err := d.finish(task)
	if err != nil {
		d.abort(task, err)
		return
	}
	d.emitter.EmitDispatchCompleted(task, robot)
	d.logFn("dispatch: robot %d arrived at %s", task.RobotID, task.Target)
}

func (d *Dispatcher) wait(delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-d.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Dispatcher) step(task *Task, from, to geo.Point, speed float64) error {
	unlock := d.registry.Lock(task.RobotID)
	defer unlock()
	heading := geo.Bearing(from, to)
	status := store.StatusMoving
	robot, err := d.store.ApplyMovement(task.RobotID, store.RobotUpdate{
		Status:  &status,
		Lat:     &to.Lat,
		Lon:     &to.Lon,
		Speed:   &speed,
		Heading: &heading,
	}, true)
	if err != nil {
		return err
	}
	d.emitter.RobotMoved(robot, nil)
	return nil
}

func (d *Dispatcher) finish(task *Task) (*store.Robot, error) {
	unlock := d.registry.Lock(task.RobotID)
	defer unlock()
	status := store.StatusIdle
	zero := 0.0
	robot, err := d.store.ApplyMovement(task.RobotID, store.RobotUpdate{Status: &status, Speed: &zero}, false)
	if err != nil {
		return nil, err
	}
	d.emitter.RobotMoved(robot, nil)
	return robot, nil
}

func (d *Dispatcher) abort(task *Task, err error) {
	d.logFn("dispatch: robot %d aborted: %v", task.RobotID, err)
	d.emitter.EmitDispatchFailed(task, err)
}

// IsActive reports whether the robot is currently under dispatch.
func (d *Dispatcher) IsActive(robotID int64) bool {
	return d.registry.IsReserved(robotID)
}

// Active returns the running tasks ordered by robot id.
func (d *Dispatcher) Active() []Task {
	d.mu.Lock()
	out := make([]Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, *t)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RobotID < out[j].RobotID })
	return out
}

// Stop cancels running tasks and waits for their reservations to clear.
// Calling it more than once is harmless.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
