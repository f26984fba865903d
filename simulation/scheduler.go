// Package simulation drives the fleet: a tick loop that moves free-roaming
// robots and hands patrol robots to the follower, plus a monitor that takes
// silent robots offline.
package simulation

import (
	"context"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"fleetwatch/config"
	"fleetwatch/geo"
	"fleetwatch/store"
)

type LogFunc func(format string, args ...any)

const (
	// CriticalBattery forces a robot offline.
	CriticalBattery = 5
	// LowBattery is the threshold for battery_low events and random dropouts.
	LowBattery = 20
)

// Store is the persistence the scheduler needs.
type Store interface {
	LoadActiveZones() ([]geo.Zone, error)
	LoadRobotsEligibleForTick(excluding map[int64]bool) ([]*store.Robot, error)
	GetRobot(id int64) (*store.Robot, error)
	ApplyMovement(id int64, u store.RobotUpdate, sample bool) (*store.Robot, error)
	WakeRobots() (int64, error)
}

// Guard exposes dispatch reservations and the per-robot controller lock.
type Guard interface {
	Reserved() map[int64]bool
	Guard(robotID int64) (release func(), ok bool)
}

// Patroller advances patrol robots; it runs after the free-roam pass.
type Patroller interface {
	Tick(zones []geo.Zone) int
}

// Emitter turns robot state changes into events and bus messages.
type Emitter interface {
	RobotMoved(r *store.Robot, violations []geo.Violation)
	StatusChanged(r *store.Robot, from, reason string)
	BatteryLow(r *store.Robot)
}

// Rand is the randomness source; *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// TickStats summarises one pass of the scheduler.
type TickStats struct {
	Roaming   int
	Updated   int
	Patrolled int
	Duration  time.Duration
}

// Status is what the simulation API reports.
type Status struct {
	Running bool                    `json:"isRunning"`
	Config  config.SimulationConfig `json:"config"`
}

type Scheduler struct {
	cfg     *config.Config
	store   Store
	guard   Guard
	patrol  Patroller
	emitter Emitter
	rand    Rand
	logFn   LogFunc

	// OnTick, when set before Start, observes every completed tick.
	OnTick func(TickStats)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	reset    chan time.Duration
	done     chan struct{}
}

func NewScheduler(cfg *config.Config, s Store, g Guard, p Patroller, e Emitter, logFn LogFunc) *Scheduler {
	if logFn == nil {
		logFn = log.Printf
	}
	return &Scheduler{cfg: cfg, store: s, guard: g, patrol: p, emitter: e, rand: globalRand{}, logFn: logFn}
}

// SetRand replaces the randomness source. Tests use it for determinism.
func (s *Scheduler) SetRand(r Rand) { s.rand = r }

// Start wakes every robot and begins ticking. It returns false if the
// scheduler was already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logFn("simulation: already running")
		return false
	}
	if n, err := s.store.WakeRobots(); err != nil {
		s.logFn("simulation: wake robots: %v", err)
	} else {
		s.logFn("simulation: woke %d robots", n)
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.reset = make(chan time.Duration, 1)
	s.done = make(chan struct{})
	go s.run(ctx, s.cfg.SimulationSnapshot().Interval, s.stopChan, s.reset, s.done)
	s.logFn("simulation: started")
	return true
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
	s.logFn("simulation: stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) Status() Status {
	return Status{Running: s.Running(), Config: s.cfg.SimulationSnapshot()}
}

// UpdateConfig applies a runtime config change. A new interval takes effect
// on the running loop immediately; reservations are untouched.
func (s *Scheduler) UpdateConfig(p config.SimulationPatch) config.SimulationConfig {
	before := s.cfg.SimulationSnapshot()
	after := s.cfg.PatchSimulation(p)
	if after.Interval != before.Interval {
		s.mu.Lock()
		if s.running {
			select {
			case <-s.reset:
			default:
			}
			s.reset <- after.Interval
		}
		s.mu.Unlock()
	}
	return after
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration, stop <-chan struct{}, reset <-chan time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.done == done {
				s.running = false
			}
			s.mu.Unlock()
			return
		case d := <-reset:
			ticker.Reset(d)
			s.logFn("simulation: interval now %v", d)
		case <-ticker.C:
			stats := s.Tick(ctx)
			if s.OnTick != nil {
				s.OnTick(stats)
			}
		}
	}
}

// Tick runs one pass: every free-roaming robot first, then the patrol
// follower. A failure on one robot never aborts the pass.
func (s *Scheduler) Tick(ctx context.Context) TickStats {
	start := time.Now()
	var stats TickStats
	sc := s.cfg.SimulationSnapshot()

	zones, err := s.store.LoadActiveZones()
	if err != nil {
		s.logFn("simulation: load zones: %v", err)
	}
	robots, err := s.store.LoadRobotsEligibleForTick(s.guard.Reserved())
	if err != nil {
		s.logFn("simulation: load robots: %v", err)
	}
	stats.Roaming = len(robots)
	for _, r := range robots {
		if ctx.Err() != nil {
			break
		}
		if s.roam(r.ID, sc, zones) {
			stats.Updated++
		}
	}
	if s.patrol != nil && ctx.Err() == nil {
		stats.Patrolled = s.patrol.Tick(zones)
	}
	stats.Duration = time.Since(start)
	return stats
}

func (s *Scheduler) roam(id int64, sc config.SimulationConfig, zones []geo.Zone) bool {
	release, ok := s.guard.Guard(id)
	if !ok {
		return false
	}
	defer release()

	r, err := s.store.GetRobot(id)
	if err != nil {
		s.logFn("simulation: robot %d: %v", id, err)
		return false
	}
	if r.Status == store.StatusOffline || r.ActiveRoute != nil {
		return false
	}

	next := nextState(r, sc, s.rand)
	updated, err := s.store.ApplyMovement(id, store.RobotUpdate{
		Status:  &next.status,
		Battery: &next.battery,
		Lat:     &next.pos.Lat,
		Lon:     &next.pos.Lon,
		Speed:   &next.speed,
	}, next.status == store.StatusMoving)
	if err != nil {
		s.logFn("simulation: save robot %d: %v", id, err)
		return false
	}

	if r.Status != updated.Status {
		s.emitter.StatusChanged(updated, r.Status, "")
	}
	if r.Battery > LowBattery && updated.Battery <= LowBattery {
		s.emitter.BatteryLow(updated)
	}
	s.emitter.RobotMoved(updated, geo.Evaluate(updated.Position(), zones))
	return true
}

type roamState struct {
	status  string
	speed   float64
	pos     geo.Point
	battery int
}

// nextState picks the robot's next status, speed, position and battery.
func nextState(r *store.Robot, sc config.SimulationConfig, rnd Rand) roamState {
	next := roamState{pos: r.Position(), battery: r.Battery}
	switch {
	case r.Battery <= CriticalBattery:
		next.status = store.StatusOffline
	case rnd.Float64() < sc.OfflineChance && r.Battery < LowBattery:
		next.status = store.StatusOffline
	case rnd.Float64() < sc.IdleChance:
		next.status = store.StatusIdle
	default:
		next.status = store.StatusMoving
		next.speed = rnd.Float64()*5 + 0.5
	}
	if next.status == store.StatusMoving {
		next.pos.Lat += (rnd.Float64() - 0.5) * sc.MoveRadius * 2
		next.pos.Lon += (rnd.Float64() - 0.5) * sc.MoveRadius * 2
		next.battery = int(math.Round(math.Max(0, float64(r.Battery)-sc.BatteryDrain)))
	}
	return next
}
