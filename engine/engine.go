package engine

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"fleetwatch/bus"
	"fleetwatch/config"
	"fleetwatch/dispatch"
	"fleetwatch/metrics"
	"fleetwatch/patrol"
	"fleetwatch/presence"
	"fleetwatch/robotcache"
	"fleetwatch/simulation"
	"fleetwatch/store"
)

type LogFunc func(format string, args ...any)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Redis      *redis.Client // optional; enables the robot list cache
	Bus        bus.Bus       // optional; defaults to an in-process bus
	Metrics    *metrics.Metrics
	LogFunc    LogFunc
}

type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	bus        bus.Bus
	cache      *robotcache.Cache
	metrics    *metrics.Metrics
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	follower   *patrol.Follower
	scheduler  *simulation.Scheduler
	monitor    *simulation.Monitor
	presence   *presence.Tracker
	Events     *Hub
	logFn      LogFunc
	ownsBus    bool
}

// New builds every component and wires the notice handlers. Nothing runs
// until Start.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		bus:        c.Bus,
		metrics:    c.Metrics,
		registry:   dispatch.NewRegistry(),
		presence:   presence.NewTracker(),
		Events:     NewHub(),
		logFn:      logFn,
	}
	if e.bus == nil {
		e.bus = bus.NewMemory(bus.LogFunc(logFn))
		e.ownsBus = true
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}

	em := &robotEmitter{e: e}
	e.dispatcher = dispatch.NewDispatcher(e.db, e.registry, em, e.dispatchParams, dispatch.LogFunc(logFn))
	e.follower = patrol.NewFollower(e.db, e.registry, em, e.patrolParams, patrol.LogFunc(logFn))
	e.scheduler = simulation.NewScheduler(e.cfg, e.db, e.registry, e.follower, em, simulation.LogFunc(logFn))
	e.scheduler.OnTick = func(st simulation.TickStats) {
		e.metrics.ObserveTick(st.Duration, st.Updated, st.Patrolled)
	}
	e.monitor = simulation.NewMonitor(e.cfg, e.db, em, simulation.LogFunc(logFn))

	e.cfg.Lock()
	ttl := e.cfg.Redis.CacheTTL
	e.cfg.Unlock()
	e.cache = robotcache.New(c.Redis, e.db, ttl, robotcache.LogFunc(logFn))
	e.cache.OnLookup = e.metrics.CacheLookup

	e.wireEventHandlers()
	return e
}

// Start launches the offline monitor and, when enabled, the simulation.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.SimulationSnapshot().Enabled {
		e.scheduler.Start(ctx)
	}
	e.monitor.Start(ctx)
	e.logFn("engine: started")
}

// Stop halts the timers, aborts running dispatches and closes an owned bus.
func (e *Engine) Stop() {
	e.scheduler.Stop()
	e.monitor.Stop()
	e.dispatcher.Stop()
	if e.ownsBus {
		e.bus.Close()
	}
	e.logFn("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                        { return e.db }
func (e *Engine) AppConfig() *config.Config            { return e.cfg }
func (e *Engine) ConfigPath() string                   { return e.configPath }
func (e *Engine) Bus() bus.Bus                         { return e.bus }
func (e *Engine) Metrics() *metrics.Metrics            { return e.metrics }
func (e *Engine) Dispatcher() *dispatch.Dispatcher     { return e.dispatcher }
func (e *Engine) Scheduler() *simulation.Scheduler     { return e.scheduler }
func (e *Engine) Monitor() *simulation.Monitor         { return e.monitor }
func (e *Engine) Presence() *presence.Tracker          { return e.presence }
func (e *Engine) Follower() *patrol.Follower           { return e.follower }
func (e *Engine) Registry() *dispatch.Registry         { return e.registry }
func (e *Engine) RobotCache() *robotcache.Cache        { return e.cache }

func (e *Engine) dispatchParams() dispatch.Params {
	e.cfg.Lock()
	defer e.cfg.Unlock()
	d := e.cfg.Dispatch
	return dispatch.Params{Steps: d.Steps, StepDelay: d.StepDelay, Speed: d.Speed}
}

func (e *Engine) patrolParams() patrol.Params {
	e.cfg.Lock()
	defer e.cfg.Unlock()
	return patrol.Params{Step: e.cfg.Patrol.Step, Speed: e.cfg.Patrol.Speed}
}
