package simulation

import (
	"context"
	"log"
	"sync"
	"time"

	"fleetwatch/config"
	"fleetwatch/store"
)

// OfflineStore is the persistence the offline monitor needs.
type OfflineStore interface {
	MarkStaleOffline(cutoff time.Time) ([]store.StatusFlip, error)
}

// Monitor takes robots offline when nothing has touched them for longer
// than the configured offline-after duration. It checks once on start and
// then on its own timer, so it still fires while the scheduler is stopped.
type Monitor struct {
	cfg     *config.Config
	store   OfflineStore
	emitter Emitter
	logFn   LogFunc
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	reset    chan time.Duration
	done     chan struct{}
}

func NewMonitor(cfg *config.Config, s OfflineStore, e Emitter, logFn LogFunc) *Monitor {
	if logFn == nil {
		logFn = log.Printf
	}
	return &Monitor{cfg: cfg, store: s, emitter: e, logFn: logFn, now: time.Now}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	every := m.cfg.SimulationSnapshot().OfflineCheck
	if every <= 0 {
		m.logFn("offline: monitor disabled")
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.reset = make(chan time.Duration, 1)
	m.done = make(chan struct{})
	go m.run(ctx, every, m.stopChan, m.reset, m.done)
}

// Stop is idempotent and waits for an in-flight check.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reconfigure picks up a changed check interval.
func (m *Monitor) Reconfigure() {
	every := m.cfg.SimulationSnapshot().OfflineCheck
	if every <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	select {
	case <-m.reset:
	default:
	}
	m.reset <- every
}

func (m *Monitor) run(ctx context.Context, every time.Duration, stop <-chan struct{}, reset <-chan time.Duration, done chan<- struct{}) {
	defer close(done)
	m.Check()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.mu.Lock()
			if m.done == done {
				m.running = false
			}
			m.mu.Unlock()
			return
		case d := <-reset:
			ticker.Reset(d)
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check flips stale robots offline and returns how many changed. Only rows
// this call actually changed produce events, so back-to-back checks never
// report the same robot twice.
func (m *Monitor) Check() int {
	after := m.cfg.SimulationSnapshot().OfflineAfter
	if after <= 0 {
		return 0
	}
	flips, err := m.store.MarkStaleOffline(m.now().Add(-after))
	if err != nil {
		m.logFn("offline: check: %v", err)
		return 0
	}
	for _, f := range flips {
		m.emitter.StatusChanged(f.Robot, f.From, "timeout")
		m.emitter.RobotMoved(f.Robot, nil)
	}
	if len(flips) > 0 {
		m.logFn("offline: %d robots timed out", len(flips))
	}
	return len(flips)
}
