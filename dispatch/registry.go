package dispatch

import (
	"sync"
)

// Registry tracks which robots are under dispatch control and serialises
// the read-modify-write of each robot across controllers.
type Registry struct {
	mu       sync.Mutex
	reserved map[int64]bool
	locks    map[int64]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		reserved: make(map[int64]bool),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// TryReserve marks the robot as dispatching. It returns false if it already was.
func (r *Registry) TryReserve(robotID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved[robotID] {
		return false
	}
	r.reserved[robotID] = true
	return true
}

func (r *Registry) Release(robotID int64) {
	r.mu.Lock()
	delete(r.reserved, robotID)
	r.mu.Unlock()
}

func (r *Registry) IsReserved(robotID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved[robotID]
}

// Reserved returns a copy of the reservation set.
func (r *Registry) Reserved() map[int64]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]bool, len(r.reserved))
	for id := range r.reserved {
		out[id] = true
	}
	return out
}

func (r *Registry) robotLock(robotID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[robotID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[robotID] = l
	}
	return l
}

// Lock takes the robot's mutex unconditionally. Dispatch steps use it.
func (r *Registry) Lock(robotID int64) (unlock func()) {
	l := r.robotLock(robotID)
	l.Lock()
	return l.Unlock
}

// Guard takes the robot's mutex for a tick controller. It returns ok=false,
// holding nothing, when the robot is reserved by a dispatch.
func (r *Registry) Guard(robotID int64) (release func(), ok bool) {
	l := r.robotLock(robotID)
	l.Lock()
	if r.IsReserved(robotID) {
		l.Unlock()
		return nil, false
	}
	return l.Unlock, true
}

// Forget drops the bookkeeping for a deleted robot.
func (r *Registry) Forget(robotID int64) {
	r.mu.Lock()
	delete(r.locks, robotID)
	r.mu.Unlock()
}
