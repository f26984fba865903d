// Package presence tracks which operators are connected to the gateway and
// which robot each of them is looking at.
package presence

import (
	"sort"
	"strconv"
	"sync"
)

// State is the aggregate broadcast as ops_state.
type State struct {
	OperatorsOnline int            `json:"operatorsOnline"`
	FocusCounts     map[string]int `json:"focusCounts"`
}

type session struct {
	conns map[string]struct{}
	focus *int64
}

// Tracker is safe for concurrent use by every gateway connection.
type Tracker struct {
	mu       sync.Mutex
	sessions map[int64]*session
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[int64]*session)}
}

// Join registers an authenticated connection. A returning operator keeps the
// focus set by their other connections.
func (t *Tracker) Join(observer int64, connID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[observer]
	if !ok {
		s = &session{conns: make(map[string]struct{})}
		t.sessions[observer] = s
	}
	s.conns[connID] = struct{}{}
	return t.stateLocked()
}

// Leave drops one connection. The session and its focus disappear with the
// last connection. The bool reports whether anything changed.
func (t *Tracker) Leave(observer int64, connID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[observer]
	if !ok {
		return t.stateLocked(), false
	}
	if _, ok := s.conns[connID]; !ok {
		return t.stateLocked(), false
	}
	delete(s.conns, connID)
	if len(s.conns) == 0 {
		delete(t.sessions, observer)
	}
	return t.stateLocked(), true
}

// SetFocus records the robot an operator is focused on; nil clears it.
// Focus from an operator with no open connection is ignored.
func (t *Tracker) SetFocus(observer int64, robotID *int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[observer]; ok {
		if robotID == nil {
			s.focus = nil
		} else {
			id := *robotID
			s.focus = &id
		}
	}
	return t.stateLocked()
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Online returns the ids of connected operators in ascending order.
func (t *Tracker) Online() []int64 {
	t.mu.Lock()
	ids := make([]int64, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *Tracker) stateLocked() State {
	st := State{OperatorsOnline: len(t.sessions), FocusCounts: make(map[string]int)}
	for _, s := range t.sessions {
		if s.focus != nil {
			st.FocusCounts[strconv.FormatInt(*s.focus, 10)]++
		}
	}
	return st
}
