package healthsync

import (
	"fmt"
	"sync"
	"time"
)

// SyncState is the orchestrator's lifecycle state.
type SyncState string

const (
	StateIdle      SyncState = "idle"
	StateSyncing   SyncState = "syncing"
	StateSuccess   SyncState = "success"
	StatePartial   SyncState = "partial"
	StateFailed    SyncState = "failed"
	StateCancelled SyncState = "cancelled"
)

// IsTerminal reports whether the state ends a session.
func (s SyncState) IsTerminal() bool {
	switch s {
	case StateSuccess, StatePartial, StateFailed, StateCancelled:
		return true
	}
	return false
}

// validTransitions enumerates the legal edges of the lifecycle.
var validTransitions = map[SyncState][]SyncState{
	StateIdle:      {StateSyncing},
	StateSyncing:   {StateSuccess, StatePartial, StateFailed, StateCancelled},
	StateSuccess:   {StateIdle},
	StatePartial:   {StateIdle},
	StateFailed:    {StateIdle},
	StateCancelled: {StateIdle},
}

// StateSnapshot is a point-in-time view of the orchestrator.
type StateSnapshot struct {
	State     SyncState `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Progress  float64   `json:"progress"`
	// Summary is set once a session reaches a terminal state.
	Summary *Summary  `json:"summary,omitempty"`
	At      time.Time `json:"at"`
}

// stateMachine guards SyncState transitions and fans snapshots out to
// subscribers. Slow subscribers drop intermediate snapshots.
type stateMachine struct {
	mu          sync.Mutex
	current     StateSnapshot
	subscribers map[int]chan StateSnapshot
	nextID      int
}

func newStateMachine() *stateMachine {
	return &stateMachine{
		current:     StateSnapshot{State: StateIdle, At: time.Now().UTC()},
		subscribers: make(map[int]chan StateSnapshot),
	}
}

func (m *stateMachine) snapshot() StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// transition moves to the next state, rejecting illegal edges.
func (m *stateMachine) transition(to SyncState, update func(*StateSnapshot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !allowed(m.current.State, to) {
		return fmt.Errorf("sync state: illegal transition %s -> %s", m.current.State, to)
	}
	m.current.State = to
	if update != nil {
		update(&m.current)
	}
	m.current.At = time.Now().UTC()
	m.publishLocked()
	return nil
}

// setProgress updates progress while syncing. Progress never decreases.
func (m *stateMachine) setProgress(p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State != StateSyncing || p <= m.current.Progress {
		return
	}
	if p > 1 {
		p = 1
	}
	m.current.Progress = p
	m.current.At = time.Now().UTC()
	m.publishLocked()
}

func (m *stateMachine) subscribe() (<-chan StateSnapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan StateSnapshot, 16)
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch
	ch <- m.current

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (m *stateMachine) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		delete(m.subscribers, id)
		close(ch)
	}
}

func (m *stateMachine) publishLocked() {
	for _, ch := range m.subscribers {
		select {
		case ch <- m.current:
		default:
		}
	}
}

func allowed(from, to SyncState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
