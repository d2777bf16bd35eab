package healthsync

import (
	"testing"
)

func TestStateMachine_Transitions(t *testing.T) {
	m := newStateMachine()

	if got := m.snapshot().State; got != StateIdle {
		t.Fatalf("initial state = %q, want idle", got)
	}
	if err := m.transition(StateSuccess, nil); err == nil {
		t.Error("idle -> success should be rejected")
	}
	if err := m.transition(StateSyncing, func(s *StateSnapshot) { s.SessionID = "s1" }); err != nil {
		t.Fatalf("idle -> syncing error = %v", err)
	}
	if err := m.transition(StateSyncing, nil); err == nil {
		t.Error("syncing -> syncing should be rejected")
	}
	if err := m.transition(StatePartial, nil); err != nil {
		t.Fatalf("syncing -> partial error = %v", err)
	}
	if err := m.transition(StateSyncing, nil); err == nil {
		t.Error("partial -> syncing should be rejected")
	}
	if err := m.transition(StateIdle, nil); err != nil {
		t.Fatalf("partial -> idle error = %v", err)
	}
	if got := m.snapshot().SessionID; got != "s1" {
		t.Errorf("SessionID = %q, want retained s1", got)
	}
}

func TestStateMachine_ProgressMonotonic(t *testing.T) {
	m := newStateMachine()

	m.setProgress(0.5)
	if got := m.snapshot().Progress; got != 0 {
		t.Errorf("progress while idle = %v, want 0", got)
	}

	if err := m.transition(StateSyncing, nil); err != nil {
		t.Fatal(err)
	}
	m.setProgress(0.5)
	m.setProgress(0.25)
	if got := m.snapshot().Progress; got != 0.5 {
		t.Errorf("progress = %v, want 0.5", got)
	}
	m.setProgress(3)
	if got := m.snapshot().Progress; got != 1 {
		t.Errorf("progress = %v, want clamped to 1", got)
	}
}

func TestStateMachine_Subscribe(t *testing.T) {
	m := newStateMachine()
	ch, cancel := m.subscribe()

	first := <-ch
	if first.State != StateIdle {
		t.Errorf("first snapshot = %q, want idle", first.State)
	}

	if err := m.transition(StateSyncing, nil); err != nil {
		t.Fatal(err)
	}
	if got := <-ch; got.State != StateSyncing {
		t.Errorf("snapshot = %q, want syncing", got.State)
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	m.setProgress(0.3)
}

func TestStateMachine_CloseSubscribers(t *testing.T) {
	m := newStateMachine()
	ch, cancel := m.subscribe()
	<-ch

	m.closeSubscribers()
	if _, ok := <-ch; ok {
		t.Error("channel still open after closeSubscribers")
	}
	cancel()
}

func TestSyncState_IsTerminal(t *testing.T) {
	for _, s := range []SyncState{StateSuccess, StatePartial, StateFailed, StateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SyncState{StateIdle, StateSyncing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSummary_Headline(t *testing.T) {
	tests := []struct {
		s    Summary
		want string
	}{
		{Summary{Status: StateSuccess}, "fully synced"},
		{Summary{Status: StatePartial, ConflictsFound: 2, ConflictsResolved: 1}, "synced with unresolved conflicts awaiting your input"},
		{Summary{Status: StatePartial, ConflictsFound: 1, ConflictsResolved: 1}, "partially synced; some sources failed"},
		{Summary{Status: StateCancelled}, "sync cancelled"},
		{Summary{Status: StateFailed}, "sync failed"},
	}
	for _, tt := range tests {
		if got := tt.s.Headline(); got != tt.want {
			t.Errorf("Headline(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}
