package healthsync

import (
	"fmt"
	"strings"
	"sync"
)

// RefTracker hands out short references (C1, C2...) for conflicts shown to
// a user so they can be resolved without typing full IDs.
type RefTracker struct {
	mu      sync.Mutex
	refs    map[string]string // short ref (C1, C2) -> conflict ID
	reverse map[string]string // conflict ID -> short ref
	counter int
}

// NewRefTracker creates an empty tracker.
func NewRefTracker() *RefTracker {
	return &RefTracker{
		refs:    make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Track returns the short reference for a conflict, assigning one if needed.
func (t *RefTracker) Track(id string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ref, ok := t.reverse[id]; ok {
		return ref
	}

	t.counter++
	ref := fmt.Sprintf("C%d", t.counter)
	t.refs[ref] = id
	t.reverse[id] = ref
	return ref
}

// Lookup resolves a short reference or a full conflict ID. Short references
// are case-insensitive.
func (t *RefTracker) Lookup(ref string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.refs[strings.ToUpper(ref)]; ok {
		return id, true
	}
	if _, ok := t.reverse[ref]; ok {
		return ref, true
	}
	return "", false
}
