package healthsync

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds the registered data sources and the per-category priority
// rankings. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	sources    map[string]DataSource
	order      []string
	priorities map[Category][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:    make(map[string]DataSource),
		priorities: make(map[Category][]string),
	}
}

// Register adds a source or updates an existing one with the same
// capability set. An update changes the display name and kind only; the
// activation state and last sync time stay as they were. New sources are
// appended to the end of every supported category's priority list.
func (r *Registry) Register(src DataSource) error {
	if src.ID == "" {
		return &ConfigurationError{Err: fmt.Errorf("%w: empty id", ErrUnknownSource)}
	}
	if len(src.Categories) == 0 {
		return &ConfigurationError{SourceID: src.ID, Err: fmt.Errorf("%w: no categories", ErrInvalidCategory)}
	}
	for _, c := range src.Categories {
		if !c.IsValid() {
			return &ConfigurationError{Category: c, SourceID: src.ID, Err: ErrInvalidCategory}
		}
	}
	if src.Kind == "" {
		src.Kind = IntegrationNative
	}
	src.Categories = dedupeCategories(src.Categories)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sources[src.ID]; ok {
		if !sameCategories(existing.Categories, src.Categories) {
			return &ConfigurationError{SourceID: src.ID, Err: ErrDuplicateSource}
		}
		existing.DisplayName = src.DisplayName
		existing.Kind = src.Kind
		r.sources[src.ID] = existing
		return nil
	}

	r.sources[src.ID] = src
	r.order = append(r.order, src.ID)
	for _, c := range src.Categories {
		if !containsString(r.priorities[c], src.ID) {
			r.priorities[c] = append(r.priorities[c], src.ID)
		}
	}
	return nil
}

// SetPriority replaces the ranking for a category. Every listed source must
// be registered, appear once, and support the category.
func (r *Registry) SetPriority(category Category, ids []string) error {
	if !category.IsValid() {
		return &ConfigurationError{Category: category, Err: fmt.Errorf("%w: %w", ErrUnsupportedCategory, ErrInvalidCategory)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		src, ok := r.sources[id]
		if !ok {
			return &ConfigurationError{Category: category, SourceID: id, Err: ErrUnknownSource}
		}
		if seen[id] {
			return &ConfigurationError{Category: category, SourceID: id, Err: ErrDuplicateEntry}
		}
		seen[id] = true
		if !src.Supports(category) {
			return &ConfigurationError{Category: category, SourceID: id, Err: ErrUnsupportedCategory}
		}
	}

	r.priorities[category] = append([]string(nil), ids...)
	return nil
}

// Priority returns the full ranking for a category, including inactive sources.
func (r *Registry) Priority(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.priorities[category]...)
}

// ResolvedOrderFor returns the ranking for a category filtered to active
// sources. Inactive sources keep their position for when they return.
func (r *Registry) ResolvedOrderFor(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return activeOrder(r.priorities[category], r.sources)
}

// PreferredSource returns the highest-priority active source for a category.
func (r *Registry) PreferredSource(category Category) (string, bool) {
	order := r.ResolvedOrderFor(category)
	if len(order) == 0 {
		return "", false
	}
	return order[0], true
}

// SetActive enables or disables a source.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return &ConfigurationError{SourceID: id, Err: ErrUnknownSource}
	}
	src.Active = active
	r.sources[id] = src
	return nil
}

// MarkSynced records the completion time of a source's last successful fetch.
func (r *Registry) MarkSynced(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[id]
	if !ok {
		return &ConfigurationError{SourceID: id, Err: ErrUnknownSource}
	}
	t := at.UTC()
	src.LastSyncAt = &t
	r.sources[id] = src
	return nil
}

// Source returns a copy of a registered source.
func (r *Registry) Source(id string) (DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return DataSource{}, false
	}
	return copySource(src), true
}

// Sources returns copies of all sources in registration order.
func (r *Registry) Sources() []DataSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DataSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copySource(r.sources[id]))
	}
	return out
}

// Snapshot captures an immutable view of sources and rankings. A sync
// session resolves against the snapshot taken at its start.
func (r *Registry) Snapshot() *RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &RegistrySnapshot{
		sources:    make(map[string]DataSource, len(r.sources)),
		order:      append([]string(nil), r.order...),
		priorities: make(map[Category][]string, len(r.priorities)),
	}
	for id, src := range r.sources {
		snap.sources[id] = copySource(src)
	}
	for c, ids := range r.priorities {
		snap.priorities[c] = append([]string(nil), ids...)
	}
	return snap
}

// RegistrySnapshot is a read-only copy of the registry.
type RegistrySnapshot struct {
	sources    map[string]DataSource
	order      []string
	priorities map[Category][]string
}

// ActiveSources returns the active sources in registration order.
func (s *RegistrySnapshot) ActiveSources() []DataSource {
	var out []DataSource
	for _, id := range s.order {
		if src := s.sources[id]; src.Active {
			out = append(out, copySource(src))
		}
	}
	return out
}

// ResolvedOrderFor mirrors Registry.ResolvedOrderFor against the snapshot.
func (s *RegistrySnapshot) ResolvedOrderFor(category Category) []string {
	return activeOrder(s.priorities[category], s.sources)
}

// PreferredSource mirrors Registry.PreferredSource against the snapshot.
func (s *RegistrySnapshot) PreferredSource(category Category) (string, bool) {
	order := s.ResolvedOrderFor(category)
	if len(order) == 0 {
		return "", false
	}
	return order[0], true
}

// RankSources orders source IDs by their rank for a category. Active
// ranked sources come first, then inactive ranked sources, then unranked
// sources ordered by ID.
func (s *RegistrySnapshot) RankSources(category Category, ids []string) []string {
	active := s.ResolvedOrderFor(category)
	full := s.priorities[category]
	position := func(id string) int {
		for i, a := range active {
			if a == id {
				return i
			}
		}
		for i, a := range full {
			if a == id {
				return len(active) + i
			}
		}
		return -1
	}

	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := position(out[i]), position(out[j])
		switch {
		case pi >= 0 && pj >= 0:
			return pi < pj
		case pi >= 0:
			return true
		case pj >= 0:
			return false
		default:
			return out[i] < out[j]
		}
	})
	return out
}

func activeOrder(ids []string, sources map[string]DataSource) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if src, ok := sources[id]; ok && src.Active {
			out = append(out, id)
		}
	}
	return out
}

func copySource(src DataSource) DataSource {
	src.Categories = append([]Category(nil), src.Categories...)
	if src.LastSyncAt != nil {
		t := *src.LastSyncAt
		src.LastSyncAt = &t
	}
	return src
}

func dedupeCategories(in []Category) []Category {
	seen := make(map[Category]bool, len(in))
	out := make([]Category, 0, len(in))
	for _, c := range in {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func sameCategories(a, b []Category) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[Category]bool, len(a))
	for _, c := range a {
		set[c] = true
	}
	for _, c := range b {
		if !set[c] {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
