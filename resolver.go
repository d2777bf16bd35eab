package healthsync

import (
	"errors"
	"fmt"
	"time"
)

// ResolveOptions carries caller input for a resolution.
type ResolveOptions struct {
	// Value is an explicit authoritative value for manual resolution.
	Value *float64
	// SourceID selects a contributing source's value for manual resolution.
	SourceID string
	// ResolvedBy identifies the user. Empty means the system.
	ResolvedBy string
	Note       string
}

// Resolver applies resolution strategies to conflicts. It holds no mutable
// state and may be shared.
type Resolver struct {
	metrics *MetricTable
	now     func() time.Time
}

// NewResolver creates a resolver using the given metric table.
func NewResolver(metrics *MetricTable) *Resolver {
	if metrics == nil {
		metrics = NewMetricTable(DefaultTolerance, nil)
	}
	return &Resolver{metrics: metrics, now: time.Now}
}

// Resolve computes the resolution of a conflict under a strategy. A manual
// strategy without a value or selected source returns a Deferred resolution
// and leaves the conflict unresolved. Merge on a categorical metric falls
// back to priority; the fallback is recorded on the resolution.
func (r *Resolver) Resolve(c Conflict, strategy Strategy, opts ResolveOptions, snap *RegistrySnapshot) (Resolution, error) {
	if !strategy.IsValid() {
		return Resolution{}, &ConflictResolutionError{ConflictID: c.ID, Strategy: strategy, Err: ErrInvalidStrategy}
	}
	if len(c.Samples) == 0 {
		return Resolution{}, &ConflictResolutionError{ConflictID: c.ID, Strategy: strategy, Err: errors.New("conflict has no samples")}
	}

	by := opts.ResolvedBy
	if by == "" {
		by = ResolverSystem
	}
	res := Resolution{
		ConflictID: c.ID,
		Strategy:   strategy,
		Requested:  strategy,
		ResolvedBy: by,
		ResolvedAt: r.now().UTC(),
		Note:       opts.Note,
	}

	switch strategy {
	case StrategyPriority:
		r.pick(&res, priorityWinner(c, snap))

	case StrategyLatest:
		r.pick(&res, latestWinner(c, snap))

	case StrategyMerge:
		spec := r.metrics.Lookup(c.Metric)
		if !spec.Averageable() {
			fallback := &ConflictResolutionError{
				ConflictID: c.ID,
				Strategy:   StrategyMerge,
				Err:        fmt.Errorf("metric %s is categorical and cannot be averaged", c.Metric),
			}
			res.Strategy = StrategyPriority
			res.FellBack = true
			res.Note = joinNote(res.Note, fallback.Error()+"; fell back to priority")
			r.pick(&res, priorityWinner(c, snap))
			break
		}
		v := meanRounded(c.Samples, spec.Precision)
		res.Value = &v

	case StrategyManual:
		switch {
		case opts.Value != nil:
			v := *opts.Value
			res.Value = &v
		case opts.SourceID != "":
			s, ok := sampleFrom(c, opts.SourceID)
			if !ok {
				return Resolution{}, &ConflictResolutionError{
					ConflictID: c.ID,
					Strategy:   strategy,
					Err:        fmt.Errorf("%w: %s did not contribute to this conflict", ErrUnknownSource, opts.SourceID),
				}
			}
			r.pick(&res, s)
		default:
			res.Deferred = true
		}

	case StrategyIgnore:
		res.Retained = append([]Sample(nil), c.Samples...)
	}

	return res, nil
}

func (r *Resolver) pick(res *Resolution, s Sample) {
	v := s.Value
	res.Value = &v
	res.SelectedSource = s.SourceID
}

// StatusFor maps an applied resolution to the conflict's terminal status.
func StatusFor(res Resolution) ConflictStatus {
	switch {
	case res.Deferred:
		return ConflictUnresolved
	case res.Strategy == StrategyIgnore:
		return ConflictIgnored
	case res.ResolvedBy == ResolverSystem:
		return ConflictAutoResolved
	default:
		return ConflictManuallyResolved
	}
}

// ReadingsFor derives the authoritative readings produced by a resolution.
// Ignored conflicts keep every sample as a separate reading.
func ReadingsFor(c Conflict, res Resolution) []Reading {
	if res.Deferred {
		return nil
	}
	base := Reading{
		SessionID:   c.SessionID,
		Metric:      c.Metric,
		Category:    c.Category,
		BucketStart: c.BucketStart,
		BucketEnd:   c.BucketEnd,
		ConflictID:  c.ID,
		Samples:     c.Samples,
	}
	if res.Strategy == StrategyIgnore {
		out := make([]Reading, 0, len(res.Retained))
		for _, s := range res.Retained {
			rd := base
			rd.Value, rd.Unit, rd.Sources, rd.Origin = s.Value, s.Unit, []string{s.SourceID}, OriginIgnored
			out = append(out, rd)
		}
		return out
	}
	if res.Value == nil {
		return nil
	}
	rd := base
	rd.Value = *res.Value
	rd.Origin = OriginResolution
	rd.Unit = c.Samples[0].Unit
	if s, ok := sampleFrom(c, res.SelectedSource); ok {
		rd.Unit = s.Unit
		rd.Sources = []string{s.SourceID}
	} else {
		rd.Sources = c.Sources()
	}
	return []Reading{rd}
}

// priorityWinner returns the sample from the highest-ranked contributor.
func priorityWinner(c Conflict, snap *RegistrySnapshot) Sample {
	return preferredSample(c.Category, c.Samples, snap)
}

// latestWinner returns the most recently captured sample, breaking ties by
// priority.
func latestWinner(c Conflict, snap *RegistrySnapshot) Sample {
	var newest time.Time
	for _, s := range c.Samples {
		if s.CapturedAt.After(newest) {
			newest = s.CapturedAt
		}
	}
	var tied []Sample
	for _, s := range c.Samples {
		if s.CapturedAt.Equal(newest) {
			tied = append(tied, s)
		}
	}
	return preferredSample(c.Category, tied, snap)
}

func sampleFrom(c Conflict, sourceID string) (Sample, bool) {
	for _, s := range c.Samples {
		if s.SourceID == sourceID {
			return s, true
		}
	}
	return Sample{}, false
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// AutoStrategy decides whether a freshly detected conflict is resolved
// without user input, and with which strategy. Low severity conflicts are
// auto-resolved only when autoResolveMinor is set. A manual default never
// auto-resolves, since it needs a value from the user.
func AutoStrategy(c Conflict, defaultStrategy Strategy, autoResolveMinor bool) (Strategy, bool) {
	if defaultStrategy == StrategyManual {
		return "", false
	}
	if c.Severity == SeverityLow && !autoResolveMinor {
		return "", false
	}
	return defaultStrategy, true
}
