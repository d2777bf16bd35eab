package healthsync

import (
	"context"
	"errors"
	"time"
)

// Adapter fetches samples from one data source. Implementations must honour
// context cancellation and classify failures as *AdapterError so the
// orchestrator can decide whether to retry.
type Adapter interface {
	// SourceID returns the registered source this adapter serves.
	SourceID() string

	// FetchSamples returns samples for a category captured since the given time.
	FetchSamples(ctx context.Context, category Category, since time.Time) ([]Sample, error)
}

// Estimator is implemented by adapters that can predict how many samples a
// fetch will return. Estimates feed session progress reporting.
type Estimator interface {
	EstimateSamples(ctx context.Context, category Category, since time.Time) (int, error)
}

// AdapterFunc adapts a plain function into an Adapter.
type AdapterFunc struct {
	ID    string
	Fetch func(ctx context.Context, category Category, since time.Time) ([]Sample, error)
}

// SourceID implements Adapter.
func (f AdapterFunc) SourceID() string { return f.ID }

// FetchSamples implements Adapter.
func (f AdapterFunc) FetchSamples(ctx context.Context, category Category, since time.Time) ([]Sample, error) {
	return f.Fetch(ctx, category, since)
}

// classifyAdapterError normalises an adapter failure into *AdapterError.
// Context deadline failures become timeouts; anything unclassified is
// treated as unreachable.
func classifyAdapterError(sourceID string, err error) *AdapterError {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		if ae.SourceID == "" {
			cp := *ae
			cp.SourceID = sourceID
			return &cp
		}
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &AdapterError{SourceID: sourceID, Kind: AdapterTimeout, Err: err}
	}
	return &AdapterError{SourceID: sourceID, Kind: AdapterUnreachable, Err: err}
}
