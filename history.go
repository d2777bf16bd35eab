package healthsync

import (
	"context"
	"time"
)

// Persistence is the storage contract consumed by the client. Session,
// resolution, and audit records are append-only; the only in-place changes
// are conflict status, the undone marker on a reversed resolution, and the
// superseded marker on readings replaced by newer ones for the same bucket.
type Persistence interface {
	SaveSource(ctx context.Context, src DataSource) error
	LoadSources(ctx context.Context) ([]DataSource, error)
	SavePriority(ctx context.Context, category Category, ids []string) error
	LoadPriorities(ctx context.Context) (map[Category][]string, error)

	// AppendSession records a finished session with its conflicts and the
	// readings and resolutions produced during it.
	AppendSession(ctx context.Context, rec SessionRecord) error
	Sessions(ctx context.Context, limit int) ([]SyncSession, error)

	Conflict(ctx context.Context, id string) (*Conflict, error)
	PendingConflicts(ctx context.Context) ([]Conflict, error)
	// SaveResolution stores a resolution, updates the conflict status, and
	// records the derived readings in one transaction.
	SaveResolution(ctx context.Context, c Conflict, res Resolution, readings []Reading) error
	// UndoResolution reopens a conflict and supersedes its readings.
	UndoResolution(ctx context.Context, conflictID string, at time.Time) error

	Readings(ctx context.Context, q ReadingQuery) ([]Reading, error)
	// CurrentSamples returns the samples behind the current readings for a
	// metric and bucket.
	CurrentSamples(ctx context.Context, metric string, bucketStart time.Time) ([]Sample, error)

	Watermark(ctx context.Context, sourceID string, category Category) (time.Time, bool, error)
	SetWatermark(ctx context.Context, sourceID string, category Category, since time.Time) error

	AppendAudit(ctx context.Context, entry AuditEntry) error
	Audit(ctx context.Context, limit int) ([]AuditEntry, error)

	Close() error
}

// SessionRecord is everything a finished session writes to history.
type SessionRecord struct {
	Session     SyncSession
	Conflicts   []Conflict
	Resolutions []Resolution
	Readings    []Reading
}

// ReadingQuery filters authoritative readings.
type ReadingQuery struct {
	Metric string
	Since  time.Time
	Until  time.Time
	Limit  int
}
