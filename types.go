package healthsync

import "time"

// Category groups related health metrics.
type Category string

const (
	CategoryActivity        Category = "activity"
	CategorySleep           Category = "sleep"
	CategoryNutrition       Category = "nutrition"
	CategoryBodyComposition Category = "body_composition"
	CategoryHeartHealth     Category = "heart_health"
	CategoryMindfulness     Category = "mindfulness"
)

// ValidCategories returns all valid health categories.
func ValidCategories() []Category {
	return []Category{
		CategoryActivity,
		CategorySleep,
		CategoryNutrition,
		CategoryBodyComposition,
		CategoryHeartHealth,
		CategoryMindfulness,
	}
}

// IsValid checks if the category is a known health category.
func (c Category) IsValid() bool {
	for _, valid := range ValidCategories() {
		if c == valid {
			return true
		}
	}
	return false
}

// IntegrationKind describes how a source is connected.
type IntegrationKind string

const (
	IntegrationNative IntegrationKind = "native"
	IntegrationOAuth2 IntegrationKind = "oauth2"
	IntegrationFile   IntegrationKind = "file"
)

// IsValid checks if the integration kind is known.
func (k IntegrationKind) IsValid() bool {
	switch k {
	case IntegrationNative, IntegrationOAuth2, IntegrationFile:
		return true
	}
	return false
}

// DataSource is a registered origin of health samples.
type DataSource struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Categories  []Category      `json:"categories"`
	Active      bool            `json:"active"`
	Kind        IntegrationKind `json:"kind"`
	LastSyncAt  *time.Time      `json:"last_sync_at,omitempty"`
}

// Supports reports whether the source can supply the category.
func (s DataSource) Supports(c Category) bool {
	for _, have := range s.Categories {
		if have == c {
			return true
		}
	}
	return false
}

// Sample is one source's reading for one metric over one time bucket.
type Sample struct {
	Metric      string    `json:"metric" yaml:"metric"`
	Category    Category  `json:"category,omitempty" yaml:"category,omitempty"`
	SourceID    string    `json:"source_id" yaml:"source_id"`
	BucketStart time.Time `json:"bucket_start" yaml:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end" yaml:"bucket_end"`
	Value       float64   `json:"value" yaml:"value"`
	Unit        string    `json:"unit" yaml:"unit"`
	CapturedAt  time.Time `json:"captured_at" yaml:"captured_at"`
}

// Severity grades how far conflicting samples disagree.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so comparisons stay monotonic.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// ConflictStatus is the resolution state of a conflict.
type ConflictStatus string

const (
	ConflictUnresolved       ConflictStatus = "unresolved"
	ConflictAutoResolved     ConflictStatus = "auto_resolved"
	ConflictManuallyResolved ConflictStatus = "manually_resolved"
	ConflictIgnored          ConflictStatus = "ignored"
)

// IsTerminal reports whether the conflict has a final resolution.
func (s ConflictStatus) IsTerminal() bool {
	return s == ConflictAutoResolved || s == ConflictManuallyResolved || s == ConflictIgnored
}

// Conflict is a group of samples for the same metric and bucket whose values
// disagree beyond the metric's tolerance.
type Conflict struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Metric      string         `json:"metric"`
	Category    Category       `json:"category"`
	BucketStart time.Time      `json:"bucket_start"`
	BucketEnd   time.Time      `json:"bucket_end"`
	Samples     []Sample       `json:"samples"`
	Severity    Severity       `json:"severity"`
	MaxDelta    float64        `json:"max_delta"`
	DetectedAt  time.Time      `json:"detected_at"`
	Status      ConflictStatus `json:"status"`
	Resolution  *Resolution    `json:"resolution,omitempty"`
}

// Sources returns the distinct contributing source IDs in sample order.
func (c *Conflict) Sources() []string {
	seen := make(map[string]bool, len(c.Samples))
	out := make([]string, 0, len(c.Samples))
	for _, s := range c.Samples {
		if !seen[s.SourceID] {
			seen[s.SourceID] = true
			out = append(out, s.SourceID)
		}
	}
	return out
}

// Strategy selects how a conflict is resolved.
type Strategy string

const (
	StrategyPriority Strategy = "priority"
	StrategyLatest   Strategy = "latest"
	StrategyMerge    Strategy = "merge"
	StrategyManual   Strategy = "manual"
	StrategyIgnore   Strategy = "ignore"
)

// ValidStrategies returns all resolution strategies.
func ValidStrategies() []Strategy {
	return []Strategy{StrategyPriority, StrategyLatest, StrategyMerge, StrategyManual, StrategyIgnore}
}

// IsValid checks if the strategy is known.
func (s Strategy) IsValid() bool {
	for _, valid := range ValidStrategies() {
		if s == valid {
			return true
		}
	}
	return false
}

// ResolverSystem identifies resolutions applied without user involvement.
const ResolverSystem = "system"

// Resolution is the chosen outcome for a conflict.
type Resolution struct {
	ConflictID string `json:"conflict_id"`
	// Strategy is the strategy actually applied.
	Strategy Strategy `json:"strategy"`
	// Requested is the strategy the caller asked for; differs from Strategy on fallback.
	Requested      Strategy  `json:"requested"`
	FellBack       bool      `json:"fell_back,omitempty"`
	Value          *float64  `json:"value,omitempty"`
	SelectedSource string    `json:"selected_source,omitempty"`
	Retained       []Sample  `json:"retained,omitempty"`
	ResolvedBy     string    `json:"resolved_by"`
	ResolvedAt     time.Time `json:"resolved_at"`
	Deferred       bool      `json:"deferred,omitempty"`
	Note           string    `json:"note,omitempty"`
}

// Trigger describes what started a sync session.
type Trigger string

const (
	TriggerManual     Trigger = "manual"
	TriggerScheduled  Trigger = "scheduled"
	TriggerBackground Trigger = "background"
)

// IsValid checks if the trigger is known.
func (t Trigger) IsValid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerBackground:
		return true
	}
	return false
}

// OutcomeStatus is the per-source result of a session.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomePartial OutcomeStatus = "partial"
	OutcomeFailed  OutcomeStatus = "failed"
)

// SourceOutcome records how one adapter fared during a session.
type SourceOutcome struct {
	SourceID   string           `json:"source_id"`
	Status     OutcomeStatus    `json:"status"`
	Samples    int              `json:"samples"`
	Attempts   int              `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  AdapterErrorKind `json:"error_kind,omitempty"`
	Categories []Category       `json:"categories"`
}

// SyncSession is one orchestration run.
type SyncSession struct {
	ID                string          `json:"id"`
	Trigger           Trigger         `json:"trigger"`
	StartedAt         time.Time       `json:"started_at"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
	Outcomes          []SourceOutcome `json:"outcomes"`
	Progress          float64         `json:"progress"`
	SamplesIngested   int             `json:"samples_ingested"`
	ConflictsFound    int             `json:"conflicts_found"`
	ConflictsResolved int             `json:"conflicts_resolved"`
	Status            SyncState       `json:"status"`
	Error             string          `json:"error,omitempty"`
}

// ReadingOrigin explains how an authoritative reading was produced.
type ReadingOrigin string

const (
	OriginSingle     ReadingOrigin = "single"
	OriginAgreement  ReadingOrigin = "agreement"
	OriginResolution ReadingOrigin = "resolution"
	OriginIgnored    ReadingOrigin = "ignored"
)

// Reading is an authoritative value for one metric and bucket.
type Reading struct {
	SessionID   string        `json:"session_id"`
	Metric      string        `json:"metric"`
	Category    Category      `json:"category"`
	BucketStart time.Time     `json:"bucket_start"`
	BucketEnd   time.Time     `json:"bucket_end"`
	Value       float64       `json:"value"`
	Unit        string        `json:"unit"`
	Sources     []string      `json:"sources"`
	Origin      ReadingOrigin `json:"origin"`
	ConflictID  string        `json:"conflict_id,omitempty"`
	// Samples are the per-source values the reading was derived from. A later
	// session reconciles new samples for the bucket against them.
	Samples []Sample `json:"-"`
}

// Summary is emitted after each session for presentation layers.
type Summary struct {
	SessionID         string          `json:"session_id"`
	Status            SyncState       `json:"status"`
	SamplesIngested   int             `json:"samples_ingested"`
	ConflictsFound    int             `json:"conflicts_found"`
	ConflictsResolved int             `json:"conflicts_resolved"`
	PerSource         []SourceOutcome `json:"per_source"`
	Duration          time.Duration   `json:"duration"`
	Error             string          `json:"error,omitempty"`
}

// Headline distinguishes the user-facing outcomes of a session.
func (s Summary) Headline() string {
	switch s.Status {
	case StateSuccess:
		return "fully synced"
	case StatePartial:
		if s.ConflictsFound > s.ConflictsResolved {
			return "synced with unresolved conflicts awaiting your input"
		}
		return "partially synced; some sources failed"
	case StateCancelled:
		return "sync cancelled"
	default:
		return "sync failed"
	}
}

// AuditKind classifies audit log entries.
type AuditKind string

const (
	AuditSessionCompleted AuditKind = "session_completed"
	AuditConflictResolved AuditKind = "conflict_resolved"
	AuditResolutionUndone AuditKind = "resolution_undone"
	AuditPriorityChanged  AuditKind = "priority_changed"
	AuditSourceRegistered AuditKind = "source_registered"
	AuditSourceActivity   AuditKind = "source_activity_changed"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Kind    AuditKind `json:"kind"`
	Subject string    `json:"subject"`
	Actor   string    `json:"actor"`
	Detail  string    `json:"detail,omitempty"`
}
