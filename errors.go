package healthsync

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the healthsync client.
var (
	// ErrUnknownSource is returned when a source ID is not registered.
	ErrUnknownSource = errors.New("unknown data source")

	// ErrDuplicateSource is returned when a source ID is re-registered with
	// a different capability set.
	ErrDuplicateSource = errors.New("source already registered with different categories")

	// ErrInvalidCategory is returned when a category is not recognised.
	ErrInvalidCategory = errors.New("invalid health category")

	// ErrUnsupportedCategory is returned when a priority list names a source
	// that cannot supply the category.
	ErrUnsupportedCategory = errors.New("source does not support category")

	// ErrDuplicateEntry is returned when a priority list names a source twice.
	ErrDuplicateEntry = errors.New("duplicate source in priority list")

	// ErrInvalidStrategy is returned when a resolution strategy is not recognised.
	ErrInvalidStrategy = errors.New("invalid resolution strategy")

	// ErrConflictNotFound is returned when a conflict ID cannot be found.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictResolved is returned when a resolved conflict is resolved
	// again with a different strategy.
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrNotResolved is returned when undoing a conflict that has no resolution.
	ErrNotResolved = errors.New("conflict is not resolved")

	// ErrManualInputRequired is returned when a manual resolution has neither
	// a value nor a selected source.
	ErrManualInputRequired = errors.New("manual resolution requires a value or selected source")

	// ErrSyncInProgress is returned when another process holds the sync lock.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNoActiveSources is returned when a session has no active adapters.
	ErrNoActiveSources = errors.New("no active sources")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrClientClosed is returned when operating on a closed client.
	ErrClientClosed = errors.New("client is closed")

	// ErrSessionRefNotFound is returned when a conflict reference cannot be resolved.
	ErrSessionRefNotFound = errors.New("session reference not found")
)

// ValidationError is returned when configuration validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ConfigurationError is returned when a registry mutation is rejected.
// Extractable via errors.As(). Unwraps to the matching sentinel.
type ConfigurationError struct {
	Category Category
	SourceID string
	Err      error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Category == "":
		return fmt.Sprintf("registry: source %q: %v", e.SourceID, e.Err)
	case e.SourceID == "":
		return fmt.Sprintf("registry: %s: %v", e.Category, e.Err)
	default:
		return fmt.Sprintf("registry: %s: source %q: %v", e.Category, e.SourceID, e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// AdapterErrorKind classifies adapter failures.
type AdapterErrorKind string

const (
	AdapterUnreachable  AdapterErrorKind = "unreachable"
	AdapterUnauthorized AdapterErrorKind = "unauthorized"
	AdapterRateLimited  AdapterErrorKind = "rate_limited"
	AdapterTimeout      AdapterErrorKind = "timeout"
	AdapterMalformed    AdapterErrorKind = "malformed"
)

// Retryable reports whether an error of this kind is worth retrying.
func (k AdapterErrorKind) Retryable() bool {
	switch k {
	case AdapterUnreachable, AdapterRateLimited, AdapterTimeout:
		return true
	}
	return false
}

// AdapterError is returned by adapters and recorded per source.
// Extractable via errors.As(). Supports Unwrap().
type AdapterError struct {
	SourceID   string
	Kind       AdapterErrorKind
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("adapter %s: %s (status %d): %v", e.SourceID, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("adapter %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// SessionTimeoutError is recorded when a session exceeds its overall timeout.
type SessionTimeoutError struct {
	SessionID string
	Timeout   time.Duration
}

func (e *SessionTimeoutError) Error() string {
	return fmt.Sprintf("sync session %s exceeded timeout of %s", e.SessionID, e.Timeout)
}

// ConflictResolutionError is returned when a strategy cannot be applied.
// Extractable via errors.As(). Supports Unwrap().
type ConflictResolutionError struct {
	ConflictID string
	Strategy   Strategy
	Err        error
}

func (e *ConflictResolutionError) Error() string {
	return fmt.Sprintf("resolve %s with %s: %v", e.ConflictID, e.Strategy, e.Err)
}

func (e *ConflictResolutionError) Unwrap() error { return e.Err }
