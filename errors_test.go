package healthsync

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "LocalPath", Message: "required"}
	if got := err.Error(); got != "config: LocalPath: required" {
		t.Errorf("Error() = %q", got)
	}
}

func TestConfigurationError_Unwrap(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigurationError
		want string
	}{
		{"source only", &ConfigurationError{SourceID: "watch", Err: ErrDuplicateSource}, `registry: source "watch"`},
		{"category only", &ConfigurationError{Category: CategorySleep, Err: ErrInvalidCategory}, "registry: sleep:"},
		{"both", &ConfigurationError{Category: CategorySleep, SourceID: "scale", Err: ErrUnsupportedCategory}, `registry: sleep: source "scale"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.err.Error(), tt.want) {
				t.Errorf("Error() = %q, want prefix %q", tt.err.Error(), tt.want)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.err.Err) {
				t.Error("errors.Is did not reach the sentinel")
			}
			var cfgErr *ConfigurationError
			if !errors.As(wrapped, &cfgErr) {
				t.Error("errors.As did not find *ConfigurationError")
			}
		})
	}
}

func TestAdapterError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &AdapterError{SourceID: "watch", Kind: AdapterUnreachable, Err: cause}

	if !errors.Is(err, cause) {
		t.Error("AdapterError does not unwrap to its cause")
	}
	if got := err.Error(); got != "adapter watch: unreachable: connection refused" {
		t.Errorf("Error() = %q", got)
	}

	withStatus := &AdapterError{SourceID: "watch", Kind: AdapterRateLimited, StatusCode: 429, Err: cause}
	if !strings.Contains(withStatus.Error(), "status 429") {
		t.Errorf("Error() = %q, want status code", withStatus.Error())
	}
}

func TestAdapterErrorKind_Retryable(t *testing.T) {
	tests := map[AdapterErrorKind]bool{
		AdapterUnreachable:  true,
		AdapterRateLimited:  true,
		AdapterTimeout:      true,
		AdapterUnauthorized: false,
		AdapterMalformed:    false,
	}
	for kind, want := range tests {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestConflictResolutionError(t *testing.T) {
	err := &ConflictResolutionError{ConflictID: "c1", Strategy: StrategyManual, Err: ErrManualInputRequired}
	if !errors.Is(err, ErrManualInputRequired) {
		t.Error("ConflictResolutionError does not unwrap")
	}
	if !strings.HasPrefix(err.Error(), "resolve c1 with manual:") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSessionTimeoutError(t *testing.T) {
	err := &SessionTimeoutError{SessionID: "s1", Timeout: 5 * time.Minute}
	if got := err.Error(); got != "sync session s1 exceeded timeout of 5m0s" {
		t.Errorf("Error() = %q", got)
	}
}

func TestSentinelErrors_Distinct(t *testing.T) {
	sentinels := []error{
		ErrUnknownSource, ErrDuplicateSource, ErrInvalidCategory, ErrUnsupportedCategory,
		ErrDuplicateEntry, ErrInvalidStrategy, ErrConflictNotFound, ErrConflictResolved,
		ErrNotResolved, ErrManualInputRequired, ErrSyncInProgress, ErrNoActiveSources,
		ErrStoreClosed, ErrClientClosed, ErrSessionRefNotFound,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v matches %v", a, b)
			}
		}
	}
}
