// Package profile locates per-profile healthsync databases on disk.
// A profile isolates one person's sources, priorities, and history.
package profile

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidProfile indicates the profile ID format is invalid.
var ErrInvalidProfile = errors.New("invalid profile: must be lowercase alphanumeric with hyphens, 1-64 characters")

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "default"

// profileRegex: lowercase alphanumeric and hyphens, no leading or trailing
// hyphen, at most 64 characters.
var profileRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?$`)

// Validate checks a profile ID.
func Validate(id string) error {
	if id == "" || strings.Contains(id, "--") {
		return ErrInvalidProfile
	}
	if !profileRegex.MatchString(id) {
		return ErrInvalidProfile
	}
	return nil
}
