package profile

import (
	"fmt"
	"os"
)

// EnvVar names the environment variable consulted by Resolve.
const EnvVar = "HEALTHSYNC_PROFILE"

// Resolve determines the profile to use.
// Priority: explicit > HEALTHSYNC_PROFILE env > "default"
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if err := Validate(explicit); err != nil {
			return "", fmt.Errorf("invalid profile %q: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv(EnvVar); env != "" {
		if err := Validate(env); err != nil {
			return "", fmt.Errorf("invalid %s %q: %w", EnvVar, env, err)
		}
		return env, nil
	}

	return DefaultProfile, nil
}
