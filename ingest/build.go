package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hyperengineering/healthsync"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrMissingSetting is wrapped when a source lacks a setting its kind needs.
var ErrMissingSetting = errors.New("missing setting")

// Build creates the adapter for a configured source. Native sources with no
// URL have no adapter here; they are fed by an embedding application, and
// Build returns nil for them.
func Build(cfg healthsync.SourceConfig) (healthsync.Adapter, error) {
	switch cfg.Kind {
	case healthsync.IntegrationFile:
		if cfg.File == "" {
			return nil, missing(cfg, "file")
		}
		return NewFileAdapter(cfg.ID, cfg.File), nil

	case healthsync.IntegrationOAuth2:
		if cfg.URL == "" {
			return nil, missing(cfg, "url")
		}
		if cfg.TokenURL == "" || cfg.ClientID == "" {
			return nil, missing(cfg, "token_url and client_id")
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: envValue(cfg.ClientSecretEnv),
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client := cc.Client(context.Background())
		client.Timeout = 30 * time.Second
		return NewHTTPAdapter(cfg.ID, cfg.URL, "").WithHTTPClient(client), nil

	case healthsync.IntegrationNative, "":
		if cfg.URL == "" {
			return nil, nil
		}
		return NewHTTPAdapter(cfg.ID, cfg.URL, envValue(cfg.TokenEnv)), nil

	default:
		return nil, &healthsync.ConfigurationError{
			SourceID: cfg.ID,
			Err:      fmt.Errorf("unknown kind %q", cfg.Kind),
		}
	}
}

func missing(cfg healthsync.SourceConfig, field string) error {
	return &healthsync.ConfigurationError{
		SourceID: cfg.ID,
		Err:      fmt.Errorf("%w: %s for kind %s", ErrMissingSetting, field, cfg.Kind),
	}
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
