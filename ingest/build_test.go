package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperengineering/healthsync"
)

func TestBuild_Kinds(t *testing.T) {
	file, err := Build(healthsync.SourceConfig{ID: "scale", Kind: healthsync.IntegrationFile, File: "/tmp/x.yaml"})
	if err != nil {
		t.Fatalf("Build(file) error = %v", err)
	}
	if _, ok := file.(*FileAdapter); !ok {
		t.Errorf("Build(file) = %T, want *FileAdapter", file)
	}

	t.Setenv("PHONE_TOKEN", "tok")
	native, err := Build(healthsync.SourceConfig{ID: "phone", URL: "http://example.invalid", TokenEnv: "PHONE_TOKEN"})
	if err != nil {
		t.Fatalf("Build(native) error = %v", err)
	}
	h, ok := native.(*HTTPAdapter)
	if !ok {
		t.Fatalf("Build(native) = %T, want *HTTPAdapter", native)
	}
	if h.token != "tok" {
		t.Errorf("token = %q, want tok", h.token)
	}

	none, err := Build(healthsync.SourceConfig{ID: "watch", Kind: healthsync.IntegrationNative})
	if err != nil || none != nil {
		t.Errorf("Build(native without url) = %v, %v; want nil, nil", none, err)
	}
}

func TestBuild_MissingSettings(t *testing.T) {
	tests := []healthsync.SourceConfig{
		{ID: "a", Kind: healthsync.IntegrationFile},
		{ID: "b", Kind: healthsync.IntegrationOAuth2, TokenURL: "http://t", ClientID: "c"},
		{ID: "c", Kind: healthsync.IntegrationOAuth2, URL: "http://api"},
	}
	for _, cfg := range tests {
		t.Run(cfg.ID, func(t *testing.T) {
			_, err := Build(cfg)
			if !errors.Is(err, ErrMissingSetting) {
				t.Fatalf("Build() error = %v, want ErrMissingSetting", err)
			}
			var ce *healthsync.ConfigurationError
			if !errors.As(err, &ce) || ce.SourceID != cfg.ID {
				t.Errorf("expected ConfigurationError for %s, got %v", cfg.ID, err)
			}
		})
	}
}

func TestBuild_UnknownKind(t *testing.T) {
	var ce *healthsync.ConfigurationError
	if _, err := Build(healthsync.SourceConfig{ID: "x", Kind: "carrier-pigeon"}); !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestBuild_OAuth2ClientCredentials(t *testing.T) {
	t.Setenv("OURA_SECRET", "shh")
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"issued","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/samples", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer issued" {
			t.Errorf("Authorization = %q, want Bearer issued", got)
		}
		_ = json.NewEncoder(w).Encode(SamplesResponse{Samples: []healthsync.Sample{
			{Metric: "sleep_duration", Value: 7.5, Unit: "h", CapturedAt: time.Now()},
		}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	a, err := Build(healthsync.SourceConfig{
		ID:              "oura",
		Kind:            healthsync.IntegrationOAuth2,
		URL:             server.URL,
		TokenURL:        server.URL + "/token",
		ClientID:        "client",
		ClientSecretEnv: "OURA_SECRET",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	samples, err := a.FetchSamples(context.Background(), healthsync.CategorySleep, time.Time{})
	if err != nil {
		t.Fatalf("FetchSamples() error = %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}
}
