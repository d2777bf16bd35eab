package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/healthsync"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

const yamlExport = `source: scale
samples:
  - metric: weight
    bucket_start: 2024-03-01T00:00:00Z
    bucket_end: 2024-03-02T00:00:00Z
    value: 165.2
    unit: lb
    captured_at: 2024-03-01T07:00:00Z
  - metric: body_fat_percentage
    category: body_composition
    bucket_start: 2024-03-01T00:00:00Z
    bucket_end: 2024-03-02T00:00:00Z
    value: 21.4
    unit: percent
    captured_at: 2024-02-20T07:00:00Z
  - metric: steps
    bucket_start: 2024-03-01T08:00:00Z
    bucket_end: 2024-03-01T09:00:00Z
    value: 100
    unit: count
    captured_at: 2024-03-01T09:00:00Z
`

func TestFileAdapter_FetchSamples_YAML(t *testing.T) {
	path := writeFile(t, "export.yaml", yamlExport)
	a := NewFileAdapter("scale", path)

	since := time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC)
	samples, err := a.FetchSamples(context.Background(), healthsync.CategoryBodyComposition, since)
	if err != nil {
		t.Fatalf("FetchSamples() error = %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1 (older and other-category samples filtered)", len(samples))
	}
	s := samples[0]
	if s.Metric != "weight" || s.Value != 165.2 {
		t.Errorf("sample = %+v", s)
	}
	if s.Category != healthsync.CategoryBodyComposition {
		t.Errorf("Category = %q, want inferred body_composition", s.Category)
	}
	if s.SourceID != "scale" {
		t.Errorf("SourceID = %q, want scale", s.SourceID)
	}
}

func TestFileAdapter_FetchSamples_JSON(t *testing.T) {
	path := writeFile(t, "export.json", `{"samples":[{"metric":"steps","category":"activity",
		"bucket_start":"2024-03-01T08:00:00Z","bucket_end":"2024-03-01T09:00:00Z",
		"value":8234,"unit":"count","captured_at":"2024-03-01T09:00:00Z"}]}`)

	samples, err := NewFileAdapter("phone", path).FetchSamples(context.Background(), healthsync.CategoryActivity, time.Time{})
	if err != nil {
		t.Fatalf("FetchSamples() error = %v", err)
	}
	if len(samples) != 1 || samples[0].Value != 8234 {
		t.Fatalf("samples = %+v", samples)
	}
	if !samples[0].BucketStart.Equal(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("BucketStart = %v", samples[0].BucketStart)
	}
}

func TestFileAdapter_FetchSamples_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		want healthsync.AdapterErrorKind
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml"), healthsync.AdapterUnreachable},
		{"bad yaml", writeFile(t, "bad.yaml", "samples: [unterminated"), healthsync.AdapterMalformed},
		{"other source", writeFile(t, "other.yaml", "source: someone-else\nsamples: []\n"), healthsync.AdapterMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileAdapter("scale", tt.path).FetchSamples(context.Background(), healthsync.CategoryActivity, time.Time{})
			var ae *healthsync.AdapterError
			if !errors.As(err, &ae) {
				t.Fatalf("expected AdapterError, got %T: %v", err, err)
			}
			if ae.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", ae.Kind, tt.want)
			}
		})
	}
}
