package ingest

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hyperengineering/healthsync"
	"gopkg.in/yaml.v3"
)

// FileDocument is the layout of an exported samples file. JSON exports
// decode the same way since JSON is a subset of YAML.
type FileDocument struct {
	Source  string              `yaml:"source"`
	Samples []healthsync.Sample `yaml:"samples"`
}

// FileAdapter reads samples from an exported YAML or JSON file. The file is
// re-read on every fetch so updated exports are picked up.
type FileAdapter struct {
	sourceID string
	path     string
}

// NewFileAdapter creates an adapter reading path for sourceID.
func NewFileAdapter(sourceID, path string) *FileAdapter {
	return &FileAdapter{sourceID: sourceID, path: path}
}

// SourceID returns the source this adapter serves.
func (a *FileAdapter) SourceID() string {
	return a.sourceID
}

// FetchSamples returns samples in category captured after since.
func (a *FileAdapter) FetchSamples(ctx context.Context, category healthsync.Category, since time.Time) ([]healthsync.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := a.load()
	if err != nil {
		return nil, err
	}

	metrics := healthsync.NewMetricTable(healthsync.DefaultTolerance, nil)
	var out []healthsync.Sample
	for _, s := range doc.Samples {
		cat := s.Category
		if cat == "" {
			cat = metrics.Lookup(s.Metric).Category
		}
		if cat != category {
			continue
		}
		if !since.IsZero() && !s.CapturedAt.After(since) {
			continue
		}
		s.Category = cat
		s.SourceID = a.sourceID
		out = append(out, s)
	}
	return out, nil
}

func (a *FileAdapter) load() (*FileDocument, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, &healthsync.AdapterError{SourceID: a.sourceID, Kind: healthsync.AdapterUnreachable, Err: err}
	}
	var doc FileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &healthsync.AdapterError{
			SourceID: a.sourceID,
			Kind:     healthsync.AdapterMalformed,
			Err:      fmt.Errorf("parse %s: %w", a.path, err),
		}
	}
	if doc.Source != "" && doc.Source != a.sourceID {
		return nil, &healthsync.AdapterError{
			SourceID: a.sourceID,
			Kind:     healthsync.AdapterMalformed,
			Err:      fmt.Errorf("%s holds samples for source %q", a.path, doc.Source),
		}
	}
	return &doc, nil
}
