package healthsync

import (
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// AgreementPolicy picks the authoritative value for a bucket whose sources
// agree within tolerance.
type AgreementPolicy string

const (
	// AgreementPreferred takes the value of the highest-priority contributor.
	AgreementPreferred AgreementPolicy = "preferred"
	// AgreementAverage averages numeric values, rounded to metric precision.
	AgreementAverage AgreementPolicy = "average"
)

// IsValid checks if the agreement policy is known.
func (p AgreementPolicy) IsValid() bool {
	return p == AgreementPreferred || p == AgreementAverage
}

// Detection is the outcome of grouping one session's samples.
type Detection struct {
	// Conflicts are ordered by metric, then bucket start ascending.
	Conflicts []Conflict
	// Readings holds authoritative values for buckets that did not conflict.
	Readings []Reading
}

// Detector groups samples by metric and time bucket and flags disagreement.
type Detector struct {
	metrics   *MetricTable
	agreement AgreementPolicy
	now       func() time.Time
}

// NewDetector creates a detector. An invalid agreement policy falls back to
// AgreementPreferred.
func NewDetector(metrics *MetricTable, agreement AgreementPolicy) *Detector {
	if metrics == nil {
		metrics = NewMetricTable(DefaultTolerance, nil)
	}
	if !agreement.IsValid() {
		agreement = AgreementPreferred
	}
	return &Detector{metrics: metrics, agreement: agreement, now: time.Now}
}

type bucketKey struct {
	metric string
	start  int64
}

type bucketGroup struct {
	spec     MetricSpec
	category Category
	start    time.Time
	bySource map[string]Sample
}

// Detect groups samples and emits conflicts and agreed readings. Output is
// deterministic for identical input apart from generated IDs.
func (d *Detector) Detect(sessionID string, samples []Sample, snap *RegistrySnapshot) Detection {
	groups := make(map[bucketKey]*bucketGroup)
	for _, s := range samples {
		spec := d.metrics.Lookup(s.Metric)
		start := d.BucketFor(s)
		key := bucketKey{metric: s.Metric, start: start.UnixNano()}

		g, ok := groups[key]
		if !ok {
			category := s.Category
			if category == "" {
				category = spec.Category
			}
			g = &bucketGroup{spec: spec, category: category, start: start, bySource: make(map[string]Sample)}
			groups[key] = g
		}
		// Keep the most recently captured sample per source.
		if prev, dup := g.bySource[s.SourceID]; !dup || s.CapturedAt.After(prev.CapturedAt) {
			g.bySource[s.SourceID] = s
		}
	}

	keys := make([]bucketKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].metric != keys[j].metric {
			return keys[i].metric < keys[j].metric
		}
		return keys[i].start < keys[j].start
	})

	var out Detection
	detectedAt := d.now().UTC()
	for _, k := range keys {
		g := groups[k]
		group := g.samples()
		end := g.start.Add(g.spec.Bucket)

		values := make([]float64, len(group))
		for i, s := range group {
			values[i] = s.Value
		}
		maxDelta := MaxPairwiseDelta(values)

		if len(group) >= 2 {
			if sev, conflict := SeverityFor(maxDelta, g.spec.Tolerance); conflict {
				out.Conflicts = append(out.Conflicts, Conflict{
					ID:          ulid.Make().String(),
					SessionID:   sessionID,
					Metric:      k.metric,
					Category:    g.category,
					BucketStart: g.start,
					BucketEnd:   end,
					Samples:     group,
					Severity:    sev,
					MaxDelta:    maxDelta,
					DetectedAt:  detectedAt,
					Status:      ConflictUnresolved,
				})
				continue
			}
		}

		out.Readings = append(out.Readings, d.agreedReading(sessionID, g, group, end, snap))
	}
	return out
}

// BucketFor returns the start of the bucket a sample falls into.
func (d *Detector) BucketFor(s Sample) time.Time {
	return s.BucketStart.UTC().Truncate(d.metrics.Lookup(s.Metric).Bucket)
}

func (g *bucketGroup) samples() []Sample {
	out := make([]Sample, 0, len(g.bySource))
	for _, s := range g.bySource {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (d *Detector) agreedReading(sessionID string, g *bucketGroup, group []Sample, end time.Time, snap *RegistrySnapshot) Reading {
	r := Reading{
		SessionID:   sessionID,
		Metric:      g.spec.Name,
		Category:    g.category,
		BucketStart: g.start,
		BucketEnd:   end,
		Sources:     sampleSources(group),
		Samples:     group,
	}

	if len(group) == 1 {
		r.Value, r.Unit, r.Origin = group[0].Value, group[0].Unit, OriginSingle
		return r
	}

	r.Origin = OriginAgreement
	preferred := preferredSample(g.category, group, snap)
	r.Unit = preferred.Unit
	if d.agreement == AgreementAverage && g.spec.Averageable() {
		r.Value = meanRounded(group, g.spec.Precision)
		return r
	}
	r.Value = preferred.Value
	return r
}

// preferredSample returns the sample from the highest-ranked contributor.
func preferredSample(category Category, group []Sample, snap *RegistrySnapshot) Sample {
	if snap == nil {
		return group[0]
	}
	ranked := snap.RankSources(category, sampleSources(group))
	for _, s := range group {
		if s.SourceID == ranked[0] {
			return s
		}
	}
	return group[0]
}

// meanRounded averages sample values in decimal arithmetic and rounds to the
// given number of places.
func meanRounded(group []Sample, places int32) float64 {
	if len(group) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, s := range group {
		sum = sum.Add(decimal.NewFromFloat(s.Value))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(group)))).Round(places)
	return mean.InexactFloat64()
}

func sampleSources(group []Sample) []string {
	ids := make([]string, len(group))
	for i, s := range group {
		ids[i] = s.SourceID
	}
	return ids
}
