package healthsync

import (
	"sort"
	"time"
)

// MetricKind distinguishes averageable metrics from categorical ones.
type MetricKind string

const (
	MetricNumeric     MetricKind = "numeric"
	MetricCategorical MetricKind = "categorical"
)

// DefaultTolerance is the relative delta below which samples agree.
const DefaultTolerance = 0.05

// MetricSpec describes how one metric is compared and reconciled.
type MetricSpec struct {
	Name      string        `json:"name"`
	Category  Category      `json:"category,omitempty"`
	Unit      string        `json:"unit,omitempty"`
	Tolerance float64       `json:"tolerance"`
	Kind      MetricKind    `json:"kind"`
	Bucket    time.Duration `json:"bucket"`
	// Precision is the number of decimal places kept after a merge.
	Precision int32 `json:"precision"`
}

// Averageable reports whether merge may average the metric.
func (m MetricSpec) Averageable() bool {
	return m.Kind == MetricNumeric
}

var builtinMetrics = map[string]MetricSpec{
	"steps":                  {Category: CategoryActivity, Unit: "count", Tolerance: 0.05, Kind: MetricNumeric, Bucket: time.Hour, Precision: 0},
	"distance":               {Category: CategoryActivity, Unit: "m", Tolerance: 0.05, Kind: MetricNumeric, Bucket: time.Hour, Precision: 0},
	"active_energy":          {Category: CategoryActivity, Unit: "kcal", Tolerance: 0.10, Kind: MetricNumeric, Bucket: time.Hour, Precision: 0},
	"sleep_duration":         {Category: CategorySleep, Unit: "min", Tolerance: 0.10, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 0},
	"sleep_stage":            {Category: CategorySleep, Unit: "stage", Tolerance: 0, Kind: MetricCategorical, Bucket: 24 * time.Hour, Precision: 0},
	"calories_consumed":      {Category: CategoryNutrition, Unit: "kcal", Tolerance: 0.10, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 0},
	"weight":                 {Category: CategoryBodyComposition, Unit: "lb", Tolerance: 0.05, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 1},
	"body_fat_percentage":    {Category: CategoryBodyComposition, Unit: "%", Tolerance: 0.05, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 1},
	"resting_heart_rate":     {Category: CategoryHeartHealth, Unit: "bpm", Tolerance: 0.10, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 0},
	"heart_rate_variability": {Category: CategoryHeartHealth, Unit: "ms", Tolerance: 0.15, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 0},
	"mindful_minutes":        {Category: CategoryMindfulness, Unit: "min", Tolerance: 0.10, Kind: MetricNumeric, Bucket: 24 * time.Hour, Precision: 0},
}

// MetricTable resolves per-metric comparison rules, applying configured
// tolerance overrides on top of the built-in table.
type MetricTable struct {
	defaultTolerance float64
	overrides        map[string]float64
}

// NewMetricTable creates a table with the given default tolerance and
// per-metric overrides. A non-positive default falls back to DefaultTolerance.
func NewMetricTable(defaultTolerance float64, overrides map[string]float64) *MetricTable {
	if defaultTolerance <= 0 {
		defaultTolerance = DefaultTolerance
	}
	o := make(map[string]float64, len(overrides))
	for k, v := range overrides {
		o[k] = v
	}
	return &MetricTable{defaultTolerance: defaultTolerance, overrides: o}
}

// Lookup returns the rules for a metric. Unknown metrics are numeric with
// the default tolerance, an hourly bucket, and no rounding beyond two places.
func (t *MetricTable) Lookup(metric string) MetricSpec {
	spec, ok := builtinMetrics[metric]
	if !ok {
		spec = MetricSpec{Tolerance: t.defaultTolerance, Kind: MetricNumeric, Bucket: time.Hour, Precision: 2}
	}
	spec.Name = metric
	if tol, ok := t.overrides[metric]; ok {
		spec.Tolerance = tol
	}
	return spec
}

// Specs returns the rules for every built-in metric and every metric with a
// tolerance override, sorted by name.
func (t *MetricTable) Specs() []MetricSpec {
	names := Metrics()
	for name := range t.overrides {
		if _, ok := builtinMetrics[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]MetricSpec, len(names))
	for i, name := range names {
		out[i] = t.Lookup(name)
	}
	return out
}

// Metrics returns the built-in metric names in sorted order.
func Metrics() []string {
	names := make([]string, 0, len(builtinMetrics))
	for name := range builtinMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
