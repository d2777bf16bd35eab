package healthsync

import (
	"testing"
	"time"
)

var testHour = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func stepSample(source string, value float64, captured time.Time) Sample {
	return Sample{
		Metric:      "steps",
		SourceID:    source,
		BucketStart: testHour,
		BucketEnd:   testHour.Add(time.Hour),
		Value:       value,
		Unit:        "count",
		CapturedAt:  captured,
	}
}

func TestDetector_Detect_WithinToleranceUsesPreferred(t *testing.T) {
	snap := newTestRegistry(t).Snapshot()
	d := NewDetector(nil, AgreementPreferred)

	got := d.Detect("s1", []Sample{
		stepSample("watch", 8234, testHour),
		stepSample("phone", 8456, testHour),
	}, snap)

	if len(got.Conflicts) != 0 {
		t.Fatalf("Conflicts = %d, want 0", len(got.Conflicts))
	}
	if len(got.Readings) != 1 {
		t.Fatalf("Readings = %d, want 1", len(got.Readings))
	}
	rd := got.Readings[0]
	if rd.Value != 8456 {
		t.Errorf("Value = %v, want preferred phone value 8456", rd.Value)
	}
	if rd.Origin != OriginAgreement {
		t.Errorf("Origin = %q, want agreement", rd.Origin)
	}
	if rd.Category != CategoryActivity {
		t.Errorf("Category = %q, want activity from metric table", rd.Category)
	}
}

func TestDetector_Detect_WithinToleranceAverage(t *testing.T) {
	snap := newTestRegistry(t).Snapshot()
	d := NewDetector(nil, AgreementAverage)

	got := d.Detect("s1", []Sample{
		stepSample("watch", 8234, testHour),
		stepSample("phone", 8456, testHour),
	}, snap)

	if len(got.Readings) != 1 {
		t.Fatalf("Readings = %d, want 1", len(got.Readings))
	}
	if got.Readings[0].Value != 8345 {
		t.Errorf("Value = %v, want 8345", got.Readings[0].Value)
	}
}

func TestDetector_Detect_WeightBelowTolerance(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	d := NewDetector(nil, AgreementPreferred)

	got := d.Detect("s1", []Sample{
		{Metric: "weight", SourceID: "scale", BucketStart: day, Value: 165.2, Unit: "lb", CapturedAt: day},
		{Metric: "weight", SourceID: "phone", BucketStart: day.Add(7 * time.Hour), Value: 165.8, Unit: "lb", CapturedAt: day},
	}, nil)

	if len(got.Conflicts) != 0 {
		t.Errorf("Conflicts = %d, want 0", len(got.Conflicts))
	}
	if len(got.Readings) != 1 {
		t.Fatalf("Readings = %d, want 1 bucket", len(got.Readings))
	}
	if !got.Readings[0].BucketStart.Equal(day) {
		t.Errorf("BucketStart = %v, want %v", got.Readings[0].BucketStart, day)
	}
}

func TestDetector_Detect_Conflict(t *testing.T) {
	snap := newTestRegistry(t).Snapshot()
	d := NewDetector(nil, AgreementPreferred)

	got := d.Detect("s1", []Sample{
		stepSample("watch", 10000, testHour),
		stepSample("phone", 8000, testHour),
	}, snap)

	if len(got.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(got.Conflicts))
	}
	c := got.Conflicts[0]
	if c.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high for delta 0.2", c.Severity)
	}
	if c.Status != ConflictUnresolved {
		t.Errorf("Status = %q", c.Status)
	}
	if c.SessionID != "s1" || c.ID == "" {
		t.Errorf("conflict ids not set: %+v", c)
	}
	if c.Samples[0].SourceID != "phone" || c.Samples[1].SourceID != "watch" {
		t.Errorf("samples not ordered by source: %v", c.Sources())
	}
	if !c.BucketEnd.Equal(testHour.Add(time.Hour)) {
		t.Errorf("BucketEnd = %v", c.BucketEnd)
	}
	if len(got.Readings) != 0 {
		t.Errorf("Readings = %d, want 0", len(got.Readings))
	}
}

func TestDetector_Detect_SingleSourceIsNotConflict(t *testing.T) {
	d := NewDetector(nil, AgreementPreferred)

	got := d.Detect("s1", []Sample{
		stepSample("phone", 100, testHour),
		stepSample("phone", 900, testHour.Add(time.Minute)),
	}, nil)

	if len(got.Conflicts) != 0 {
		t.Fatalf("Conflicts = %d, want 0", len(got.Conflicts))
	}
	if len(got.Readings) != 1 {
		t.Fatalf("Readings = %d, want 1", len(got.Readings))
	}
	rd := got.Readings[0]
	if rd.Origin != OriginSingle || rd.Value != 900 {
		t.Errorf("reading = %+v, want latest capture 900 with single origin", rd)
	}
}

func TestDetector_Detect_ThreeSources(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Register(DataSource{ID: id, Categories: []Category{CategoryActivity}, Active: true}); err != nil {
			t.Fatal(err)
		}
	}
	d := NewDetector(nil, AgreementPreferred)

	got := d.Detect("s1", []Sample{
		stepSample("a", 1000, testHour),
		stepSample("b", 1010, testHour),
		stepSample("c", 1090, testHour),
	}, r.Snapshot())

	if len(got.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(got.Conflicts))
	}
	c := got.Conflicts[0]
	if len(c.Samples) != 3 {
		t.Errorf("Samples = %d, want 3", len(c.Samples))
	}
	if c.Severity != SeverityLow {
		t.Errorf("Severity = %q, want low", c.Severity)
	}
}

func TestDetector_Detect_CategoricalMismatchIsHigh(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	d := NewDetector(nil, AgreementPreferred)

	got := d.Detect("s1", []Sample{
		{Metric: "sleep_stage", SourceID: "phone", BucketStart: day, Value: 2, CapturedAt: day},
		{Metric: "sleep_stage", SourceID: "watch", BucketStart: day, Value: 3, CapturedAt: day},
	}, nil)

	if len(got.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(got.Conflicts))
	}
	if got.Conflicts[0].Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", got.Conflicts[0].Severity)
	}
}

func TestDetector_Detect_ToleranceOverride(t *testing.T) {
	d := NewDetector(NewMetricTable(0.05, map[string]float64{"steps": 0.5}), AgreementPreferred)

	got := d.Detect("s1", []Sample{
		stepSample("phone", 8000, testHour),
		stepSample("watch", 10000, testHour),
	}, nil)

	if len(got.Conflicts) != 0 {
		t.Errorf("Conflicts = %d, want 0 with widened tolerance", len(got.Conflicts))
	}
}

func TestDetector_Detect_DeterministicOrder(t *testing.T) {
	d := NewDetector(nil, AgreementPreferred)
	samples := []Sample{
		stepSample("phone", 1000, testHour),
		stepSample("watch", 2000, testHour),
		{Metric: "distance", SourceID: "phone", BucketStart: testHour, Value: 100, CapturedAt: testHour},
		{Metric: "distance", SourceID: "watch", BucketStart: testHour, Value: 300, CapturedAt: testHour},
	}
	next := testHour.Add(time.Hour)
	samples = append(samples,
		Sample{Metric: "steps", SourceID: "phone", BucketStart: next, Value: 10, CapturedAt: next},
		Sample{Metric: "steps", SourceID: "watch", BucketStart: next, Value: 20, CapturedAt: next},
	)

	first := d.Detect("s1", samples, nil)
	reversed := make([]Sample, len(samples))
	for i, s := range samples {
		reversed[len(samples)-1-i] = s
	}
	second := d.Detect("s1", reversed, nil)

	if len(first.Conflicts) != 3 || len(second.Conflicts) != 3 {
		t.Fatalf("Conflicts = %d/%d, want 3", len(first.Conflicts), len(second.Conflicts))
	}
	for i := range first.Conflicts {
		a, b := first.Conflicts[i], second.Conflicts[i]
		if a.Metric != b.Metric || !a.BucketStart.Equal(b.BucketStart) || a.MaxDelta != b.MaxDelta {
			t.Errorf("conflict %d differs: %s@%v vs %s@%v", i, a.Metric, a.BucketStart, b.Metric, b.BucketStart)
		}
	}
	if first.Conflicts[0].Metric != "distance" {
		t.Errorf("first conflict metric = %q, want distance", first.Conflicts[0].Metric)
	}
	if !first.Conflicts[1].BucketStart.Before(first.Conflicts[2].BucketStart) {
		t.Error("conflicts for one metric are not ordered by bucket")
	}
}

func TestNewDetector_InvalidPolicyFallsBack(t *testing.T) {
	d := NewDetector(nil, "median")
	if d.agreement != AgreementPreferred {
		t.Errorf("agreement = %q, want preferred", d.agreement)
	}
}
