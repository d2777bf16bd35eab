package healthsync

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testConflict() Conflict {
	return Conflict{
		ID:          "c1",
		SessionID:   "s1",
		Metric:      "steps",
		Category:    CategoryActivity,
		BucketStart: testHour,
		BucketEnd:   testHour.Add(time.Hour),
		Samples: []Sample{
			stepSample("phone", 8000, testHour.Add(10*time.Minute)),
			stepSample("watch", 10001, testHour.Add(20*time.Minute)),
		},
		Severity: SeverityHigh,
		Status:   ConflictUnresolved,
	}
}

func TestResolver_Resolve_Priority(t *testing.T) {
	r := NewResolver(nil)
	reg := newTestRegistry(t)

	res, err := r.Resolve(testConflict(), StrategyPriority, ResolveOptions{}, reg.Snapshot())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SelectedSource != "phone" || *res.Value != 8000 {
		t.Errorf("picked %s=%v, want phone=8000", res.SelectedSource, *res.Value)
	}
	if res.ResolvedBy != ResolverSystem {
		t.Errorf("ResolvedBy = %q, want system", res.ResolvedBy)
	}
	if StatusFor(res) != ConflictAutoResolved {
		t.Errorf("StatusFor = %q", StatusFor(res))
	}

	if err := reg.SetPriority(CategoryActivity, []string{"watch", "phone"}); err != nil {
		t.Fatal(err)
	}
	res, _ = r.Resolve(testConflict(), StrategyPriority, ResolveOptions{}, reg.Snapshot())
	if res.SelectedSource != "watch" {
		t.Errorf("SelectedSource = %q after reordering, want watch", res.SelectedSource)
	}
}

func TestResolver_Resolve_Latest(t *testing.T) {
	r := NewResolver(nil)
	res, err := r.Resolve(testConflict(), StrategyLatest, ResolveOptions{ResolvedBy: "ana"}, newTestRegistry(t).Snapshot())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.SelectedSource != "watch" {
		t.Errorf("SelectedSource = %q, want watch", res.SelectedSource)
	}
	if StatusFor(res) != ConflictManuallyResolved {
		t.Errorf("StatusFor = %q, want manually_resolved", StatusFor(res))
	}
}

func TestResolver_Resolve_LatestTieUsesPriority(t *testing.T) {
	c := testConflict()
	c.Samples[0].CapturedAt = testHour
	c.Samples[1].CapturedAt = testHour

	res, _ := NewResolver(nil).Resolve(c, StrategyLatest, ResolveOptions{}, newTestRegistry(t).Snapshot())
	if res.SelectedSource != "phone" {
		t.Errorf("SelectedSource = %q, want phone on tie", res.SelectedSource)
	}
}

func TestResolver_Resolve_Merge(t *testing.T) {
	res, err := NewResolver(nil).Resolve(testConflict(), StrategyMerge, ResolveOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Value == nil || *res.Value != 9001 {
		t.Errorf("Value = %v, want 9001 rounded to whole steps", res.Value)
	}
	if res.SelectedSource != "" || res.FellBack {
		t.Errorf("merge should not select a source: %+v", res)
	}

	readings := ReadingsFor(testConflict(), res)
	if len(readings) != 1 || len(readings[0].Sources) != 2 {
		t.Errorf("merged reading should credit both sources: %+v", readings)
	}
}

func TestResolver_Resolve_MergeCategoricalFallsBack(t *testing.T) {
	c := testConflict()
	c.Metric = "sleep_stage"
	c.Category = CategorySleep

	res, err := NewResolver(nil).Resolve(c, StrategyMerge, ResolveOptions{}, newTestRegistry(t).Snapshot())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Strategy != StrategyPriority || res.Requested != StrategyMerge || !res.FellBack {
		t.Errorf("fallback not recorded: %+v", res)
	}
	if !strings.Contains(res.Note, "fell back to priority") {
		t.Errorf("Note = %q", res.Note)
	}
	if res.SelectedSource != "phone" {
		t.Errorf("SelectedSource = %q, want phone", res.SelectedSource)
	}
}

func TestResolver_Resolve_Manual(t *testing.T) {
	r := NewResolver(nil)

	t.Run("deferred", func(t *testing.T) {
		res, err := r.Resolve(testConflict(), StrategyManual, ResolveOptions{}, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !res.Deferred || StatusFor(res) != ConflictUnresolved {
			t.Errorf("manual without input should defer: %+v", res)
		}
		if ReadingsFor(testConflict(), res) != nil {
			t.Error("deferred resolution produced readings")
		}
	})

	t.Run("value", func(t *testing.T) {
		v := 9500.0
		res, err := r.Resolve(testConflict(), StrategyManual, ResolveOptions{Value: &v, ResolvedBy: "ana"}, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		v = 1
		if *res.Value != 9500 {
			t.Errorf("Value = %v, want 9500 copied from input", *res.Value)
		}
	})

	t.Run("source", func(t *testing.T) {
		res, err := r.Resolve(testConflict(), StrategyManual, ResolveOptions{SourceID: "watch", ResolvedBy: "ana"}, nil)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if res.SelectedSource != "watch" || *res.Value != 10001 {
			t.Errorf("picked %s=%v", res.SelectedSource, *res.Value)
		}
	})

	t.Run("non contributor", func(t *testing.T) {
		_, err := r.Resolve(testConflict(), StrategyManual, ResolveOptions{SourceID: "scale"}, nil)
		var resErr *ConflictResolutionError
		if !errors.As(err, &resErr) {
			t.Fatalf("error = %v, want *ConflictResolutionError", err)
		}
		if !errors.Is(err, ErrUnknownSource) {
			t.Errorf("error does not wrap ErrUnknownSource: %v", err)
		}
	})
}

func TestResolver_Resolve_Ignore(t *testing.T) {
	res, err := NewResolver(nil).Resolve(testConflict(), StrategyIgnore, ResolveOptions{}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if StatusFor(res) != ConflictIgnored {
		t.Errorf("StatusFor = %q, want ignored", StatusFor(res))
	}
	readings := ReadingsFor(testConflict(), res)
	if len(readings) != 2 {
		t.Fatalf("readings = %d, want one per retained sample", len(readings))
	}
	for _, rd := range readings {
		if rd.Origin != OriginIgnored || rd.ConflictID != "c1" {
			t.Errorf("reading = %+v", rd)
		}
	}
}

func TestResolver_Resolve_InvalidStrategy(t *testing.T) {
	_, err := NewResolver(nil).Resolve(testConflict(), "coinflip", ResolveOptions{}, nil)
	if !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("error = %v, want ErrInvalidStrategy", err)
	}
}

func TestAutoStrategy(t *testing.T) {
	low := Conflict{Severity: SeverityLow}
	high := Conflict{Severity: SeverityHigh}

	tests := []struct {
		name     string
		c        Conflict
		def      Strategy
		minor    bool
		want     Strategy
		resolved bool
	}{
		{"low manual default waits", low, StrategyManual, true, "", false},
		{"low with minor disabled", low, StrategyPriority, false, "", false},
		{"low latest default", low, StrategyLatest, true, StrategyLatest, true},
		{"high manual waits", high, StrategyManual, true, "", false},
		{"high merge", high, StrategyMerge, false, StrategyMerge, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AutoStrategy(tt.c, tt.def, tt.minor)
			if got != tt.want || ok != tt.resolved {
				t.Errorf("AutoStrategy() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.resolved)
			}
		})
	}
}

func TestResolver_Resolve_PriorityAfterDeactivation(t *testing.T) {
	reg := newTestRegistry(t)
	r := NewResolver(nil)
	before, _ := r.Resolve(testConflict(), StrategyPriority, ResolveOptions{}, reg.Snapshot())

	if err := reg.SetActive("phone", false); err != nil {
		t.Fatal(err)
	}
	after, _ := r.Resolve(testConflict(), StrategyPriority, ResolveOptions{}, reg.Snapshot())

	if before.SelectedSource != "phone" {
		t.Errorf("before deactivation picked %q, want phone", before.SelectedSource)
	}
	if after.SelectedSource != "watch" {
		t.Errorf("after deactivation picked %q, want watch", after.SelectedSource)
	}
}
