package healthsync

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "healthsync.db"))
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storedConflict(sessionID string) Conflict {
	c := testConflict()
	c.SessionID = sessionID
	c.DetectedAt = testHour.Add(2 * time.Hour)
	c.MaxDelta = 0.2
	return c
}

func appendTestSession(t *testing.T, s *Store, id string, started time.Time, conflicts ...Conflict) {
	t.Helper()
	ended := started.Add(time.Second)
	err := s.AppendSession(context.Background(), SessionRecord{
		Session: SyncSession{
			ID:        id,
			Trigger:   TriggerManual,
			StartedAt: started,
			EndedAt:   &ended,
			Status:    StatePartial,
			Outcomes: []SourceOutcome{
				{SourceID: "phone", Status: OutcomeSuccess, Samples: 1, Attempts: 1, Categories: []Category{CategoryActivity}},
			},
			SamplesIngested: 2,
			ConflictsFound:  len(conflicts),
		},
		Conflicts: conflicts,
	})
	if err != nil {
		t.Fatalf("AppendSession() error = %v", err)
	}
}

func TestNewStore_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"metadata", "sources", "priorities", "sessions", "conflicts", "resolutions", "readings", "watermarks", "audit"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "healthsync.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	appendTestSession(t, s, "s1", testHour)
	s.Close()

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	sessions, err := s.Sessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions after reopen = %d, want 1", len(sessions))
	}
}

func TestStore_SourcesAndPriorities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	synced := testHour

	src := DataSource{ID: "watch", DisplayName: "Watch", Categories: []Category{CategoryActivity, CategorySleep}, Active: true, Kind: IntegrationOAuth2, LastSyncAt: &synced}
	if err := s.SaveSource(ctx, src); err != nil {
		t.Fatalf("SaveSource() error = %v", err)
	}
	src.Active = false
	src.LastSyncAt = nil
	if err := s.SaveSource(ctx, src); err != nil {
		t.Fatalf("SaveSource() update error = %v", err)
	}

	sources, err := s.LoadSources(ctx)
	if err != nil {
		t.Fatalf("LoadSources() error = %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("LoadSources() = %d sources, want 1", len(sources))
	}
	got := sources[0]
	if got.Active || got.Kind != IntegrationOAuth2 {
		t.Errorf("source = %+v", got)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(synced) {
		t.Errorf("LastSyncAt = %v, want kept %v", got.LastSyncAt, synced)
	}
	if !reflect.DeepEqual(got.Categories, src.Categories) {
		t.Errorf("Categories = %v", got.Categories)
	}

	if err := s.SavePriority(ctx, CategoryActivity, []string{"watch", "phone"}); err != nil {
		t.Fatalf("SavePriority() error = %v", err)
	}
	if err := s.SavePriority(ctx, CategoryActivity, []string{"phone", "watch"}); err != nil {
		t.Fatalf("SavePriority() replace error = %v", err)
	}
	priorities, err := s.LoadPriorities(ctx)
	if err != nil {
		t.Fatalf("LoadPriorities() error = %v", err)
	}
	if want := []string{"phone", "watch"}; !reflect.DeepEqual(priorities[CategoryActivity], want) {
		t.Errorf("priorities = %v, want %v", priorities[CategoryActivity], want)
	}
}

func TestStore_Sessions_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	appendTestSession(t, s, "s1", testHour)
	appendTestSession(t, s, "s2", testHour.Add(time.Hour))
	appendTestSession(t, s, "s3", testHour.Add(30*time.Minute))

	sessions, err := s.Sessions(context.Background(), 0)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	var ids []string
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	if want := []string{"s2", "s3", "s1"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("order = %v, want %v", ids, want)
	}
	if sessions[0].Outcomes[0].SourceID != "phone" || sessions[0].EndedAt == nil {
		t.Errorf("session fields not restored: %+v", sessions[0])
	}

	limited, _ := s.Sessions(context.Background(), 2)
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d", len(limited))
	}
}

func TestStore_Conflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	appendTestSession(t, s, "s1", testHour, storedConflict("s1"))

	got, err := s.Conflict(ctx, "c1")
	if err != nil {
		t.Fatalf("Conflict() error = %v", err)
	}
	if got.Metric != "steps" || len(got.Samples) != 2 || got.Resolution != nil {
		t.Errorf("conflict = %+v", got)
	}
	if !got.BucketStart.Equal(testHour) {
		t.Errorf("BucketStart = %v", got.BucketStart)
	}

	if _, err := s.Conflict(ctx, "missing"); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("Conflict(missing) error = %v, want ErrConflictNotFound", err)
	}

	pending, err := s.PendingConflicts(ctx)
	if err != nil {
		t.Fatalf("PendingConflicts() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestStore_SaveResolution_AndUndo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := storedConflict("s1")
	appendTestSession(t, s, "s1", testHour, c)

	v := 9000.0
	res := Resolution{ConflictID: c.ID, Strategy: StrategyManual, Requested: StrategyManual, Value: &v, ResolvedBy: "ana", ResolvedAt: testHour}
	readings := ReadingsFor(c, res)
	if err := s.SaveResolution(ctx, c, res, readings); err != nil {
		t.Fatalf("SaveResolution() error = %v", err)
	}

	got, _ := s.Conflict(ctx, c.ID)
	if got.Status != ConflictManuallyResolved {
		t.Errorf("Status = %q, want manually_resolved", got.Status)
	}
	if got.Resolution == nil || *got.Resolution.Value != 9000 || got.Resolution.ResolvedBy != "ana" {
		t.Errorf("Resolution = %+v", got.Resolution)
	}
	if err := s.SaveResolution(ctx, c, res, nil); !errors.Is(err, ErrConflictResolved) {
		t.Errorf("second SaveResolution() error = %v, want ErrConflictResolved", err)
	}

	current, _ := s.Readings(ctx, ReadingQuery{Metric: "steps"})
	if len(current) != 1 || current[0].Value != 9000 || current[0].Origin != OriginResolution {
		t.Fatalf("readings = %+v", current)
	}

	if err := s.UndoResolution(ctx, c.ID, testHour.Add(time.Hour)); err != nil {
		t.Fatalf("UndoResolution() error = %v", err)
	}
	got, _ = s.Conflict(ctx, c.ID)
	if got.Status != ConflictUnresolved || got.Resolution != nil {
		t.Errorf("after undo: status %q resolution %+v", got.Status, got.Resolution)
	}
	if current, _ := s.Readings(ctx, ReadingQuery{}); len(current) != 0 {
		t.Errorf("readings after undo = %d, want 0", len(current))
	}
	if err := s.UndoResolution(ctx, c.ID, testHour); !errors.Is(err, ErrNotResolved) {
		t.Errorf("second UndoResolution() error = %v, want ErrNotResolved", err)
	}

	var history int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM resolutions WHERE conflict_id = ?`, c.ID).Scan(&history); err != nil {
		t.Fatal(err)
	}
	if history != 1 {
		t.Errorf("resolution rows = %d, want undone resolution kept", history)
	}

	if err := s.SaveResolution(ctx, c, res, readings); err != nil {
		t.Errorf("resolving a reopened conflict error = %v", err)
	}
}

func TestStore_SaveResolution_UnknownConflict(t *testing.T) {
	s := newTestStore(t)
	c := storedConflict("s1")
	res := Resolution{ConflictID: c.ID, Strategy: StrategyPriority, Requested: StrategyPriority, ResolvedBy: ResolverSystem}
	if err := s.SaveResolution(context.Background(), c, res, nil); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("SaveResolution() error = %v, want ErrConflictNotFound", err)
	}
}

func TestStore_Readings_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var readings []Reading
	for i := 0; i < 3; i++ {
		start := testHour.Add(time.Duration(i) * time.Hour)
		readings = append(readings, Reading{
			SessionID: "s1", Metric: "steps", Category: CategoryActivity,
			BucketStart: start, BucketEnd: start.Add(time.Hour),
			Value: float64(1000 * (i + 1)), Unit: "count", Sources: []string{"phone"}, Origin: OriginSingle,
		})
	}
	readings = append(readings, Reading{SessionID: "s1", Metric: "weight", BucketStart: testHour, BucketEnd: testHour, Value: 165, Unit: "lb", Sources: []string{"scale"}, Origin: OriginSingle})
	if err := s.AppendSession(ctx, SessionRecord{
		Session:  SyncSession{ID: "s1", Trigger: TriggerManual, StartedAt: testHour, Status: StateSuccess},
		Readings: readings,
	}); err != nil {
		t.Fatalf("AppendSession() error = %v", err)
	}

	all, _ := s.Readings(ctx, ReadingQuery{})
	if len(all) != 4 {
		t.Errorf("all readings = %d, want 4", len(all))
	}

	window, _ := s.Readings(ctx, ReadingQuery{Metric: "steps", Since: testHour.Add(time.Hour), Until: testHour.Add(2 * time.Hour)})
	if len(window) != 1 || window[0].Value != 2000 {
		t.Errorf("window = %+v", window)
	}

	limited, _ := s.Readings(ctx, ReadingQuery{Metric: "steps", Limit: 2})
	if len(limited) != 2 || limited[0].Value != 1000 {
		t.Errorf("limited = %+v", limited)
	}
}

func TestStore_AppendSession_SupersedesBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	phone := stepSample("phone", 8000, testHour)
	watch := stepSample("watch", 8100, testHour.Add(time.Minute))
	reading := func(session string, value float64, samples ...Sample) Reading {
		return Reading{
			SessionID: session, Metric: "steps", Category: CategoryActivity,
			BucketStart: testHour, BucketEnd: testHour.Add(time.Hour),
			Value: value, Unit: "count", Sources: sampleSources(samples), Origin: OriginSingle, Samples: samples,
		}
	}

	if err := s.AppendSession(ctx, SessionRecord{
		Session:  SyncSession{ID: "s1", Trigger: TriggerManual, StartedAt: testHour, Status: StateSuccess},
		Readings: []Reading{reading("s1", 8000, phone)},
	}); err != nil {
		t.Fatalf("AppendSession(s1) error = %v", err)
	}
	stored, err := s.CurrentSamples(ctx, "steps", testHour)
	if err != nil {
		t.Fatalf("CurrentSamples() error = %v", err)
	}
	if len(stored) != 1 || stored[0].SourceID != "phone" || stored[0].Value != 8000 {
		t.Errorf("CurrentSamples() = %+v", stored)
	}

	if err := s.AppendSession(ctx, SessionRecord{
		Session:  SyncSession{ID: "s2", Trigger: TriggerManual, StartedAt: testHour.Add(time.Hour), Status: StateSuccess},
		Readings: []Reading{reading("s2", 8000, phone, watch)},
	}); err != nil {
		t.Fatalf("AppendSession(s2) error = %v", err)
	}

	readings, _ := s.Readings(ctx, ReadingQuery{Metric: "steps"})
	if len(readings) != 1 || readings[0].SessionID != "s2" {
		t.Errorf("readings = %+v, want only the s2 reading current", readings)
	}
	stored, _ = s.CurrentSamples(ctx, "steps", testHour)
	if len(stored) != 2 {
		t.Errorf("CurrentSamples() = %+v, want phone and watch", stored)
	}
	if other, _ := s.CurrentSamples(ctx, "steps", testHour.Add(time.Hour)); len(other) != 0 {
		t.Errorf("CurrentSamples(other bucket) = %+v", other)
	}
}

func TestStore_Watermark_OnlyAdvances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Watermark(ctx, "phone", CategoryActivity); err != nil || ok {
		t.Fatalf("Watermark() on empty store = %v, %v", ok, err)
	}

	later := testHour.Add(time.Hour)
	if err := s.SetWatermark(ctx, "phone", CategoryActivity, later); err != nil {
		t.Fatalf("SetWatermark() error = %v", err)
	}
	if err := s.SetWatermark(ctx, "phone", CategoryActivity, testHour); err != nil {
		t.Fatalf("SetWatermark() error = %v", err)
	}

	got, ok, err := s.Watermark(ctx, "phone", CategoryActivity)
	if err != nil || !ok {
		t.Fatalf("Watermark() = %v, %v", ok, err)
	}
	if !got.Equal(later) {
		t.Errorf("Watermark = %v, want %v", got, later)
	}
}

func TestStore_Audit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, kind := range []AuditKind{AuditSourceRegistered, AuditPriorityChanged, AuditConflictResolved} {
		err := s.AppendAudit(ctx, AuditEntry{At: testHour.Add(time.Duration(i) * time.Minute), Kind: kind, Subject: "x", Actor: "ana"})
		if err != nil {
			t.Fatalf("AppendAudit() error = %v", err)
		}
	}

	entries, err := s.Audit(ctx, 2)
	if err != nil {
		t.Fatalf("Audit() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != AuditConflictResolved || entries[0].ID == "" {
		t.Errorf("newest entry = %+v", entries[0])
	}
}

func TestStore_Closed(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.Sessions(context.Background(), 0); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Sessions() after close error = %v, want ErrStoreClosed", err)
	}
}
