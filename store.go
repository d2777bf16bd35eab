package healthsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/healthsync/internal/store/migrations"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages the local SQLite sync history database. It implements
// Persistence.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Persistence = (*Store)(nil)

// NewStore opens or creates a local store.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, schemaVersion)
	return err
}

// SaveSource inserts or updates a registered source.
func (s *Store) SaveSource(ctx context.Context, src DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	cats := make([]string, len(src.Categories))
	for i, c := range src.Categories {
		cats[i] = string(c)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, display_name, categories, kind, active, last_sync_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			categories = excluded.categories,
			kind = excluded.kind,
			active = excluded.active,
			last_sync_at = COALESCE(excluded.last_sync_at, sources.last_sync_at)
	`,
		src.ID,
		src.DisplayName,
		strings.Join(cats, ","),
		string(src.Kind),
		boolToInt(src.Active),
		formatTimePtr(src.LastSyncAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("store: save source: %w", err)
	}
	return nil
}

// LoadSources returns all persisted sources in creation order.
func (s *Store) LoadSources(ctx context.Context) ([]DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, categories, kind, active, last_sync_at
		FROM sources ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: load sources: %w", err)
	}
	defer rows.Close()

	var out []DataSource
	for rows.Next() {
		var (
			src        DataSource
			categories string
			kind       string
			active     int
			lastSync   sql.NullString
		)
		if err := rows.Scan(&src.ID, &src.DisplayName, &categories, &kind, &active, &lastSync); err != nil {
			return nil, fmt.Errorf("store: scan source: %w", err)
		}
		for _, c := range strings.Split(categories, ",") {
			if c != "" {
				src.Categories = append(src.Categories, Category(c))
			}
		}
		src.Kind = IntegrationKind(kind)
		src.Active = active != 0
		src.LastSyncAt = parseTimePtr(lastSync)
		out = append(out, src)
	}
	return out, rows.Err()
}

// SavePriority replaces the persisted ranking for a category.
func (s *Store) SavePriority(ctx context.Context, category Category, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM priorities WHERE category = ?`, string(category)); err != nil {
		return fmt.Errorf("store: clear priority: %w", err)
	}
	now := formatTime(time.Now())
	for rank, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO priorities (category, rank, source_id, updated_at) VALUES (?, ?, ?, ?)
		`, string(category), rank, id, now); err != nil {
			return fmt.Errorf("store: insert priority: %w", err)
		}
	}
	return tx.Commit()
}

// LoadPriorities returns every persisted ranking.
func (s *Store) LoadPriorities(ctx context.Context) (map[Category][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, source_id FROM priorities ORDER BY category, rank`)
	if err != nil {
		return nil, fmt.Errorf("store: load priorities: %w", err)
	}
	defer rows.Close()

	out := make(map[Category][]string)
	for rows.Next() {
		var category, id string
		if err := rows.Scan(&category, &id); err != nil {
			return nil, fmt.Errorf("store: scan priority: %w", err)
		}
		out[Category(category)] = append(out[Category(category)], id)
	}
	return out, rows.Err()
}

// AppendSession writes a finished session, its conflicts, resolutions and
// readings in one transaction.
func (s *Store) AppendSession(ctx context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	sess := rec.Session
	outcomes, err := json.Marshal(sess.Outcomes)
	if err != nil {
		return fmt.Errorf("store: encode outcomes: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, trigger, status, started_at, ended_at, progress,
			samples_ingested, conflicts_found, conflicts_resolved, outcomes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID,
		string(sess.Trigger),
		string(sess.Status),
		formatTime(sess.StartedAt),
		formatTimePtr(sess.EndedAt),
		sess.Progress,
		sess.SamplesIngested,
		sess.ConflictsFound,
		sess.ConflictsResolved,
		string(outcomes),
		nullString(sess.Error),
	)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}

	for _, c := range rec.Conflicts {
		if err := insertConflict(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, res := range rec.Resolutions {
		if err := insertResolution(ctx, tx, res); err != nil {
			return err
		}
	}
	if err := insertReadings(ctx, tx, rec.Readings); err != nil {
		return err
	}

	return tx.Commit()
}

// Sessions returns finished sessions, newest first. A non-positive limit
// returns all sessions.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT id, trigger, status, started_at, ended_at, progress,
			samples_ingested, conflicts_found, conflicts_resolved, outcomes, error
		FROM sessions ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query sessions: %w", err)
	}
	defer rows.Close()

	var out []SyncSession
	for rows.Next() {
		var (
			sess      SyncSession
			trigger   string
			status    string
			startedAt string
			endedAt   sql.NullString
			outcomes  string
			errText   sql.NullString
		)
		if err := rows.Scan(&sess.ID, &trigger, &status, &startedAt, &endedAt, &sess.Progress,
			&sess.SamplesIngested, &sess.ConflictsFound, &sess.ConflictsResolved, &outcomes, &errText); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sess.Trigger = Trigger(trigger)
		sess.Status = SyncState(status)
		sess.StartedAt = parseTime(startedAt)
		sess.EndedAt = parseTimePtr(endedAt)
		sess.Error = errText.String
		if err := json.Unmarshal([]byte(outcomes), &sess.Outcomes); err != nil {
			return nil, fmt.Errorf("store: decode outcomes: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Conflict returns a conflict with its active resolution, if any.
func (s *Store) Conflict(ctx context.Context, id string) (*Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	conflicts, err := s.queryConflicts(ctx, "WHERE c.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, ErrConflictNotFound
	}
	return &conflicts[0], nil
}

// PendingConflicts returns unresolved conflicts ordered by metric, then
// bucket start.
func (s *Store) PendingConflicts(ctx context.Context) ([]Conflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.queryConflicts(ctx, "WHERE c.status = ?", string(ConflictUnresolved))
}

func (s *Store) queryConflicts(ctx context.Context, where string, args ...any) ([]Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.session_id, c.metric, c.category, c.bucket_start, c.bucket_end,
			c.samples, c.severity, c.max_delta, c.detected_at, c.status,
			r.strategy, r.requested, r.fell_back, r.value, r.selected_source,
			r.retained, r.resolved_by, r.resolved_at, r.note
		FROM conflicts c
		LEFT JOIN resolutions r ON r.conflict_id = c.id AND r.undone_at IS NULL
		`+where+`
		ORDER BY c.metric, c.bucket_start, c.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SaveResolution records a resolution against an existing conflict.
func (s *Store) SaveResolution(ctx context.Context, c Conflict, res Resolution, readings []Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	result, err := tx.ExecContext(ctx, `UPDATE conflicts SET status = ? WHERE id = ?`, string(StatusFor(res)), c.ID)
	if err != nil {
		return fmt.Errorf("store: update conflict: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConflictNotFound
	}
	if err := insertResolution(ctx, tx, res); err != nil {
		return err
	}
	if err := insertReadings(ctx, tx, readings); err != nil {
		return err
	}
	return tx.Commit()
}

// UndoResolution marks the active resolution undone, supersedes the readings
// it produced, and reopens the conflict.
func (s *Store) UndoResolution(ctx context.Context, conflictID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	stamp := formatTime(at)
	result, err := tx.ExecContext(ctx, `
		UPDATE resolutions SET undone_at = ? WHERE conflict_id = ? AND undone_at IS NULL
	`, stamp, conflictID)
	if err != nil {
		return fmt.Errorf("store: undo resolution: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotResolved
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE readings SET superseded_at = ? WHERE conflict_id = ? AND superseded_at IS NULL
	`, stamp, conflictID); err != nil {
		return fmt.Errorf("store: supersede readings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conflicts SET status = ? WHERE id = ?`,
		string(ConflictUnresolved), conflictID); err != nil {
		return fmt.Errorf("store: reopen conflict: %w", err)
	}
	return tx.Commit()
}

// Readings returns current (not superseded) readings matching the query,
// ordered by metric then bucket start.
func (s *Store) Readings(ctx context.Context, q ReadingQuery) ([]Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `
		SELECT session_id, metric, category, bucket_start, bucket_end, value, unit,
			sources, origin, conflict_id
		FROM readings WHERE superseded_at IS NULL`
	var args []any
	if q.Metric != "" {
		query += " AND metric = ?"
		args = append(args, q.Metric)
	}
	if !q.Since.IsZero() {
		query += " AND bucket_start >= ?"
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		query += " AND bucket_start < ?"
		args = append(args, formatTime(q.Until))
	}
	query += " ORDER BY metric, bucket_start, recorded_at"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r           Reading
			category    string
			bucketStart string
			bucketEnd   string
			sources     string
			origin      string
			conflictID  sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &r.Metric, &category, &bucketStart, &bucketEnd,
			&r.Value, &r.Unit, &sources, &origin, &conflictID); err != nil {
			return nil, fmt.Errorf("store: scan reading: %w", err)
		}
		r.Category = Category(category)
		r.BucketStart = parseTime(bucketStart)
		r.BucketEnd = parseTime(bucketEnd)
		r.Sources = strings.Split(sources, ",")
		r.Origin = ReadingOrigin(origin)
		r.ConflictID = conflictID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// CurrentSamples returns the samples behind the current readings for one
// metric and bucket, one per source. Readings written without samples
// contribute nothing.
func (s *Store) CurrentSamples(ctx context.Context, metric string, bucketStart time.Time) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT samples FROM readings
		WHERE metric = ? AND bucket_start = ? AND superseded_at IS NULL AND samples IS NOT NULL
		ORDER BY recorded_at
	`, metric, formatTime(bucketStart))
	if err != nil {
		return nil, fmt.Errorf("store: query current samples: %w", err)
	}
	defer rows.Close()

	bySource := make(map[string]Sample)
	var order []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan current samples: %w", err)
		}
		var samples []Sample
		if err := json.Unmarshal([]byte(raw), &samples); err != nil {
			return nil, fmt.Errorf("store: decode reading samples: %w", err)
		}
		for _, smp := range samples {
			if _, ok := bySource[smp.SourceID]; !ok {
				order = append(order, smp.SourceID)
			}
			bySource[smp.SourceID] = smp
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Sample, 0, len(order))
	for _, id := range order {
		out = append(out, bySource[id])
	}
	return out, nil
}

// Watermark returns the fetch cursor for a source and category.
func (s *Store) Watermark(ctx context.Context, sourceID string, category Category) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, false, ErrStoreClosed
	}

	var since string
	err := s.db.QueryRowContext(ctx, `
		SELECT since FROM watermarks WHERE source_id = ? AND category = ?
	`, sourceID, string(category)).Scan(&since)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: read watermark: %w", err)
	}
	return parseTime(since), true, nil
}

// SetWatermark advances the fetch cursor for a source and category.
func (s *Store) SetWatermark(ctx context.Context, sourceID string, category Category, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermarks (source_id, category, since) VALUES (?, ?, ?)
		ON CONFLICT(source_id, category) DO UPDATE SET since = excluded.since
		WHERE excluded.since > watermarks.since
	`, sourceID, string(category), formatTime(since))
	if err != nil {
		return fmt.Errorf("store: write watermark: %w", err)
	}
	return nil
}

// AppendAudit writes an audit entry, assigning an ID and timestamp if unset.
func (s *Store) AppendAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (id, at, kind, subject, actor, detail) VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, formatTime(entry.At), string(entry.Kind), entry.Subject, entry.Actor, nullString(entry.Detail))
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	return nil
}

// Audit returns audit entries, newest first.
func (s *Store) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	query := `SELECT id, at, kind, subject, actor, detail FROM audit ORDER BY at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e      AuditEntry
			at     string
			kind   string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &kind, &e.Subject, &e.Actor, &detail); err != nil {
			return nil, fmt.Errorf("store: scan audit: %w", err)
		}
		e.At = parseTime(at)
		e.Kind = AuditKind(kind)
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

func insertConflict(ctx context.Context, tx *sql.Tx, c Conflict) error {
	samples, err := json.Marshal(c.Samples)
	if err != nil {
		return fmt.Errorf("store: encode samples: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conflicts (id, session_id, metric, category, bucket_start, bucket_end,
			samples, severity, max_delta, detected_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.SessionID,
		c.Metric,
		string(c.Category),
		formatTime(c.BucketStart),
		formatTime(c.BucketEnd),
		string(samples),
		string(c.Severity),
		c.MaxDelta,
		formatTime(c.DetectedAt),
		string(c.Status),
	)
	if err != nil {
		return fmt.Errorf("store: insert conflict: %w", err)
	}
	return nil
}

func insertResolution(ctx context.Context, tx *sql.Tx, res Resolution) error {
	var retained *string
	if len(res.Retained) > 0 {
		b, err := json.Marshal(res.Retained)
		if err != nil {
			return fmt.Errorf("store: encode retained samples: %w", err)
		}
		str := string(b)
		retained = &str
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO resolutions (id, conflict_id, strategy, requested, fell_back, value,
			selected_source, retained, resolved_by, resolved_at, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ulid.Make().String(),
		res.ConflictID,
		string(res.Strategy),
		string(res.Requested),
		boolToInt(res.FellBack),
		res.Value,
		nullString(res.SelectedSource),
		retained,
		res.ResolvedBy,
		formatTime(res.ResolvedAt),
		nullString(res.Note),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrConflictResolved
		}
		return fmt.Errorf("store: insert resolution: %w", err)
	}
	return nil
}

// insertReadings records readings as the current values for their buckets.
// Readings already current for a bucket in the batch are superseded first, so
// each (metric, bucket) keeps one current set.
func insertReadings(ctx context.Context, tx *sql.Tx, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}
	now := formatTime(time.Now())

	type bucket struct {
		metric string
		start  string
	}
	seen := make(map[bucket]bool)
	for _, r := range readings {
		b := bucket{metric: r.Metric, start: formatTime(r.BucketStart)}
		if seen[b] {
			continue
		}
		seen[b] = true
		if _, err := tx.ExecContext(ctx, `
			UPDATE readings SET superseded_at = ?
			WHERE metric = ? AND bucket_start = ? AND superseded_at IS NULL
		`, now, b.metric, b.start); err != nil {
			return fmt.Errorf("store: supersede readings: %w", err)
		}
	}

	for _, r := range readings {
		var samples *string
		if len(r.Samples) > 0 {
			b, err := json.Marshal(r.Samples)
			if err != nil {
				return fmt.Errorf("store: encode reading samples: %w", err)
			}
			str := string(b)
			samples = &str
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO readings (id, session_id, metric, category, bucket_start, bucket_end,
				value, unit, sources, origin, conflict_id, samples, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ulid.Make().String(),
			r.SessionID,
			r.Metric,
			string(r.Category),
			formatTime(r.BucketStart),
			formatTime(r.BucketEnd),
			r.Value,
			r.Unit,
			strings.Join(r.Sources, ","),
			string(r.Origin),
			nullString(r.ConflictID),
			samples,
			now,
		)
		if err != nil {
			return fmt.Errorf("store: insert reading: %w", err)
		}
	}
	return nil
}

// scanner abstracts the Scan method shared by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(sc scanner) (*Conflict, error) {
	var (
		c           Conflict
		category    string
		bucketStart string
		bucketEnd   string
		samples     string
		severity    string
		detectedAt  string
		status      string

		strategy       sql.NullString
		requested      sql.NullString
		fellBack       sql.NullInt64
		value          sql.NullFloat64
		selectedSource sql.NullString
		retained       sql.NullString
		resolvedBy     sql.NullString
		resolvedAt     sql.NullString
		note           sql.NullString
	)
	err := sc.Scan(
		&c.ID, &c.SessionID, &c.Metric, &category, &bucketStart, &bucketEnd,
		&samples, &severity, &c.MaxDelta, &detectedAt, &status,
		&strategy, &requested, &fellBack, &value, &selectedSource,
		&retained, &resolvedBy, &resolvedAt, &note,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan conflict: %w", err)
	}

	c.Category = Category(category)
	c.BucketStart = parseTime(bucketStart)
	c.BucketEnd = parseTime(bucketEnd)
	c.Severity = Severity(severity)
	c.DetectedAt = parseTime(detectedAt)
	c.Status = ConflictStatus(status)
	if err := json.Unmarshal([]byte(samples), &c.Samples); err != nil {
		return nil, fmt.Errorf("store: decode samples: %w", err)
	}

	if strategy.Valid {
		res := &Resolution{
			ConflictID:     c.ID,
			Strategy:       Strategy(strategy.String),
			Requested:      Strategy(requested.String),
			FellBack:       fellBack.Int64 != 0,
			SelectedSource: selectedSource.String,
			ResolvedBy:     resolvedBy.String,
			ResolvedAt:     parseTime(resolvedAt.String),
			Note:           note.String,
		}
		if value.Valid {
			v := value.Float64
			res.Value = &v
		}
		if retained.Valid {
			if err := json.Unmarshal([]byte(retained.String), &res.Retained); err != nil {
				return nil, fmt.Errorf("store: decode retained samples: %w", err)
			}
		}
		c.Resolution = res
	}
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
