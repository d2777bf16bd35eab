package healthsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/healthsync/internal/lock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ResolverUser is recorded when a caller resolves without naming themselves.
const ResolverUser = "user"

// Client is the presentation-facing entry point: it owns the registry, the
// orchestrator, and the history store for one profile.
type Client struct {
	store        Persistence
	registry     *Registry
	orchestrator *Orchestrator
	resolver     *Resolver
	metrics      *MetricTable
	refs         *RefTracker
	config       Config
	logger       *zap.Logger
	ownsLogger   bool
	redis        *lock.Redis

	mu        sync.Mutex
	scheduler *cron.Cron
	closed    bool
}

// processLock keeps clients in one process that share a profile from
// syncing at the same time when no Redis lock is configured.
var processLock = lock.NewMemory()

// Option customises a Client.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	locker   Locker
	store    Persistence
	adapters []Adapter
}

// WithLogger sets the logger, overriding the configured one.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLocker sets the cross-process sync lock, overriding RedisURL.
func WithLocker(l Locker) Option {
	return func(o *options) { o.locker = l }
}

// WithPersistence replaces the SQLite store at LocalPath.
func WithPersistence(p Persistence) Option {
	return func(o *options) { o.store = p }
}

// WithAdapters installs adapters for sources that are already registered
// or will be registered later.
func WithAdapters(adapters ...Adapter) Option {
	return func(o *options) { o.adapters = append(o.adapters, adapters...) }
}

// New creates a client. Sources and priorities persisted by earlier runs are
// restored into the registry.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{config: cfg, refs: NewRefTracker(), logger: o.logger}
	if c.logger == nil {
		l, err := loggerFor(cfg)
		if err != nil {
			return nil, fmt.Errorf("client: build logger: %w", err)
		}
		c.logger, c.ownsLogger = l, true
	}

	c.store = o.store
	if c.store == nil {
		st, err := NewStore(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.store = st
	}

	locker := o.locker
	switch {
	case locker != nil:
	case cfg.RedisURL != "":
		rl, err := lock.NewRedis(cfg.RedisURL)
		if err != nil {
			_ = c.store.Close()
			return nil, fmt.Errorf("client: %w", err)
		}
		c.redis = rl
		locker = rl
	default:
		locker = processLock
	}
	locker = heldLocker{locker}

	metrics := NewMetricTable(cfg.DefaultTolerance, cfg.Tolerances)
	c.metrics = metrics
	c.registry = NewRegistry()
	c.resolver = NewResolver(metrics)
	c.orchestrator = NewOrchestrator(
		cfg.orchestratorConfig(),
		c.registry,
		NewDetector(metrics, cfg.Agreement),
		c.resolver,
		c.store,
		locker,
		c.logger,
	)
	for _, a := range o.adapters {
		c.orchestrator.SetAdapter(a)
	}

	if err := c.restore(context.Background()); err != nil {
		_ = c.closeBackends()
		return nil, fmt.Errorf("client: restore registry: %w", err)
	}

	if cfg.Schedule != "" {
		if err := c.startScheduler(cfg.Schedule); err != nil {
			_ = c.closeBackends()
			return nil, fmt.Errorf("client: schedule: %w", err)
		}
	}

	return c, nil
}

func (c *Client) restore(ctx context.Context) error {
	sources, err := c.store.LoadSources(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if err := c.registry.Register(src); err != nil {
			c.logger.Warn("skip persisted source", zap.String("source_id", src.ID), zap.Error(err))
		}
	}
	priorities, err := c.store.LoadPriorities(ctx)
	if err != nil {
		return err
	}
	for cat, ids := range priorities {
		if err := c.registry.SetPriority(cat, ids); err != nil {
			c.logger.Warn("skip persisted priority", zap.String("category", string(cat)), zap.Error(err))
		}
	}
	return nil
}

// RegisterSource adds or updates a data source and installs its adapter.
// Re-registering an existing source keeps its current activation state.
// The adapter may be nil for sources fed some other way.
func (c *Client) RegisterSource(ctx context.Context, src DataSource, adapter Adapter) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, known := c.registry.Source(src.ID)
	if adapter != nil && adapter.SourceID() != src.ID {
		return &ConfigurationError{SourceID: src.ID, Err: fmt.Errorf("adapter serves %q", adapter.SourceID())}
	}
	if err := c.registry.Register(src); err != nil {
		return err
	}
	if adapter != nil {
		c.orchestrator.SetAdapter(adapter)
	}

	stored, _ := c.registry.Source(src.ID)
	if err := c.store.SaveSource(ctx, stored); err != nil {
		return err
	}
	for _, cat := range stored.Categories {
		if err := c.store.SavePriority(ctx, cat, c.registry.Priority(cat)); err != nil {
			return err
		}
	}
	if !known {
		c.audit(ctx, AuditEntry{Kind: AuditSourceRegistered, Subject: src.ID, Actor: ResolverSystem,
			Detail: "categories=" + joinCategories(stored.Categories)})
	}
	return nil
}

// Sources returns the registered sources in registration order.
func (c *Client) Sources() []DataSource {
	return c.registry.Sources()
}

// Source returns a registered source by ID.
func (c *Client) Source(id string) (DataSource, bool) {
	return c.registry.Source(id)
}

// SetSourceActive enables or disables a source. Disabled sources keep their
// priority positions but are skipped by sync and preference.
func (c *Client) SetSourceActive(ctx context.Context, id string, active bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.registry.SetActive(id, active); err != nil {
		return err
	}
	src, _ := c.registry.Source(id)
	if err := c.store.SaveSource(ctx, src); err != nil {
		return err
	}
	c.audit(ctx, AuditEntry{Kind: AuditSourceActivity, Subject: id, Actor: ResolverUser,
		Detail: fmt.Sprintf("active=%t", active)})
	return nil
}

// PriorityFor returns the full ranking for a category, including inactive
// sources.
func (c *Client) PriorityFor(category Category) []string {
	return c.registry.Priority(category)
}

// ResolvedOrderFor returns the ranking for a category filtered to active sources.
func (c *Client) ResolvedOrderFor(category Category) []string {
	return c.registry.ResolvedOrderFor(category)
}

// PreferredSource returns the highest-priority active source for a category.
func (c *Client) PreferredSource(category Category) (string, bool) {
	return c.registry.PreferredSource(category)
}

// SetPriority replaces the ranking for a category. The change applies to
// future sessions and resolutions; history is unaffected.
func (c *Client) SetPriority(ctx context.Context, category Category, ids []string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.registry.SetPriority(category, ids); err != nil {
		return err
	}
	if err := c.store.SavePriority(ctx, category, ids); err != nil {
		return err
	}
	c.audit(ctx, AuditEntry{Kind: AuditPriorityChanged, Subject: string(category), Actor: ResolverUser,
		Detail: strings.Join(ids, ",")})
	return nil
}

// StartSync runs a sync session and returns its summary. A call made while
// a session is running joins that session.
func (c *Client) StartSync(ctx context.Context, trigger Trigger) (Summary, error) {
	if err := c.checkOpen(); err != nil {
		return Summary{}, err
	}
	return c.orchestrator.Start(ctx, trigger)
}

// StartBackgroundSync starts a session without waiting for it. Progress is
// observable through Subscribe and CurrentSyncState.
func (c *Client) StartBackgroundSync(trigger Trigger) {
	go func() {
		if _, err := c.StartSync(context.Background(), trigger); err != nil {
			c.logger.Warn("background sync", zap.String("trigger", string(trigger)), zap.Error(err))
		}
	}()
}

// CancelSync cancels the running session. Returns false if none is running.
func (c *Client) CancelSync() bool {
	return c.orchestrator.Cancel()
}

// CurrentSyncState returns a snapshot of the orchestrator state.
func (c *Client) CurrentSyncState() StateSnapshot {
	return c.orchestrator.State()
}

// Subscribe streams state snapshots. Call the returned function to stop.
func (c *Client) Subscribe() (<-chan StateSnapshot, func()) {
	return c.orchestrator.Subscribe()
}

// PendingConflicts returns unresolved conflicts ordered by metric, then
// bucket start. Each conflict is assigned a short reference.
func (c *Client) PendingConflicts(ctx context.Context) ([]Conflict, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	conflicts, err := c.store.PendingConflicts(ctx)
	if err != nil {
		return nil, err
	}
	for _, cf := range conflicts {
		c.refs.Track(cf.ID)
	}
	return conflicts, nil
}

// Metrics returns the rules applied to each known metric, including
// configured tolerance overrides.
func (c *Client) Metrics() []MetricSpec {
	return c.metrics.Specs()
}

// Conflict looks up a conflict by ID or short reference.
func (c *Client) Conflict(ctx context.Context, ref string) (*Conflict, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.store.Conflict(ctx, c.lookupRef(ref))
}

// RefFor returns the short reference for a conflict ID, assigning one if needed.
func (c *Client) RefFor(id string) string {
	return c.refs.Track(id)
}

// ResolveConflict resolves a conflict by ID or short reference. Resolving an
// already resolved conflict with the same strategy returns the existing
// resolution unchanged; a different strategy is rejected.
func (c *Client) ResolveConflict(ctx context.Context, ref string, strategy Strategy, opts ResolveOptions) (*Resolution, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	cf, err := c.store.Conflict(ctx, c.lookupRef(ref))
	if err != nil {
		return nil, err
	}
	return c.resolve(ctx, *cf, strategy, opts)
}

func (c *Client) resolve(ctx context.Context, cf Conflict, strategy Strategy, opts ResolveOptions) (*Resolution, error) {
	if cf.Status.IsTerminal() && cf.Resolution != nil {
		if cf.Resolution.Requested == strategy {
			return cf.Resolution, nil
		}
		return nil, &ConflictResolutionError{ConflictID: cf.ID, Strategy: strategy, Err: ErrConflictResolved}
	}

	if opts.ResolvedBy == "" {
		opts.ResolvedBy = ResolverUser
	}
	res, err := c.resolver.Resolve(cf, strategy, opts, c.registry.Snapshot())
	if err != nil {
		return nil, err
	}
	if res.Deferred {
		return nil, &ConflictResolutionError{ConflictID: cf.ID, Strategy: strategy, Err: ErrManualInputRequired}
	}

	if err := c.store.SaveResolution(ctx, cf, res, ReadingsFor(cf, res)); err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("strategy=%s", res.Strategy)
	if res.FellBack {
		detail += fmt.Sprintf(" requested=%s", res.Requested)
	}
	if res.Value != nil {
		detail += fmt.Sprintf(" value=%g", *res.Value)
	}
	c.audit(ctx, AuditEntry{Kind: AuditConflictResolved, Subject: cf.ID, Actor: res.ResolvedBy, Detail: detail})
	c.logger.Info("conflict resolved",
		zap.String("conflict_id", cf.ID),
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("fell_back", res.FellBack),
	)
	return &res, nil
}

// ResolveAll applies one strategy to every pending conflict. Each conflict
// gets its own resolution recording the strategy actually used. Manual
// cannot be applied in bulk. Per-conflict failures are joined into the
// returned error; successful resolutions are still returned.
func (c *Client) ResolveAll(ctx context.Context, strategy Strategy, resolvedBy string) ([]Resolution, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !strategy.IsValid() {
		return nil, &ConflictResolutionError{Strategy: strategy, Err: ErrInvalidStrategy}
	}
	if strategy == StrategyManual {
		return nil, &ConflictResolutionError{Strategy: strategy, Err: ErrManualInputRequired}
	}

	pending, err := c.store.PendingConflicts(ctx)
	if err != nil {
		return nil, err
	}

	var (
		out  []Resolution
		errs []error
	)
	for _, cf := range pending {
		res, err := c.resolve(ctx, cf, strategy, ResolveOptions{ResolvedBy: resolvedBy})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, *res)
	}
	return out, errors.Join(errs...)
}

// UndoResolution reopens a resolved conflict. The original resolution stays
// in history, marked undone.
func (c *Client) UndoResolution(ctx context.Context, ref, by string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	id := c.lookupRef(ref)
	cf, err := c.store.Conflict(ctx, id)
	if err != nil {
		return err
	}
	if !cf.Status.IsTerminal() {
		return &ConflictResolutionError{ConflictID: id, Err: ErrNotResolved}
	}
	if err := c.store.UndoResolution(ctx, id, time.Now()); err != nil {
		return err
	}
	if by == "" {
		by = ResolverUser
	}
	c.audit(ctx, AuditEntry{Kind: AuditResolutionUndone, Subject: id, Actor: by,
		Detail: "previous=" + string(cf.Status)})
	return nil
}

// History returns past sessions, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]SyncSession, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.store.Sessions(ctx, limit)
}

// Readings returns authoritative readings.
func (c *Client) Readings(ctx context.Context, q ReadingQuery) ([]Reading, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.store.Readings(ctx, q)
}

// Audit returns audit entries, newest first.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.store.Audit(ctx, limit)
}

// Status summarises the client for status displays.
type Status struct {
	Profile          string        `json:"profile"`
	State            StateSnapshot `json:"state"`
	Sources          []DataSource  `json:"sources"`
	PendingConflicts int           `json:"pending_conflicts"`
	LastSession      *SyncSession  `json:"last_session,omitempty"`
	Schedule         string        `json:"schedule,omitempty"`
}

// Status returns the current state, sources, pending conflict count, and the
// most recent session.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	pending, err := c.store.PendingConflicts(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Profile:          c.config.Profile,
		State:            c.CurrentSyncState(),
		Sources:          c.Sources(),
		PendingConflicts: len(pending),
		Schedule:         c.config.Schedule,
	}
	sessions, err := c.store.Sessions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		st.LastSession = &sessions[0]
	}
	return st, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Close cancels any running session, stops the scheduler, and closes the store.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sched := c.scheduler
	c.mu.Unlock()

	c.orchestrator.Cancel()
	if sched != nil {
		<-sched.Stop().Done()
	}
	c.orchestrator.Stop()
	c.orchestrator.state.closeSubscribers()

	err := c.closeBackends()
	if c.ownsLogger {
		_ = c.logger.Sync()
	}
	return err
}

func (c *Client) startScheduler(spec string) error {
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SessionTimeout+time.Minute)
		defer cancel()
		summary, err := c.StartSync(ctx, TriggerScheduled)
		if err != nil {
			c.logger.Warn("scheduled sync", zap.Error(err))
			return
		}
		c.logger.Info("scheduled sync finished",
			zap.String("session_id", summary.SessionID),
			zap.String("status", string(summary.Status)),
		)
	})
	if err != nil {
		return err
	}
	sched.Start()
	c.logger.Info("sync scheduler started", zap.String("schedule", spec))

	c.mu.Lock()
	c.scheduler = sched
	c.mu.Unlock()
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) lookupRef(ref string) string {
	if id, ok := c.refs.Lookup(ref); ok {
		return id
	}
	return ref
}

func (c *Client) audit(ctx context.Context, e AuditEntry) {
	if err := c.store.AppendAudit(ctx, e); err != nil {
		c.logger.Warn("append audit", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (c *Client) closeBackends() error {
	err := c.store.Close()
	if c.redis != nil {
		if rerr := c.redis.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// heldLocker maps the lock package's contention error onto ErrLockHeld.
type heldLocker struct {
	l Locker
}

func (h heldLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	unlock, err := h.l.Lock(ctx, key, ttl)
	if errors.Is(err, lock.ErrHeld) {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	}
	return unlock, err
}

func joinCategories(cats []Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
