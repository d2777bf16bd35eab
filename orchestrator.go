package healthsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Locker guards a sync session across processes. Lock returns an unlock
// function, or an error wrapping ErrLockHeld when another holder has it.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// ErrLockHeld is what Locker implementations return when the lock is taken.
// The orchestrator reports it to callers as ErrSyncInProgress.
var ErrLockHeld = errors.New("lock held by another process")

// OrchestratorConfig tunes a sync session.
type OrchestratorConfig struct {
	MaxConcurrency     int
	MaxRetryAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	AdapterTimeout     time.Duration
	SessionTimeout     time.Duration
	InitialLookback    time.Duration
	DefaultStrategy    Strategy
	CategoryStrategies map[Category]Strategy
	AutoResolveMinor   bool
	LockKey            string
}

// StrategyFor returns the default resolution strategy for a category.
func (c OrchestratorConfig) StrategyFor(category Category) Strategy {
	if s, ok := c.CategoryStrategies[category]; ok && s.IsValid() {
		return s
	}
	if c.DefaultStrategy.IsValid() {
		return c.DefaultStrategy
	}
	return StrategyPriority
}

// withDefaults fills non-positive durations and limits from DefaultConfig.
// MaxConcurrency is left alone: zero means one worker per adapter.
func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	d := DefaultConfig()
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = d.AdapterTimeout
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.InitialLookback <= 0 {
		c.InitialLookback = d.InitialLookback
	}
	if !c.DefaultStrategy.IsValid() {
		c.DefaultStrategy = d.DefaultStrategy
	}
	return c
}

// Orchestrator drives sync sessions through the SyncState lifecycle. Only
// one session runs at a time; concurrent StartSync calls join it.
type Orchestrator struct {
	cfg      OrchestratorConfig
	registry *Registry
	detector *Detector
	resolver *Resolver
	store    Persistence
	locker   Locker
	logger   *zap.Logger
	state    *stateMachine
	flight   singleflight.Group
	now      func() time.Time

	mu        sync.Mutex
	adapters  map[string]Adapter
	cancel    context.CancelFunc
	cancelled bool
	stopped   bool
	running   sync.WaitGroup
}

// NewOrchestrator wires an orchestrator. Unset durations and retry limits in
// cfg take their DefaultConfig values. A nil locker disables cross-process
// locking and a nil logger discards logs.
func NewOrchestrator(cfg OrchestratorConfig, registry *Registry, detector *Detector, resolver *Resolver, store Persistence, locker Locker, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		detector: detector,
		resolver: resolver,
		store:    store,
		locker:   locker,
		logger:   logger.Named("orchestrator"),
		state:    newStateMachine(),
		now:      time.Now,
		adapters: make(map[string]Adapter),
	}
}

// SetAdapter installs the adapter for a source, replacing any previous one.
func (o *Orchestrator) SetAdapter(a Adapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters[a.SourceID()] = a
}

// State returns the current state snapshot.
func (o *Orchestrator) State() StateSnapshot {
	return o.state.snapshot()
}

// Subscribe returns a channel of state snapshots, starting with the current
// one, and a function that stops the subscription.
func (o *Orchestrator) Subscribe() (<-chan StateSnapshot, func()) {
	return o.state.subscribe()
}

// Start runs a sync session, or joins the one already running. The session
// is detached from ctx: cancelling ctx stops the caller waiting but not the
// session. Use Cancel to stop the session itself.
func (o *Orchestrator) Start(ctx context.Context, trigger Trigger) (Summary, error) {
	if !trigger.IsValid() {
		return Summary{}, fmt.Errorf("sync: invalid trigger %q", trigger)
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return Summary{}, ErrClientClosed
	}
	o.running.Add(1)
	o.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := o.flight.DoChan("sync", func() (any, error) {
		return o.run(detached, trigger)
	})
	done := make(chan singleflight.Result, 1)
	go func() {
		defer o.running.Done()
		done <- <-ch
	}()

	select {
	case res := <-done:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// Cancel stops the running session. Returns false if nothing is running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel == nil {
		return false
	}
	o.cancelled = true
	o.cancel()
	return true
}

// Stop refuses new sessions, then blocks until the running one has finished.
// It does not cancel the session; call Cancel first for that.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.running.Wait()
}

type fetchJob struct {
	adapter  Adapter
	sourceID string
	category Category
	since    time.Time
	estimate int
}

type fetchResult struct {
	job      fetchJob
	samples  []Sample
	attempts int
	err      *AdapterError
}

func (o *Orchestrator) run(ctx context.Context, trigger Trigger) (Summary, error) {
	if o.locker != nil && o.cfg.LockKey != "" {
		unlock, err := o.locker.Lock(ctx, o.cfg.LockKey, o.cfg.SessionTimeout+time.Minute)
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				return Summary{}, ErrSyncInProgress
			}
			return Summary{}, fmt.Errorf("sync: obtain lock: %w", err)
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				o.logger.Warn("release sync lock", zap.Error(err))
			}
		}()
	}

	session := SyncSession{
		ID:        ulid.Make().String(),
		Trigger:   trigger,
		StartedAt: o.now().UTC(),
		Status:    StateSyncing,
	}
	snap := o.registry.Snapshot()
	log := o.logger.With(zap.String("session_id", session.ID), zap.String("trigger", string(trigger)))

	sessCtx, cancel := context.WithTimeout(ctx, o.cfg.SessionTimeout)
	o.mu.Lock()
	o.cancel = cancel
	o.cancelled = false
	adapters := make(map[string]Adapter, len(o.adapters))
	for id, a := range o.adapters {
		adapters[id] = a
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel()
	}()

	if err := o.state.transition(StateSyncing, func(s *StateSnapshot) {
		s.SessionID = session.ID
		s.Progress = 0
		s.Summary = nil
	}); err != nil {
		return Summary{}, err
	}
	log.Info("sync session started")

	active := snap.ActiveSources()
	outcomes := make(map[string]*SourceOutcome, len(active))
	var jobs []fetchJob
	for _, src := range active {
		outcomes[src.ID] = &SourceOutcome{SourceID: src.ID, Status: OutcomeSuccess, Categories: src.Categories}
		adapter, ok := adapters[src.ID]
		if !ok {
			outcomes[src.ID].Status = OutcomeFailed
			outcomes[src.ID].ErrorKind = AdapterUnreachable
			outcomes[src.ID].Error = "no adapter registered"
			continue
		}
		for _, c := range src.Categories {
			jobs = append(jobs, fetchJob{
				adapter:  adapter,
				sourceID: src.ID,
				category: c,
				since:    o.since(ctx, src.ID, c, session.StartedAt),
			})
		}
	}

	var results []fetchResult
	if len(jobs) > 0 {
		results = o.fetchAll(sessCtx, jobs, countAdapters(jobs))
	}

	o.mu.Lock()
	cancelled := o.cancelled
	o.mu.Unlock()
	timedOut := !cancelled && errors.Is(sessCtx.Err(), context.DeadlineExceeded)

	var samples []Sample
	for _, r := range results {
		out := outcomes[r.job.sourceID]
		out.Attempts += r.attempts
		if r.err != nil {
			if out.Error == "" {
				out.Error = r.err.Error()
				out.ErrorKind = r.err.Kind
			}
			if out.Status == OutcomeSuccess {
				out.Status = OutcomePartial
			}
			continue
		}
		out.Samples += len(r.samples)
		samples = append(samples, r.samples...)
	}
	// A source whose every category failed is failed, not partial.
	for _, src := range active {
		out := outcomes[src.ID]
		if out.Status == OutcomePartial && !anySucceeded(results, src.ID) {
			out.Status = OutcomeFailed
		}
	}

	var (
		detection   Detection
		resolutions []Resolution
	)
	if cancelled {
		samples = nil
	} else {
		prior := o.priorSamples(ctx, samples, log)
		detection = o.detector.Detect(session.ID, append(samples[:len(samples):len(samples)], prior...), snap)
		resolutions = o.autoResolve(&detection, snap, log)
	}

	session.Outcomes = sortedOutcomes(outcomes)
	session.SamplesIngested = len(samples)
	session.ConflictsFound = len(detection.Conflicts)
	for _, c := range detection.Conflicts {
		if c.Status.IsTerminal() {
			session.ConflictsResolved++
		}
	}
	session.Progress = o.state.snapshot().Progress
	session.Status = terminalState(session, cancelled, len(active))

	switch {
	case cancelled:
		session.Error = context.Canceled.Error()
	case len(active) == 0:
		session.Error = ErrNoActiveSources.Error()
	case timedOut:
		session.Error = (&SessionTimeoutError{SessionID: session.ID, Timeout: o.cfg.SessionTimeout}).Error()
	}
	if session.Status == StateSuccess {
		session.Progress = 1
	}
	ended := o.now().UTC()
	session.EndedAt = &ended

	summary := Summary{
		SessionID:         session.ID,
		Status:            session.Status,
		SamplesIngested:   session.SamplesIngested,
		ConflictsFound:    session.ConflictsFound,
		ConflictsResolved: session.ConflictsResolved,
		PerSource:         session.Outcomes,
		Duration:          ended.Sub(session.StartedAt),
		Error:             session.Error,
	}

	if err := o.state.transition(session.Status, func(s *StateSnapshot) {
		s.Progress = session.Progress
		sum := summary
		s.Summary = &sum
	}); err != nil {
		log.Error("finalize session state", zap.Error(err))
	}

	o.record(ctx, session, detection, resolutions, results, cancelled, log)

	if err := o.state.transition(StateIdle, nil); err != nil {
		log.Error("return to idle", zap.Error(err))
	}

	log.Info("sync session finished",
		zap.String("status", string(session.Status)),
		zap.Int("samples", session.SamplesIngested),
		zap.Int("conflicts_found", session.ConflictsFound),
		zap.Int("conflicts_resolved", session.ConflictsResolved),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// since returns the fetch cursor for a source and category.
func (o *Orchestrator) since(ctx context.Context, sourceID string, category Category, startedAt time.Time) time.Time {
	if o.store != nil {
		if t, ok, err := o.store.Watermark(ctx, sourceID, category); err == nil && ok {
			return t
		} else if err != nil {
			o.logger.Warn("read watermark", zap.String("source_id", sourceID), zap.Error(err))
		}
	}
	return startedAt.Add(-o.cfg.InitialLookback)
}

// priorSamples loads the samples behind the current readings of every bucket
// this session touched. Sources that reported the bucket again are left out,
// so their fresh sample replaces the stored one.
func (o *Orchestrator) priorSamples(ctx context.Context, samples []Sample, log *zap.Logger) []Sample {
	if o.store == nil || len(samples) == 0 {
		return nil
	}

	type key struct {
		metric string
		start  int64
	}
	fresh := make(map[key]map[string]bool)
	starts := make(map[key]time.Time)
	var keys []key
	for _, s := range samples {
		start := o.detector.BucketFor(s)
		k := key{metric: s.Metric, start: start.UnixNano()}
		if _, ok := fresh[k]; !ok {
			fresh[k] = make(map[string]bool)
			starts[k] = start
			keys = append(keys, k)
		}
		fresh[k][s.SourceID] = true
	}

	var prior []Sample
	for _, k := range keys {
		stored, err := o.store.CurrentSamples(ctx, k.metric, starts[k])
		if err != nil {
			log.Warn("load stored samples", zap.String("metric", k.metric), zap.Time("bucket_start", starts[k]), zap.Error(err))
			continue
		}
		for _, s := range stored {
			if !fresh[k][s.SourceID] {
				prior = append(prior, s)
			}
		}
	}
	return prior
}

// fetchAll runs every job on a bounded worker pool. Failures are isolated:
// a job never aborts its siblings.
func (o *Orchestrator) fetchAll(ctx context.Context, jobs []fetchJob, adapterCount int) []fetchResult {
	limit := o.cfg.MaxConcurrency
	if limit <= 0 || limit > adapterCount {
		limit = adapterCount
	}

	o.estimate(ctx, jobs, limit)
	progress := newProgressTracker(jobs)

	results := make([]fetchResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range jobs {
		g.Go(func() error {
			results[i] = o.fetch(ctx, jobs[i])
			o.state.setProgress(progress.done(jobs[i]))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// estimate asks adapters implementing Estimator for expected sample counts.
func (o *Orchestrator) estimate(ctx context.Context, jobs []fetchJob, limit int) {
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range jobs {
		est, ok := jobs[i].adapter.(Estimator)
		if !ok {
			continue
		}
		g.Go(func() error {
			ectx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
			defer cancel()
			n, err := est.EstimateSamples(ectx, jobs[i].category, jobs[i].since)
			if err == nil && n > 0 {
				jobs[i].estimate = n
			}
			return nil
		})
	}
	_ = g.Wait()
}

// fetch queries one adapter for one category, retrying transient failures
// with capped exponential backoff.
func (o *Orchestrator) fetch(ctx context.Context, job fetchJob) fetchResult {
	res := fetchResult{job: job}
	log := o.logger.With(zap.String("source_id", job.sourceID), zap.String("category", string(job.category)))

	attempts := o.cfg.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1),
		retry.WithCappedDuration(o.cfg.RetryMaxDelay, retry.NewExponential(o.cfg.RetryBaseDelay)))

	samples, err := retry.DoValue(ctx, backoff, func(ctx context.Context) ([]Sample, error) {
		res.attempts++
		out, err := o.fetchOnce(ctx, job)
		if err == nil {
			return out, nil
		}
		ae := classifyAdapterError(job.sourceID, err)
		if ae.Kind.Retryable() && ctx.Err() == nil && res.attempts < attempts {
			log.Debug("adapter fetch failed, retrying", zap.Int("attempt", res.attempts), zap.Error(ae))
			return nil, retry.RetryableError(ae)
		}
		return nil, ae
	})
	if err != nil {
		res.err = classifyAdapterError(job.sourceID, err)
		log.Warn("adapter fetch failed", zap.Int("attempts", res.attempts), zap.Error(res.err))
		return res
	}

	res.samples = normalizeSamples(samples, job)
	log.Debug("adapter fetch complete", zap.Int("samples", len(res.samples)), zap.Int("attempts", res.attempts))
	return res
}

// fetchOnce runs a single adapter call under the per-adapter timeout.
// Results that arrive after the deadline or cancellation are discarded.
func (o *Orchestrator) fetchOnce(ctx context.Context, job fetchJob) ([]Sample, error) {
	actx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()

	type reply struct {
		samples []Sample
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		samples, err := job.adapter.FetchSamples(actx, job.category, job.since)
		done <- reply{samples, err}
	}()

	select {
	case r := <-done:
		if r.err == nil && actx.Err() != nil {
			return nil, adapterContextError(job.sourceID, actx.Err())
		}
		return r.samples, r.err
	case <-actx.Done():
		return nil, adapterContextError(job.sourceID, actx.Err())
	}
}

func adapterContextError(sourceID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &AdapterError{SourceID: sourceID, Kind: AdapterTimeout, Err: err}
	}
	return err
}

// autoResolve applies the auto-resolution policy in detection order and
// returns the applied resolutions.
func (o *Orchestrator) autoResolve(d *Detection, snap *RegistrySnapshot, log *zap.Logger) []Resolution {
	var applied []Resolution
	for i := range d.Conflicts {
		c := &d.Conflicts[i]
		strategy, ok := AutoStrategy(*c, o.cfg.StrategyFor(c.Category), o.cfg.AutoResolveMinor)
		if !ok {
			continue
		}
		res, err := o.resolver.Resolve(*c, strategy, ResolveOptions{}, snap)
		if err != nil {
			log.Warn("auto-resolve conflict", zap.String("conflict_id", c.ID), zap.Error(err))
			continue
		}
		if res.Deferred {
			continue
		}
		c.Status = StatusFor(res)
		c.Resolution = &res
		applied = append(applied, res)
		d.Readings = append(d.Readings, ReadingsFor(*c, res)...)
	}
	return applied
}

// record appends the session to history and advances watermarks for
// successful fetches. Cancelled sessions keep only the session row.
func (o *Orchestrator) record(ctx context.Context, session SyncSession, d Detection, resolutions []Resolution, results []fetchResult, cancelled bool, log *zap.Logger) {
	if o.store == nil {
		return
	}

	rec := SessionRecord{Session: session}
	if !cancelled {
		rec.Conflicts = d.Conflicts
		rec.Resolutions = resolutions
		rec.Readings = d.Readings
	}
	if err := o.store.AppendSession(ctx, rec); err != nil {
		log.Error("append session to history", zap.Error(err))
		return
	}

	if !cancelled {
		synced := make(map[string]bool)
		for _, r := range results {
			if r.err != nil {
				continue
			}
			synced[r.job.sourceID] = true
			if err := o.store.SetWatermark(ctx, r.job.sourceID, r.job.category, session.StartedAt); err != nil {
				log.Warn("advance watermark", zap.String("source_id", r.job.sourceID), zap.Error(err))
			}
		}
		for id := range synced {
			if err := o.registry.MarkSynced(id, *session.EndedAt); err != nil {
				continue
			}
			if src, ok := o.registry.Source(id); ok {
				if err := o.store.SaveSource(ctx, src); err != nil {
					log.Warn("persist source sync time", zap.String("source_id", id), zap.Error(err))
				}
			}
		}
	}

	if err := o.store.AppendAudit(ctx, AuditEntry{
		Kind:    AuditSessionCompleted,
		Subject: session.ID,
		Actor:   ResolverSystem,
		Detail: fmt.Sprintf("status=%s trigger=%s samples=%d conflicts=%d resolved=%d",
			session.Status, session.Trigger, session.SamplesIngested, session.ConflictsFound, session.ConflictsResolved),
	}); err != nil {
		log.Warn("append audit", zap.Error(err))
	}
}

// terminalState applies the session outcome rules.
func terminalState(s SyncSession, cancelled bool, activeCount int) SyncState {
	if cancelled {
		return StateCancelled
	}
	if activeCount == 0 {
		return StateFailed
	}
	succeeded, degraded := 0, 0
	for _, out := range s.Outcomes {
		switch out.Status {
		case OutcomeSuccess:
			succeeded++
		case OutcomePartial:
			succeeded++
			degraded++
		default:
			degraded++
		}
	}
	if succeeded == 0 {
		return StateFailed
	}
	if degraded > 0 || s.ConflictsResolved < s.ConflictsFound {
		return StatePartial
	}
	return StateSuccess
}

func anySucceeded(results []fetchResult, sourceID string) bool {
	for _, r := range results {
		if r.job.sourceID == sourceID && r.err == nil {
			return true
		}
	}
	return false
}

func sortedOutcomes(m map[string]*SourceOutcome) []SourceOutcome {
	out := make([]SourceOutcome, 0, len(m))
	for _, o := range m {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func countAdapters(jobs []fetchJob) int {
	seen := make(map[string]bool)
	for _, j := range jobs {
		seen[j.sourceID] = true
	}
	return len(seen)
}

// normalizeSamples stamps samples with the fetching source and category.
// Samples without a metric are dropped.
func normalizeSamples(in []Sample, job fetchJob) []Sample {
	out := make([]Sample, 0, len(in))
	for _, s := range in {
		if s.Metric == "" {
			continue
		}
		s.SourceID = job.sourceID
		if s.Category == "" {
			s.Category = job.category
		}
		out = append(out, s)
	}
	return out
}

// progressTracker converts finished jobs into a completed fraction. When
// every job carries an estimate, progress is weighted by expected samples;
// otherwise each job counts equally.
type progressTracker struct {
	mu        sync.Mutex
	weighted  bool
	expected  int
	processed int
}

func newProgressTracker(jobs []fetchJob) *progressTracker {
	p := &progressTracker{weighted: true}
	for _, j := range jobs {
		if j.estimate <= 0 {
			p.weighted = false
		}
		p.expected += j.estimate
	}
	if !p.weighted {
		p.expected = len(jobs)
	}
	return p
}

func (p *progressTracker) done(job fetchJob) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.weighted {
		p.processed += job.estimate
	} else {
		p.processed++
	}
	if p.expected == 0 {
		return 1
	}
	return float64(p.processed) / float64(p.expected)
}
