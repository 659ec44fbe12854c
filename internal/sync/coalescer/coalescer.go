package coalescer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-docsync/internal/cache"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/health"
	"github.com/stacklok/toolhive-docsync/internal/otel"
	"github.com/stacklok/toolhive-docsync/internal/retry"
	"github.com/stacklok/toolhive-docsync/internal/sync/resolver"
	"github.com/stacklok/toolhive-docsync/internal/telemetry"
)

const (
	// DefaultDebounce is the delay between the first queued change and the flush.
	DefaultDebounce = 100 * time.Millisecond

	// DefaultCooldown is the delay before retrying a pass interrupted by a lost connection.
	DefaultCooldown = 5 * time.Second
)

// ErrStopped is returned by operations attempted after Stop.
var ErrStopped = errors.New("coalescer stopped")

// State describes what the coalescer is doing right now.
type State string

const (
	// StateIdle means no timer is armed and no pass is running
	StateIdle State = "idle"
	// StateScheduled means a flush timer is armed
	StateScheduled State = "scheduled"
	// StateFlushing means a pass is in progress
	StateFlushing State = "flushing"
)

// Status is a point-in-time view of the coalescer.
type Status struct {
	State   State `json:"state"`
	Pending int   `json:"pending"`
	// ScheduledDelay is the delay the current timer was armed with, zero when unscheduled.
	ScheduledDelay time.Duration `json:"scheduledDelay"`
	// NextFlushIn is the time left until the armed timer fires.
	NextFlushIn time.Duration `json:"nextFlushIn"`
}

// Coalescer accumulates per-entity field changes and writes them back to the
// document store in debounced batches.
type Coalescer struct {
	store    docstore.Store
	cache    *cache.DocumentCache
	resolver resolver.Resolver
	monitor  *health.Monitor
	retry    *retry.Executor
	clock    clock.WithDelayedExecution
	debounce time.Duration
	cooldown time.Duration
	metrics  *telemetry.SyncMetrics
	tracer   trace.Tracer

	mu         sync.Mutex // Protects everything below
	pending    *pendingSet
	timer      clock.Timer
	timerGen   uint64
	timerDelay time.Duration
	dueAt      time.Time
	flushing   bool
	rerun      bool
	stopped    bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	passes    sync.WaitGroup
}

// Option is a functional option for configuring the Coalescer
type Option func(*Coalescer) error

// WithClock overrides the clock used for timers
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(c *Coalescer) error {
		if clk == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.clock = clk
		return nil
	}
}

// WithDebounce overrides the debounce interval
func WithDebounce(d time.Duration) Option {
	return func(c *Coalescer) error {
		if d <= 0 {
			return fmt.Errorf("debounce interval must be positive, got %s", d)
		}
		c.debounce = d
		return nil
	}
}

// WithCooldown overrides the reconnect cooldown
func WithCooldown(d time.Duration) Option {
	return func(c *Coalescer) error {
		if d <= 0 {
			return fmt.Errorf("cooldown interval must be positive, got %s", d)
		}
		c.cooldown = d
		return nil
	}
}

// WithResolver replaces the default cache-then-store resolver
func WithResolver(r resolver.Resolver) Option {
	return func(c *Coalescer) error {
		c.resolver = r
		return nil
	}
}

// WithSyncMetrics sets the metrics instruments
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *Coalescer) error {
		c.metrics = metrics
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coalescer) error {
		c.tracer = tracer
		return nil
	}
}

// New creates a Coalescer writing to store. The cache, monitor and executor
// are shared with the rest of the pipeline.
func New(
	store docstore.Store,
	c *cache.DocumentCache,
	monitor *health.Monitor,
	ex *retry.Executor,
	opts ...Option,
) (*Coalescer, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if c == nil {
		return nil, fmt.Errorf("document cache is required")
	}
	if monitor == nil {
		return nil, fmt.Errorf("connection monitor is required")
	}
	if ex == nil {
		return nil, fmt.Errorf("retry executor is required")
	}

	co := &Coalescer{
		store:    store,
		cache:    c,
		monitor:  monitor,
		retry:    ex,
		clock:    clock.RealClock{},
		debounce: DefaultDebounce,
		cooldown: DefaultCooldown,
		pending:  newPendingSet(),
	}
	for _, opt := range opts {
		if err := opt(co); err != nil {
			return nil, err
		}
	}

	if co.resolver == nil {
		r, err := resolver.New(c, store, ex)
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver: %w", err)
		}
		co.resolver = r
	}

	co.runCtx, co.cancelRun = context.WithCancel(context.Background())
	return co, nil
}

// QueueUpdate merges patch into the pending changes for id and arms the
// debounce timer if none is armed. It never blocks on the store.
func (c *Coalescer) QueueUpdate(id string, patch docstore.Patch) error {
	if id == "" {
		return docstore.NewValidationError("id", "must not be empty")
	}
	if len(patch) == 0 {
		return docstore.NewValidationError("patch", "must contain at least one field")
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.pending.merge(id, patch)
	if c.timer == nil {
		c.armLocked(c.debounce)
	}
	pending := c.pending.len()
	c.mu.Unlock()

	c.metrics.RecordPending(c.runCtx, pending)
	return nil
}

// Forget drops any pending changes for id and evicts its cached document.
// It reports whether changes were dropped.
func (c *Coalescer) Forget(id string) bool {
	c.mu.Lock()
	removed := c.pending.remove(id)
	if c.pending.len() == 0 && !c.flushing {
		c.stopTimerLocked()
	}
	pending := c.pending.len()
	c.mu.Unlock()

	c.cache.Invalidate(id)
	c.metrics.RecordPending(c.runCtx, pending)
	return removed
}

// Pending returns a copy of the queued, unflushed patches.
func (c *Coalescer) Pending() map[string]docstore.Patch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.snapshot()
}

// Status reports the current state of the coalescer.
func (c *Coalescer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{State: StateIdle, Pending: c.pending.len()}
	if c.timer != nil {
		status.State = StateScheduled
		status.ScheduledDelay = c.timerDelay
		status.NextFlushIn = max(c.dueAt.Sub(c.clock.Now()), 0)
	}
	if c.flushing {
		status.State = StateFlushing
	}
	return status
}

// Flush runs a pass now instead of waiting for the timer. If a pass is
// already running it returns immediately and another pass follows it.
func (c *Coalescer) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.flushing {
		c.rerun = true
		c.mu.Unlock()
		return
	}
	c.flushing = true
	c.stopTimerLocked()
	batch := c.pending.drain()
	c.passes.Add(1)
	c.mu.Unlock()

	defer c.passes.Done()

	// Stop cancels passes started by callers as well as timer-driven ones
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(c.runCtx, cancel)()

	c.metrics.RecordPending(ctx, 0)
	c.processBatch(ctx, batch)

	c.mu.Lock()
	c.flushing = false
	rerun := c.rerun
	c.rerun = false
	if rerun && !c.stopped && c.timer == nil && c.pending.len() > 0 {
		c.armLocked(c.debounce)
	}
	c.mu.Unlock()
}

// Stop cancels the armed timer and refuses further changes. It waits for an
// in-flight pass until ctx expires, then cancels it. Pending changes that
// were never flushed are discarded.
func (c *Coalescer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.stopTimerLocked()
	dropped := c.pending.len()
	c.pending = newPendingSet()
	c.mu.Unlock()

	if dropped > 0 {
		slog.Warn("Discarding unflushed changes on shutdown", "entities", dropped)
	}

	done := make(chan struct{})
	go func() {
		c.passes.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Flush pass still running at shutdown deadline, cancelling it")
		err = fmt.Errorf("flush pass abandoned: %w", ctx.Err())
	}
	c.cancelRun()
	<-done
	return err
}

// Ensure writes patch for id immediately, creating the document when the
// store has none. It bypasses the pending set.
func (c *Coalescer) Ensure(ctx context.Context, id string, patch docstore.Patch) (*docstore.Document, error) {
	if id == "" {
		return nil, docstore.NewValidationError("id", "must not be empty")
	}
	if len(patch) == 0 {
		return nil, docstore.NewValidationError("patch", "must contain at least one field")
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "coalescer.ensure",
		trace.WithAttributes(otel.AttrEntityID.String(id)))
	defer span.End()

	var result *docstore.Document
	err := c.monitor.WithConnectionCheck(ctx, c.store.Probe, func(ctx context.Context) error {
		doc, opErr := c.resolver.Resolve(ctx, id)
		if opErr != nil {
			return opErr
		}
		if doc == nil {
			fields := patch.Clone()
			fields[docstore.KeyField] = id
			result, opErr = retry.Do(ctx, c.retry, "create", func(ctx context.Context) (*docstore.Document, error) {
				return c.store.Create(ctx, fields)
			})
			return opErr
		}
		result, opErr = retry.Do(ctx, c.retry, "update", func(ctx context.Context) (*docstore.Document, error) {
			return c.store.Update(ctx, doc.ID, patch)
		})
		return opErr
	})
	if err != nil {
		otel.RecordError(span, err)
		if docstore.IsNotFound(err) {
			c.cache.Invalidate(id)
		}
		return nil, fmt.Errorf("failed to write document for %s: %w", id, err)
	}

	c.cache.Set(id, result)
	return result, nil
}

// armLocked schedules a pass after d. c.mu must be held.
func (c *Coalescer) armLocked(d time.Duration) {
	c.timerGen++
	gen := c.timerGen
	c.timerDelay = d
	c.dueAt = c.clock.Now().Add(d)
	c.timer = c.clock.AfterFunc(d, func() {
		go c.fire(gen)
	})
}

// stopTimerLocked cancels the armed timer, if any. c.mu must be held.
func (c *Coalescer) stopTimerLocked() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.timerGen++
	c.timerDelay = 0
	c.dueAt = time.Time{}
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.stopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.timerDelay = 0
	if c.flushing {
		c.rerun = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Flush(c.runCtx)
}

// processBatch writes each snapshot entry in order. A lost connection stops
// the pass and puts the unprocessed entries back; other failures are
// isolated to their entity.
func (c *Coalescer) processBatch(ctx context.Context, batch []entry) {
	if len(batch) == 0 {
		return
	}

	ctx, span := otel.StartSpan(ctx, c.tracer, "coalescer.flush",
		trace.WithAttributes(otel.AttrBatchSize.Int(len(batch))))
	defer span.End()

	start := c.clock.Now()
	var updated, skipped, failed int
	interrupted := false

	for i, e := range batch {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "Flush pass cancelled",
				"remaining", len(batch)-i)
			failed += len(batch) - i
			break
		}

		outcome, err := c.processEntity(ctx, e)
		switch {
		case err == nil && outcome == telemetry.OutcomeSkipped:
			skipped++
		case err == nil:
			updated++
		case errors.Is(err, health.ErrConnectionUnavailable):
			remaining := batch[i:]
			c.requeue(remaining)
			c.metrics.RecordEntityOutcome(ctx, telemetry.OutcomeRequeued, len(remaining))
			slog.WarnContext(ctx, "Document store unreachable, deferring remaining changes",
				"entity_id", e.id,
				"requeued", len(remaining),
				"cooldown", c.cooldown)
			interrupted = true
		default:
			failed++
			slog.ErrorContext(ctx, "Failed to write back changes",
				"entity_id", e.id,
				"fields", len(e.patch),
				"error", err)
		}
		if interrupted {
			break
		}
	}

	c.metrics.RecordEntityOutcome(ctx, telemetry.OutcomeUpdated, updated)
	c.metrics.RecordEntityOutcome(ctx, telemetry.OutcomeSkipped, skipped)
	if !interrupted {
		c.metrics.RecordEntityOutcome(ctx, telemetry.OutcomeFailed, failed)
	}
	elapsed := c.clock.Since(start)
	c.metrics.RecordFlush(ctx, elapsed, interrupted)
	span.SetAttributes(otel.AttrFlushRequeued.Bool(interrupted))

	slog.DebugContext(ctx, "Flush pass complete",
		"entities", len(batch),
		"updated", updated,
		"skipped", skipped,
		"failed", failed,
		"interrupted", interrupted,
		"duration", elapsed)
}

// processEntity resolves and updates a single entity. It returns the outcome
// on success.
func (c *Coalescer) processEntity(ctx context.Context, e entry) (string, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "coalescer.entity",
		trace.WithAttributes(
			otel.AttrEntityID.String(e.id),
			otel.AttrFieldCount.Int(len(e.patch)),
		))
	defer span.End()

	// The lookup is gated too: on a cache miss it is the first remote call
	var (
		doc     *docstore.Document
		updated *docstore.Document
	)
	err := c.monitor.WithConnectionCheck(ctx, c.store.Probe, func(ctx context.Context) error {
		var opErr error
		doc, opErr = c.resolver.Resolve(ctx, e.id)
		if opErr != nil || doc == nil {
			return opErr
		}
		span.SetAttributes(otel.AttrDocumentID.String(doc.ID))

		updated, opErr = retry.Do(ctx, c.retry, "update", func(ctx context.Context) (*docstore.Document, error) {
			return c.store.Update(ctx, doc.ID, e.patch)
		})
		if opErr != nil {
			return fmt.Errorf("failed to update document %s: %w", doc.ID, opErr)
		}
		return nil
	})
	if err != nil {
		otel.RecordError(span, err)
		if docstore.IsNotFound(err) {
			// Deleted remotely; the next pass looks it up again
			c.cache.Invalidate(e.id)
		}
		return "", err
	}
	if doc == nil {
		slog.DebugContext(ctx, "No remote document for entity, skipping", "entity_id", e.id)
		return telemetry.OutcomeSkipped, nil
	}

	if updated == nil {
		updated = doc.WithPatch(e.patch)
	}
	c.cache.Set(e.id, updated)
	return telemetry.OutcomeUpdated, nil
}

// requeue restores unprocessed entries and schedules the cooldown pass.
func (c *Coalescer) requeue(entries []entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.pending.restore(entries)
	c.stopTimerLocked()
	c.armLocked(c.cooldown)
	c.rerun = false
}
