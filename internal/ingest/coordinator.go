// Package ingest coordinates ingestion runs.  A run covers one cruise line:
// it holds the line's lock, walks the line's sailing documents through
// fetch, normalize, save and aggregate, and always ends by writing an
// outcome and releasing the lock.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/feed"
	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/metrics"
	"github.com/iliyamo/cruisesync/internal/model"
	"github.com/iliyamo/cruisesync/internal/repository"
)

var (
	// ErrLineBusy rejects a trigger because another run holds the line.
	ErrLineBusy = errors.New("line busy")
	// ErrInvalidRequest rejects a trigger that names no usable line or paths.
	ErrInvalidRequest = errors.New("invalid sync request")
	// ErrRunCancelled is the cancellation cause of an operator cancel.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrRunNotFound is returned by Cancel for runs not active in this process.
	ErrRunNotFound = errors.New("run not found")
	// ErrShuttingDown is the cancellation cause when the process stops.
	ErrShuttingDown = errors.New("shutting down")
)

// Trigger sources recorded on outcomes.
const (
	SourceWebhook = "webhook"
	SourceManual  = "manual"
	SourceCLI     = "cli"
	SourceQueue   = "queue"
)

// Locker is the part of lock.Manager a run needs.
type Locker interface {
	Acquire(ctx context.Context, lineID int64, ttl time.Duration) (lock.Token, error)
	Release(ctx context.Context, lineID int64, tok lock.Token) error
	Refresh(ctx context.Context, lineID int64, tok lock.Token, ttl time.Duration) error
	Check(ctx context.Context, lineID int64, tok lock.Token) error
}

// Feed lists and downloads sailing documents.
type Feed interface {
	ListSailings(ctx context.Context, lineID int64) ([]feed.FileRef, error)
	Fetch(ctx context.Context, ref feed.FileRef) ([]byte, error)
}

// SailingStore writes one normalized sailing transactionally.
type SailingStore interface {
	SaveSailing(ctx context.Context, ns *model.NormalizedSailing, syncedAt time.Time) (repository.SaveResult, error)
}

// Aggregator rebuilds a sailing's cheapest-price summary.
type Aggregator interface {
	Recompute(ctx context.Context, sailingID uint64) (model.CheapestPricingSummary, error)
}

// OutcomeStore appends run outcomes.
type OutcomeStore interface {
	Record(ctx context.Context, o model.RunOutcome) error
}

// Dispatcher hands an accepted ticket to whatever executes it.  A nil
// Dispatcher means runs execute in this process.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Ticket) error
}

// Request asks for a run of one line.  With Paths set only those documents
// are processed; otherwise the whole line is listed.
type Request struct {
	LineID   int64
	Paths    []string
	Currency string
	Source   string
}

// Ticket is an accepted request holding the line's lock.
type Ticket struct {
	RunID      string
	LineID     int64
	Token      lock.Token
	Paths      []string
	Currency   string
	Source     string
	AcquiredAt time.Time
}

// Options tune a Coordinator.
type Options struct {
	Workers         int
	LockTTL         time.Duration
	LockCheckRetry  time.Duration // pause before re-checking ownership after a lock store error
	DefaultCurrency string
	MaxErrorDetails int
	KeepHistory     int
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Locker     Locker
	Feed       Feed
	Store      SailingStore
	Aggregator Aggregator
	Outcomes   OutcomeStore
	Dispatcher Dispatcher
	Clock      clock.Clock
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

// Coordinator accepts triggers and executes runs.
type Coordinator struct {
	deps Deps
	opts Options
	log  logger.Logger
	runs *registry

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if deps.Locker == nil || deps.Feed == nil || deps.Store == nil || deps.Aggregator == nil ||
		deps.Outcomes == nil || deps.Logger == nil || deps.Metrics == nil {
		panic("nil dependency passed to ingest.NewCoordinator")
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.MaxErrorDetails <= 0 {
		opts.MaxErrorDetails = 100
	}
	if opts.LockCheckRetry <= 0 {
		opts.LockCheckRetry = 200 * time.Millisecond
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Coordinator{
		deps:       deps,
		opts:       opts,
		log:        deps.Logger.With("component", "ingest"),
		runs:       newRegistry(opts.KeepHistory),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Trigger validates req, takes the line's lock and dispatches the run.  It
// returns as soon as the run is handed off.  A held lock yields ErrLineBusy
// and a skipped outcome; it is never retried.
func (c *Coordinator) Trigger(ctx context.Context, req Request) (Ticket, error) {
	t, err := c.acquire(ctx, req)
	if err != nil {
		return Ticket{}, err
	}
	if c.deps.Dispatcher == nil {
		c.spawn(t)
		return t, nil
	}
	if err := c.deps.Dispatcher.Dispatch(ctx, t); err != nil {
		c.release(t)
		return Ticket{}, errors.Wrap(err, "dispatch run")
	}
	return t, nil
}

// RunNow is Trigger followed by Execute in the calling goroutine.
func (c *Coordinator) RunNow(ctx context.Context, req Request) (model.RunOutcome, error) {
	t, err := c.acquire(ctx, req)
	if err != nil {
		return model.RunOutcome{}, err
	}
	return c.Execute(ctx, t), nil
}

// Cancel stops an active run at the next sailing boundary.
func (c *Coordinator) Cancel(runID string) error {
	run, ok := c.runs.get(runID)
	if !ok {
		return ErrRunNotFound
	}
	run.cancel(ErrRunCancelled)
	return nil
}

// Active lists the runs executing in this process.
func (c *Coordinator) Active() []RunInfo {
	return c.runs.snapshot()
}

// Recent returns outcomes finished by this process, newest first.  It is
// the fallback when the outcome store cannot be read.
func (c *Coordinator) Recent(lineID *int64, limit int) []model.RunOutcome {
	return c.runs.history(lineID, limit)
}

// Shutdown cancels every run of this process and waits for them to write
// their outcomes, or for ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.baseCancel(ErrShuttingDown)
	c.runs.cancelAll(ErrShuttingDown)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) acquire(ctx context.Context, req Request) (Ticket, error) {
	if req.LineID <= 0 {
		return Ticket{}, errors.Wrap(ErrInvalidRequest, "line id is required")
	}
	for _, p := range req.Paths {
		ref, err := feed.ParsePath(p)
		if err != nil {
			return Ticket{}, errors.Mark(err, ErrInvalidRequest)
		}
		if ref.LineID != req.LineID {
			return Ticket{}, errors.Wrapf(ErrInvalidRequest, "path %s belongs to line %d", p, ref.LineID)
		}
	}
	if req.Source == "" {
		req.Source = SourceManual
	}

	tok, err := c.deps.Locker.Acquire(ctx, req.LineID, c.opts.LockTTL)
	if errors.Is(err, lock.ErrAlreadyHeld) {
		c.deps.Metrics.LockContention.WithLabelValues(req.Source).Inc()
		c.recordSkipped(req)
		return Ticket{}, ErrLineBusy
	}
	if err != nil {
		return Ticket{}, errors.Wrapf(err, "lock line %d", req.LineID)
	}
	return Ticket{
		RunID:      uuid.NewString(),
		LineID:     req.LineID,
		Token:      tok,
		Paths:      req.Paths,
		Currency:   req.Currency,
		Source:     req.Source,
		AcquiredAt: c.deps.Clock.Now(),
	}, nil
}

func (c *Coordinator) recordSkipped(req Request) {
	now := c.deps.Clock.Now()
	o := model.RunOutcome{
		RunID:         uuid.NewString(),
		LineID:        req.LineID,
		Trigger:       req.Source,
		StartedAt:     now,
		FinishedAt:    now,
		Status:        model.RunSkipped,
		FailureReason: "already running",
	}
	c.note(o)
	c.log.Info("sync skipped, line already locked", "line_id", req.LineID, "source", req.Source)

	// The caller is answered with ErrLineBusy straight away; a slow outcome
	// store only delays the history row.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.record(o)
	}()
}

// spawn executes t in the background under the coordinator's lifetime.
func (c *Coordinator) spawn(t Ticket) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Execute(c.baseCtx, t)
	}()
}

// Dispatch executes t in this process.  It lets the coordinator stand in
// for a queue publisher, and is what a queue consumer calls.
func (c *Coordinator) Dispatch(_ context.Context, t Ticket) error {
	c.spawn(t)
	return nil
}

// Execute runs t to a terminal state.  The lock named by t is released and
// the outcome recorded before it returns, whatever happened.
func (c *Coordinator) Execute(ctx context.Context, t Ticket) model.RunOutcome {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	active := &activeRun{
		info:   RunInfo{RunID: t.RunID, LineID: t.LineID, Trigger: t.Source, StartedAt: t.AcquiredAt},
		cancel: cancel,
	}
	active.setState(StateLocking)
	c.runs.add(active)
	defer c.runs.remove(t.RunID)

	c.deps.Metrics.ActiveRuns.Inc()
	defer c.deps.Metrics.ActiveRuns.Dec()

	log := c.log.With("run_id", t.RunID, "line_id", t.LineID)
	log.Info("sync run started", "source", t.Source, "paths", len(t.Paths))

	r := &run{c: c, t: t, active: active, log: log, cancel: cancel}

	// A queued ticket may have waited out its TTL; confirm ownership first.
	if err := c.deps.Locker.Refresh(runCtx, t.LineID, t.Token, c.opts.LockTTL); err != nil {
		cancel(lockCause(err))
	} else {
		stop := c.heartbeat(runCtx, t, cancel, log)
		r.execute(runCtx)
		stop()
	}

	o := r.outcome(runCtx)
	active.setState(StateFinalizing)
	c.release(t)
	c.finish(o)

	if o.Status == model.RunSucceeded || o.Status == model.RunPartial {
		active.setState(StateDone)
	} else {
		active.setState(StateFailed)
	}
	log.Info("sync run finished",
		"status", o.Status,
		"seen", o.SailingsSeen,
		"updated", o.SailingsUpdated,
		"pricing_rows", o.PricingRowsWritten,
		"errors", o.ErrorCount,
		"reason", o.FailureReason,
	)
	return o
}

// release gives the lock back.  It runs detached from the run's context so
// cancellation can never leave the line locked.
func (c *Coordinator) release(t Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.deps.Locker.Release(ctx, t.LineID, t.Token)
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrLockLost), errors.Is(err, lock.ErrNotOwner):
		c.log.Warn("lock was no longer held at release", "line_id", t.LineID, "error", err)
	default:
		// the TTL still bounds how long the line stays blocked
		c.log.Error("failed to release lock", "line_id", t.LineID, "error", err)
	}
}

// finish records o and updates metrics.  A failed write is logged and the
// outcome is still kept in memory for diagnostics.
func (c *Coordinator) finish(o model.RunOutcome) {
	c.note(o)
	c.record(o)
}

// note keeps o in memory and counts it.
func (c *Coordinator) note(o model.RunOutcome) {
	c.runs.remember(o)
	c.deps.Metrics.RunsTotal.WithLabelValues(string(o.Status)).Inc()
	if o.Status != model.RunSkipped {
		c.deps.Metrics.RunDuration.Observe(o.FinishedAt.Sub(o.StartedAt).Seconds())
	}
}

// record persists o, bounded so a stalled database cannot hold a run open.
func (c *Coordinator) record(o model.RunOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Outcomes.Record(ctx, o); err != nil {
		c.log.Error("failed to record run outcome", "run_id", o.RunID, "status", o.Status, "error", err)
	}
}
