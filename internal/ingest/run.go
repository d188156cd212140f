package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cruisesync/internal/feed"
	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/model"
	"github.com/iliyamo/cruisesync/internal/normalize"
	"github.com/iliyamo/cruisesync/internal/repository"
)

type pendingSummary struct {
	ref       feed.FileRef
	sailingID uint64
}

// run is the mutable state of one Execute call.  Workers report into it
// under mu.
type run struct {
	c      *Coordinator
	t      Ticket
	active *activeRun
	log    logger.Logger
	cancel context.CancelCauseFunc

	mu            sync.Mutex
	seen          int
	updated       int
	pricingRows   int
	fetchFailures int
	errorCount    int
	errs          []model.SailingError
	pending       []pendingSummary
}

func (r *run) execute(ctx context.Context) {
	r.active.setState(StateFetching)
	refs, err := r.refs(ctx)
	if err != nil {
		r.cancel(errors.Wrap(err, "list sailings"))
		return
	}
	r.seen = len(refs)
	r.active.seen.Store(int64(len(refs)))

	r.active.setState(StateProcessing)
	g := new(errgroup.Group)
	g.SetLimit(r.c.opts.Workers)
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r.processOne(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	r.active.setState(StateAggregating)
	r.aggregatePending(ctx)
}

// refs returns the documents named by the ticket, or the line's full listing.
func (r *run) refs(ctx context.Context) ([]feed.FileRef, error) {
	if len(r.t.Paths) == 0 {
		return r.c.deps.Feed.ListSailings(ctx, r.t.LineID)
	}
	seen := make(map[string]bool, len(r.t.Paths))
	refs := make([]feed.FileRef, 0, len(r.t.Paths))
	for _, p := range r.t.Paths {
		ref, err := feed.ParsePath(p)
		if err != nil {
			return nil, err
		}
		if seen[ref.Path] {
			continue
		}
		seen[ref.Path] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

// processOne takes one document through fetch, normalize, save and
// aggregate.  Cancellation is honoured before the write starts; a started
// save runs to completion on a detached context.
func (r *run) processOne(ctx context.Context, ref feed.FileRef) {
	if ctx.Err() != nil {
		return
	}
	defer r.active.processed.Add(1)
	deps := r.c.deps

	body, err := deps.Feed.Fetch(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, feed.ErrTransportUnavailable) {
			r.cancel(err)
			return
		}
		r.mu.Lock()
		r.fetchFailures++
		r.mu.Unlock()
		r.fail(ref, model.StageFetch, err, "fetch_failed")
		return
	}

	currency := r.t.Currency
	if currency == "" {
		currency = r.c.opts.DefaultCurrency
	}
	ns, err := normalize.Normalize(body, normalize.Options{
		LineID:          r.t.LineID,
		ShipID:          ref.ShipID,
		DefaultCurrency: currency,
		SourcePath:      ref.Path,
	})
	if err != nil {
		r.fail(ref, model.StageNormalize, err, "invalid")
		return
	}

	if ctx.Err() != nil {
		return
	}
	if err := r.checkLock(ctx); err != nil {
		switch {
		case ctx.Err() != nil:
		case isLockLoss(err):
			r.log.Error("lock ownership check failed", "path", ref.Path, "error", err)
			r.cancel(lockCause(err))
		default:
			r.fail(ref, model.StageUpsert, errors.Wrap(err, "verify lock ownership"), "lock_check_failed")
		}
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	res, err := deps.Store.SaveSailing(writeCtx, ns, deps.Clock.Now())
	if err != nil {
		r.fail(ref, model.StageUpsert, err, "upsert_failed")
		if errors.Is(err, repository.ErrDatabaseUnavailable) {
			r.cancel(err)
		}
		return
	}
	r.mu.Lock()
	r.updated++
	r.pricingRows += res.PricingRows
	r.mu.Unlock()
	deps.Metrics.SailingsProcessed.WithLabelValues("updated").Inc()
	deps.Metrics.PricingRowsWritten.Add(float64(res.PricingRows))

	if _, err := deps.Aggregator.Recompute(writeCtx, res.SailingID); err != nil {
		r.log.Warn("summary recompute failed, will retry", "path", ref.Path, "error", err)
		r.mu.Lock()
		r.pending = append(r.pending, pendingSummary{ref: ref, sailingID: res.SailingID})
		r.mu.Unlock()
	}
}

// checkLock verifies ownership before a write.  A lock store error that is
// not a definite loss is retried once; if it persists only the sailing at
// hand is skipped and the heartbeat decides whether the run survives.
func (r *run) checkLock(ctx context.Context) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.c.opts.LockCheckRetry), 1), ctx)
	return backoff.RetryNotify(func() error {
		err := r.c.deps.Locker.Check(ctx, r.t.LineID, r.t.Token)
		if err != nil && isLockLoss(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.log.Warn("lock check failed, retrying", "wait", wait, "error", err)
	})
}

// aggregatePending retries summaries that failed inline.  After the run was
// stopped nothing more is written and they are reported instead.
func (r *run) aggregatePending(ctx context.Context) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, p := range pending {
		if ctx.Err() != nil {
			r.fail(p.ref, model.StageAggregate, errors.New("summary not recomputed, run stopped"), "aggregate_failed")
			continue
		}
		if _, err := r.c.deps.Aggregator.Recompute(context.WithoutCancel(ctx), p.sailingID); err != nil {
			r.fail(p.ref, model.StageAggregate, err, "aggregate_failed")
		}
	}
}

func (r *run) fail(ref feed.FileRef, stage model.Stage, err error, result string) {
	r.c.deps.Metrics.SailingsProcessed.WithLabelValues(result).Inc()
	r.log.Warn("sailing failed", "path", ref.Path, "stage", stage, "error", err)

	e := model.SailingError{Path: ref.Path, Stage: stage, Message: err.Error()}
	if ref.SailingID > 0 {
		id := ref.SailingID
		e.SailingID = &id
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorCount++
	if len(r.errs) < r.c.opts.MaxErrorDetails {
		r.errs = append(r.errs, e)
	}
}

// outcome derives the terminal status from the run's cancellation cause and
// its per-sailing errors.
func (r *run) outcome(ctx context.Context) model.RunOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	o := model.RunOutcome{
		RunID:              r.t.RunID,
		LineID:             r.t.LineID,
		Trigger:            r.t.Source,
		StartedAt:          r.t.AcquiredAt,
		FinishedAt:         r.c.deps.Clock.Now(),
		SailingsSeen:       r.seen,
		SailingsUpdated:    r.updated,
		PricingRowsWritten: r.pricingRows,
		ErrorCount:         r.errorCount,
		Errors:             r.errs,
	}

	var cause error
	if ctx.Err() != nil {
		cause = context.Cause(ctx)
	}
	switch {
	case cause == nil && r.seen > 0 && r.fetchFailures == r.seen:
		o.Status = model.RunFailed
		o.FailureReason = "every sailing document failed to fetch"
	case cause == nil && r.errorCount > 0:
		o.Status = model.RunPartial
	case cause == nil:
		o.Status = model.RunSucceeded
	case errors.Is(cause, lock.ErrLockLost):
		o.Status = model.RunAborted
	case errors.Is(cause, ErrRunCancelled), errors.Is(cause, ErrShuttingDown),
		errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		o.Status = model.RunCancelled
	default:
		o.Status = model.RunFailed
	}
	if cause != nil {
		o.FailureReason = cause.Error()
	}
	return o
}
