// Package diagnostics assembles the operator status report: dependency
// health, active runs and locks, recent run outcomes and an optional spot
// check that stored price summaries are still derivable from pricing rows.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/model"
	"github.com/iliyamo/cruisesync/internal/pricing"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Locks lists live ingestion locks.
type Locks interface {
	Pinger
	ListActive(ctx context.Context) ([]lock.Info, error)
}

// Runs exposes the coordinator's in-process view.
type Runs interface {
	Active() []ingest.RunInfo
	Recent(lineID *int64, limit int) []model.RunOutcome
}

// Outcomes reads persisted run outcomes.
type Outcomes interface {
	Recent(ctx context.Context, lineID *int64, limit int) ([]model.RunOutcome, error)
}

// Summaries supports the derivability spot check.
type Summaries interface {
	RecentSailingIDs(ctx context.Context, limit int) ([]uint64, error)
	Verify(ctx context.Context, sailingID uint64) error
}

// Deps are the sources a Reporter reads from.  Summaries may be nil.
type Deps struct {
	Feed      Pinger
	Locks     Locks
	Database  Pinger
	Runs      Runs
	Outcomes  Outcomes
	Summaries Summaries
	Clock     clock.Clock
	Logger    logger.Logger
}

// Options tune a Reporter.
type Options struct {
	RecentLimit   int           // outcomes per report, default 20
	CheckTimeout  time.Duration // per dependency check, default 3s
	SpotCheckSize int           // sailings verified per report, 0 disables
}

// Health reports reachability of each dependency.
type Health struct {
	Feed      bool              `json:"feed"`
	LockStore bool              `json:"lock_store"`
	Database  bool              `json:"database"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// OK is true when every dependency answered.
func (h Health) OK() bool { return h.Feed && h.LockStore && h.Database }

// RunSummary is the operator view of a RunOutcome.
type RunSummary struct {
	RunID              string          `json:"run_id"`
	LineID             int64           `json:"line_id"`
	Trigger            string          `json:"trigger"`
	Status             model.RunStatus `json:"status"`
	StartedAt          time.Time       `json:"started_at"`
	FinishedAt         time.Time       `json:"finished_at"`
	SailingsSeen       int             `json:"sailings_seen"`
	SailingsUpdated    int             `json:"sailings_updated"`
	PricingRowsWritten int             `json:"pricing_rows_written"`
	ErrorCount         int             `json:"error_count"`
	FailureReason      string          `json:"failure_reason,omitempty"`
}

// SummarizeRun converts o for display.
func SummarizeRun(o model.RunOutcome) RunSummary {
	return RunSummary{
		RunID:              o.RunID,
		LineID:             o.LineID,
		Trigger:            o.Trigger,
		Status:             o.Status,
		StartedAt:          o.StartedAt,
		FinishedAt:         o.FinishedAt,
		SailingsSeen:       o.SailingsSeen,
		SailingsUpdated:    o.SailingsUpdated,
		PricingRowsWritten: o.PricingRowsWritten,
		ErrorCount:         o.ErrorCount,
		FailureReason:      o.FailureReason,
	}
}

// SpotCheck is the result of re-deriving recent summaries.
type SpotCheck struct {
	Checked    int      `json:"checked"`
	Mismatched []uint64 `json:"mismatched"`
	Error      string   `json:"error,omitempty"`
}

// Report is the full status document.
type Report struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	Health       Health           `json:"health"`
	ActiveRuns   []ingest.RunInfo `json:"active_runs"`
	Locks        []lock.Info      `json:"locks"`
	RecentRuns   []RunSummary     `json:"recent_runs"`
	RecentSource string           `json:"recent_source"` // database | memory
	Summaries    *SpotCheck       `json:"summaries,omitempty"`
}

// Reporter builds Reports.
type Reporter struct {
	deps Deps
	opts Options
}

// NewReporter returns a Reporter.
func NewReporter(deps Deps, opts Options) *Reporter {
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 20
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 3 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	return &Reporter{deps: deps, opts: opts}
}

// Report gathers everything concurrently.  It never fails: an unreachable
// source shows up as unhealthy and its section falls back or stays empty.
// lineID filters runs and locks to one line.
func (r *Reporter) Report(ctx context.Context, lineID *int64) Report {
	rep := Report{
		GeneratedAt: r.deps.Clock.Now(),
		ActiveRuns:  filterRuns(r.deps.Runs.Active(), lineID),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.Go(func() error {
		h := r.Health(ctx)
		mu.Lock()
		rep.Health = h
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		locks := r.locks(ctx, lineID)
		mu.Lock()
		rep.Locks = locks
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		runs, source := r.recent(ctx, lineID)
		mu.Lock()
		rep.RecentRuns, rep.RecentSource = runs, source
		mu.Unlock()
		return nil
	})
	if r.deps.Summaries != nil && r.opts.SpotCheckSize > 0 {
		g.Go(func() error {
			sc := r.spotCheck(ctx)
			mu.Lock()
			rep.Summaries = sc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// Health runs only the dependency checks.
func (r *Reporter) Health(ctx context.Context) Health {
	var (
		h  = Health{}
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, p := range map[string]Pinger{"feed": r.deps.Feed, "lock_store": r.deps.Locks, "database": r.deps.Database} {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, r.opts.CheckTimeout)
			defer cancel()
			err := p.Ping(cctx)
			mu.Lock()
			defer mu.Unlock()
			switch name {
			case "feed":
				h.Feed = err == nil
			case "lock_store":
				h.LockStore = err == nil
			case "database":
				h.Database = err == nil
			}
			if err != nil {
				if h.Errors == nil {
					h.Errors = map[string]string{}
				}
				h.Errors[name] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return h
}

func (r *Reporter) locks(ctx context.Context, lineID *int64) []lock.Info {
	cctx, cancel := context.WithTimeout(ctx, r.opts.CheckTimeout)
	defer cancel()
	all, err := r.deps.Locks.ListActive(cctx)
	if err != nil {
		r.deps.Logger.Warn("list locks for report failed", "error", err)
		return []lock.Info{}
	}
	out := make([]lock.Info, 0, len(all))
	for _, l := range all {
		if lineID == nil || l.LineID == *lineID {
			out = append(out, l)
		}
	}
	return out
}

// recent prefers persisted outcomes and falls back to the coordinator's
// in-memory history when the database cannot be read.
func (r *Reporter) recent(ctx context.Context, lineID *int64) ([]RunSummary, string) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.CheckTimeout)
	defer cancel()

	source := "database"
	outcomes, err := r.deps.Outcomes.Recent(cctx, lineID, r.opts.RecentLimit)
	if err != nil {
		r.deps.Logger.Warn("read recent outcomes failed, using memory", "error", err)
		outcomes = r.deps.Runs.Recent(lineID, r.opts.RecentLimit)
		source = "memory"
	}
	out := make([]RunSummary, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, SummarizeRun(o))
	}
	return out, source
}

func (r *Reporter) spotCheck(ctx context.Context) *SpotCheck {
	sc := &SpotCheck{Mismatched: []uint64{}}
	ids, err := r.deps.Summaries.RecentSailingIDs(ctx, r.opts.SpotCheckSize)
	if err != nil {
		sc.Error = err.Error()
		return sc
	}
	for _, id := range ids {
		err := r.deps.Summaries.Verify(ctx, id)
		switch {
		case err == nil:
			sc.Checked++
		case errors.Is(err, pricing.ErrSummaryMismatch):
			sc.Checked++
			sc.Mismatched = append(sc.Mismatched, id)
		default:
			sc.Error = err.Error()
			return sc
		}
	}
	if len(sc.Mismatched) > 0 {
		r.deps.Logger.Warn("stored summaries drifted from pricing rows", "sailing_ids", sc.Mismatched)
	}
	return sc
}

func filterRuns(runs []ingest.RunInfo, lineID *int64) []ingest.RunInfo {
	out := make([]ingest.RunInfo, 0, len(runs))
	for _, r := range runs {
		if lineID == nil || r.LineID == *lineID {
			out = append(out, r)
		}
	}
	return out
}

// SummaryChecker joins the sailing id source with the aggregator for the
// spot check.
type SummaryChecker struct {
	Sailings interface {
		RecentSailingIDs(ctx context.Context, limit int) ([]uint64, error)
	}
	Aggregator *pricing.Aggregator
}

func (s SummaryChecker) RecentSailingIDs(ctx context.Context, limit int) ([]uint64, error) {
	return s.Sailings.RecentSailingIDs(ctx, limit)
}

func (s SummaryChecker) Verify(ctx context.Context, sailingID uint64) error {
	return s.Aggregator.Verify(ctx, sailingID)
}
