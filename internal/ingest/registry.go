package ingest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/cruisesync/internal/model"
)

// State is a step of the run state machine.
type State string

const (
	StateIdle        State = "idle"
	StateLocking     State = "locking"
	StateFetching    State = "fetching"
	StateProcessing  State = "processing"
	StateAggregating State = "aggregating"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// RunInfo is a snapshot of one active run for operators.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	LineID    int64     `json:"line_id"`
	Trigger   string    `json:"trigger"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Seen      int64     `json:"sailings_seen"`
	Processed int64     `json:"sailings_processed"`
}

type activeRun struct {
	info      RunInfo
	state     atomic.Value // State
	seen      atomic.Int64
	processed atomic.Int64
	cancel    context.CancelCauseFunc
}

func (r *activeRun) setState(s State) { r.state.Store(s) }

func (r *activeRun) snapshot() RunInfo {
	info := r.info
	if s, ok := r.state.Load().(State); ok {
		info.State = s
	}
	info.Seen = r.seen.Load()
	info.Processed = r.processed.Load()
	return info
}

// registry tracks the runs of this process and a short history of their
// outcomes.  Cancellation only reaches runs executing in this process.
type registry struct {
	mu     sync.Mutex
	active map[string]*activeRun
	recent []model.RunOutcome // newest first
	keep   int
}

func newRegistry(keep int) *registry {
	if keep < 1 {
		keep = 50
	}
	return &registry{active: make(map[string]*activeRun), keep: keep}
}

func (r *registry) add(run *activeRun) {
	r.mu.Lock()
	r.active[run.info.RunID] = run
	r.mu.Unlock()
}

func (r *registry) remove(runID string) {
	r.mu.Lock()
	delete(r.active, runID)
	r.mu.Unlock()
}

func (r *registry) get(runID string) (*activeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[runID]
	return run, ok
}

func (r *registry) snapshot() []RunInfo {
	r.mu.Lock()
	out := make([]RunInfo, 0, len(r.active))
	for _, run := range r.active {
		out = append(out, run.snapshot())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *registry) cancelAll(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.active {
		run.cancel(cause)
	}
}

func (r *registry) remember(o model.RunOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append([]model.RunOutcome{o}, r.recent...)
	if len(r.recent) > r.keep {
		r.recent = r.recent[:r.keep]
	}
}

func (r *registry) history(lineID *int64, limit int) []model.RunOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RunOutcome
	for _, o := range r.recent {
		if lineID != nil && o.LineID != *lineID {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
