package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/ingest"
	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/model"
	"github.com/iliyamo/cruisesync/internal/pricing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("connection refused") })
	hung = pingFunc(func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })
)

type fakeLocks struct {
	pingFunc
	infos []lock.Info
	err   error
}

func (f fakeLocks) ListActive(context.Context) ([]lock.Info, error) { return f.infos, f.err }

type fakeRuns struct {
	active []ingest.RunInfo
	recent []model.RunOutcome
}

func (f fakeRuns) Active() []ingest.RunInfo { return f.active }

func (f fakeRuns) Recent(lineID *int64, limit int) []model.RunOutcome {
	var out []model.RunOutcome
	for _, o := range f.recent {
		if lineID == nil || o.LineID == *lineID {
			out = append(out, o)
		}
	}
	return out
}

type fakeOutcomes struct {
	outcomes []model.RunOutcome
	err      error
}

func (f fakeOutcomes) Recent(_ context.Context, _ *int64, _ int) ([]model.RunOutcome, error) {
	return f.outcomes, f.err
}

type fakeSummaries struct {
	ids     []uint64
	drifted map[uint64]bool
}

func (f fakeSummaries) RecentSailingIDs(context.Context, int) ([]uint64, error) { return f.ids, nil }

func (f fakeSummaries) Verify(_ context.Context, id uint64) error {
	if f.drifted[id] {
		return errors.Wrapf(pricing.ErrSummaryMismatch, "sailing %d", id)
	}
	return nil
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestReport_AllHealthy(t *testing.T) {
	line := int64(21)
	r := NewReporter(Deps{
		Feed:     up,
		Locks:    fakeLocks{pingFunc: up, infos: []lock.Info{{LineID: 21}, {LineID: 30}}},
		Database: up,
		Runs: fakeRuns{active: []ingest.RunInfo{
			{RunID: "a", LineID: 21, State: ingest.StateProcessing},
			{RunID: "b", LineID: 30, State: ingest.StateFetching},
		}},
		Outcomes: fakeOutcomes{outcomes: []model.RunOutcome{{RunID: "r1", LineID: 21, Status: model.RunSucceeded}}},
		Clock:    clock.NewMockClock(now),
	}, Options{})

	rep := r.Report(context.Background(), &line)
	assert.True(t, rep.Health.OK())
	assert.Nil(t, rep.Health.Errors)
	assert.Equal(t, now, rep.GeneratedAt)
	require.Len(t, rep.ActiveRuns, 1)
	assert.Equal(t, "a", rep.ActiveRuns[0].RunID)
	require.Len(t, rep.Locks, 1)
	assert.Equal(t, int64(21), rep.Locks[0].LineID)
	require.Len(t, rep.RecentRuns, 1)
	assert.Equal(t, "database", rep.RecentSource)
	assert.Equal(t, model.RunSucceeded, rep.RecentRuns[0].Status)
	assert.Nil(t, rep.Summaries)
}

func TestReport_UnreachableDependencies(t *testing.T) {
	r := NewReporter(Deps{
		Feed:     hung,
		Locks:    fakeLocks{pingFunc: down, err: errors.New("connection refused")},
		Database: down,
		Runs:     fakeRuns{recent: []model.RunOutcome{{RunID: "mem", LineID: 21, Status: model.RunFailed}}},
		Outcomes: fakeOutcomes{err: errors.New("database unavailable")},
	}, Options{CheckTimeout: 20 * time.Millisecond})

	rep := r.Report(context.Background(), nil)
	assert.False(t, rep.Health.Feed)
	assert.False(t, rep.Health.LockStore)
	assert.False(t, rep.Health.Database)
	assert.False(t, rep.Health.OK())
	assert.Contains(t, rep.Health.Errors["feed"], "deadline exceeded")
	assert.Contains(t, rep.Health.Errors["database"], "connection refused")

	assert.Empty(t, rep.Locks)
	assert.Equal(t, "memory", rep.RecentSource)
	require.Len(t, rep.RecentRuns, 1)
	assert.Equal(t, "mem", rep.RecentRuns[0].RunID)
}

func TestReport_SpotCheckFlagsDrift(t *testing.T) {
	r := NewReporter(Deps{
		Feed:      up,
		Locks:     fakeLocks{pingFunc: up},
		Database:  up,
		Runs:      fakeRuns{},
		Outcomes:  fakeOutcomes{},
		Summaries: fakeSummaries{ids: []uint64{1, 2, 3}, drifted: map[uint64]bool{2: true}},
	}, Options{SpotCheckSize: 3})

	rep := r.Report(context.Background(), nil)
	require.NotNil(t, rep.Summaries)
	assert.Equal(t, 3, rep.Summaries.Checked)
	assert.Equal(t, []uint64{2}, rep.Summaries.Mismatched)
	assert.Empty(t, rep.Summaries.Error)
}

func TestSummarizeRun(t *testing.T) {
	o := model.RunOutcome{
		RunID: "r", LineID: 21, Trigger: "cli", Status: model.RunPartial,
		SailingsSeen: 5, SailingsUpdated: 4, ErrorCount: 1,
		Errors: []model.SailingError{{Stage: model.StageNormalize}},
	}
	s := SummarizeRun(o)
	assert.Equal(t, RunSummary{
		RunID: "r", LineID: 21, Trigger: "cli", Status: model.RunPartial,
		SailingsSeen: 5, SailingsUpdated: 4, ErrorCount: 1,
	}, s)
}
