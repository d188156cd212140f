package pricing

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/model"
)

// Store is the persistence the aggregator needs.  repository.PricingRepo
// implements it.
type Store interface {
	ListPricing(ctx context.Context, sailingID uint64) ([]model.PricingRecord, error)
	GetSummary(ctx context.Context, sailingID uint64) (*model.CheapestPricingSummary, error)
	UpsertSummary(ctx context.Context, s model.CheapestPricingSummary) error
}

// ErrSummaryMismatch is returned by Verify when the stored summary cannot be
// derived from the stored pricing records.
var ErrSummaryMismatch = errors.New("stored summary does not match pricing records")

// Aggregator recomputes and stores cheapest-price summaries.
type Aggregator struct {
	store Store
	clock clock.Clock
}

func NewAggregator(store Store, clk clock.Clock) *Aggregator {
	return &Aggregator{store: store, clock: clk}
}

// Recompute reloads every pricing record of the sailing, summarizes them and
// overwrites the stored summary.  sailingID is the cruise_sailings surrogate id.
func (a *Aggregator) Recompute(ctx context.Context, sailingID uint64) (model.CheapestPricingSummary, error) {
	records, err := a.store.ListPricing(ctx, sailingID)
	if err != nil {
		return model.CheapestPricingSummary{}, errors.Wrapf(err, "load pricing for sailing %d", sailingID)
	}
	s := Summarize(sailingID, records)
	s.ComputedAt = a.clock.Now()
	if err := a.store.UpsertSummary(ctx, s); err != nil {
		return model.CheapestPricingSummary{}, errors.Wrapf(err, "store summary for sailing %d", sailingID)
	}
	return s, nil
}

// Verify recomputes the summary in memory and compares it with the stored
// one without writing anything.  A missing stored summary is a mismatch.
func (a *Aggregator) Verify(ctx context.Context, sailingID uint64) error {
	records, err := a.store.ListPricing(ctx, sailingID)
	if err != nil {
		return errors.Wrapf(err, "load pricing for sailing %d", sailingID)
	}
	stored, err := a.store.GetSummary(ctx, sailingID)
	if err != nil {
		return errors.Wrapf(err, "load summary for sailing %d", sailingID)
	}
	want := Summarize(sailingID, records)
	if stored == nil {
		return errors.Wrapf(ErrSummaryMismatch, "sailing %d has no summary", sailingID)
	}
	if !Equal(want, *stored) {
		return errors.Wrapf(ErrSummaryMismatch, "sailing %d: %s", sailingID, Diff(want, *stored))
	}
	return nil
}
