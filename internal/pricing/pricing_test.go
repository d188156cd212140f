package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/model"
)

func rec(class model.CabinClass, price string) model.PricingRecord {
	return model.PricingRecord{
		CabinClass: class,
		Price:      decimal.RequireFromString(price),
		Currency:   "GBP",
	}
}

func TestSummarize_MinimumPerClass(t *testing.T) {
	s := Summarize(7, []model.PricingRecord{
		rec(model.CabinInterior, "799.00"),
		rec(model.CabinInterior, "749.00"),
		rec(model.CabinOceanview, "899.50"),
		rec(model.CabinBalcony, "1249.00"),
		rec(model.CabinBalcony, "1199.00"),
		rec("", "100.00"),
	})

	assert.Equal(t, uint64(7), s.SailingID)
	assert.Equal(t, "749", s.Interior.Decimal.String())
	assert.Equal(t, "899.5", s.Oceanview.Decimal.String())
	assert.Equal(t, "1199", s.Balcony.Decimal.String())
	assert.False(t, s.Suite.Valid)
	require.True(t, s.Cheapest.Valid)
	assert.Equal(t, "749", s.Cheapest.Decimal.String())
	require.NotNil(t, s.CheapestClass)
	assert.Equal(t, model.CabinInterior, *s.CheapestClass)
	require.NotNil(t, s.Currency)
	assert.Equal(t, "GBP", *s.Currency)
}

func TestSummarize_NoPricingIsAllNull(t *testing.T) {
	for name, records := range map[string][]model.PricingRecord{
		"none":         nil,
		"unclassified": {rec("", "10")},
	} {
		t.Run(name, func(t *testing.T) {
			s := Summarize(1, records)
			assert.False(t, s.Interior.Valid)
			assert.False(t, s.Oceanview.Valid)
			assert.False(t, s.Balcony.Valid)
			assert.False(t, s.Suite.Valid)
			assert.False(t, s.Cheapest.Valid)
			assert.Nil(t, s.CheapestClass)
			assert.Nil(t, s.Currency)
		})
	}
}

func TestSummarize_TieGoesToEarlierClass(t *testing.T) {
	s := Summarize(1, []model.PricingRecord{
		rec(model.CabinSuite, "500"),
		rec(model.CabinBalcony, "500.00"),
	})
	require.NotNil(t, s.CheapestClass)
	assert.Equal(t, model.CabinBalcony, *s.CheapestClass)
}

func TestSummarize_IgnoresRecordOrder(t *testing.T) {
	recs := []model.PricingRecord{
		rec(model.CabinSuite, "2000"),
		rec(model.CabinInterior, "700"),
		rec(model.CabinOceanview, "650"),
	}
	reversed := []model.PricingRecord{recs[2], recs[1], recs[0]}
	assert.True(t, Equal(Summarize(1, recs), Summarize(1, reversed)))
}

func TestEqual_IgnoresScaleAndComputedAt(t *testing.T) {
	a := Summarize(1, []model.PricingRecord{rec(model.CabinInterior, "799")})
	b := Summarize(1, []model.PricingRecord{rec(model.CabinInterior, "799.00")})
	b.ComputedAt = time.Now()
	assert.True(t, Equal(a, b))
	assert.Empty(t, Diff(a, b))

	c := Summarize(1, []model.PricingRecord{rec(model.CabinInterior, "799.01")})
	assert.False(t, Equal(a, c))
	assert.NotEmpty(t, Diff(a, c))
}

type memStore struct {
	pricing   map[uint64][]model.PricingRecord
	summaries map[uint64]model.CheapestPricingSummary
	failList  error
}

func newMemStore() *memStore {
	return &memStore{pricing: map[uint64][]model.PricingRecord{}, summaries: map[uint64]model.CheapestPricingSummary{}}
}

func (m *memStore) ListPricing(_ context.Context, id uint64) ([]model.PricingRecord, error) {
	if m.failList != nil {
		return nil, m.failList
	}
	return m.pricing[id], nil
}

func (m *memStore) GetSummary(_ context.Context, id uint64) (*model.CheapestPricingSummary, error) {
	s, ok := m.summaries[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) UpsertSummary(_ context.Context, s model.CheapestPricingSummary) error {
	m.summaries[s.SailingID] = s
	return nil
}

func TestAggregator_RecomputeReplacesSummary(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	agg := NewAggregator(store, clock.NewMockClock(now))
	ctx := context.Background()

	store.pricing[3] = []model.PricingRecord{rec(model.CabinBalcony, "1200")}
	_, err := agg.Recompute(ctx, 3)
	require.NoError(t, err)

	// prices fall, the cabin class changes and the old minimum must not survive
	store.pricing[3] = []model.PricingRecord{rec(model.CabinInterior, "900")}
	s, err := agg.Recompute(ctx, 3)
	require.NoError(t, err)

	assert.False(t, store.summaries[3].Balcony.Valid)
	assert.Equal(t, "900", store.summaries[3].Cheapest.Decimal.String())
	assert.Equal(t, now, s.ComputedAt)
	require.NoError(t, agg.Verify(ctx, 3))

	store.pricing[3] = nil
	_, err = agg.Recompute(ctx, 3)
	require.NoError(t, err)
	assert.False(t, store.summaries[3].Cheapest.Valid)
}

func TestAggregator_VerifyDetectsDrift(t *testing.T) {
	store := newMemStore()
	agg := NewAggregator(store, clock.NewMockClock(time.Now()))
	ctx := context.Background()

	store.pricing[4] = []model.PricingRecord{rec(model.CabinSuite, "3000")}
	err := agg.Verify(ctx, 4)
	assert.True(t, errors.Is(err, ErrSummaryMismatch))

	_, err = agg.Recompute(ctx, 4)
	require.NoError(t, err)
	store.pricing[4] = append(store.pricing[4], rec(model.CabinSuite, "2500"))
	err = agg.Verify(ctx, 4)
	assert.True(t, errors.Is(err, ErrSummaryMismatch))
}

func TestAggregator_PropagatesStoreErrors(t *testing.T) {
	store := newMemStore()
	store.failList = errors.New("db down")
	agg := NewAggregator(store, clock.NewMockClock(time.Now()))

	_, err := agg.Recompute(context.Background(), 1)
	require.Error(t, err)
	assert.Empty(t, store.summaries)
}
