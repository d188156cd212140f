// Package pricing derives the cheapest-price summary of a sailing from its
// pricing records.  The summary is a cache: it is always rebuilt in full
// from the current records and never patched.
package pricing

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/cruisesync/internal/model"
)

// Summarize returns the minimum price per cabin class and the overall
// minimum across classes.  Records without a class are ignored.  Ties for
// the overall minimum go to the earlier class in model.CabinClasses.  With
// no classified records every field is null, which is a valid summary.
//
// ComputedAt is left zero; the caller stamps it.
func Summarize(sailingID uint64, records []model.PricingRecord) model.CheapestPricingSummary {
	s := model.CheapestPricingSummary{SailingID: sailingID}
	currencyOf := map[model.CabinClass]string{}

	for _, r := range records {
		field := s.ClassPrice(r.CabinClass)
		if field == nil {
			continue
		}
		if !field.Valid || r.Price.LessThan(field.Decimal) {
			*field = decimal.NewNullDecimal(r.Price)
			currencyOf[r.CabinClass] = r.Currency
		}
	}

	for _, c := range model.CabinClasses {
		p := s.ClassPrice(c)
		if !p.Valid {
			continue
		}
		if !s.Cheapest.Valid || p.Decimal.LessThan(s.Cheapest.Decimal) {
			class := c
			s.Cheapest = *p
			s.CheapestClass = &class
		}
	}
	if s.CheapestClass != nil {
		if cur := currencyOf[*s.CheapestClass]; cur != "" {
			s.Currency = &cur
		}
	}
	return s
}

var summaryCompare = []cmp.Option{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmpopts.IgnoreFields(model.CheapestPricingSummary{}, "ComputedAt"),
}

// Equal reports whether two summaries carry the same prices, class and
// currency.  Decimal scale and computation time are not significant.
func Equal(a, b model.CheapestPricingSummary) bool {
	return cmp.Equal(a, b, summaryCompare...)
}

// Diff renders the difference between two summaries, empty when Equal.
func Diff(want, got model.CheapestPricingSummary) string {
	return cmp.Diff(want, got, summaryCompare...)
}
