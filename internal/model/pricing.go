package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CabinClass groups cabin categories for the cheapest-price summary.
type CabinClass string

const (
	CabinInterior  CabinClass = "interior"
	CabinOceanview CabinClass = "oceanview"
	CabinBalcony   CabinClass = "balcony"
	CabinSuite     CabinClass = "suite"
)

// CabinClasses lists the summarized classes in tie-break order.
var CabinClasses = []CabinClass{CabinInterior, CabinOceanview, CabinBalcony, CabinSuite}

// PricingRecord is one (cabin, rate code, occupancy) price quote for a
// sailing.  The supplier gives prices no stable identity, so the full set
// for a sailing is replaced on every sync.
type PricingRecord struct {
	SailingID     uint64              // pricing_records.sailing_id
	CabinCode     string              // pricing_records.cabin_code
	CabinClass    CabinClass          // pricing_records.cabin_class, empty when unknown
	RateCode      string              // pricing_records.rate_code
	OccupancyCode string              // pricing_records.occupancy_code
	Price         decimal.Decimal     // pricing_records.price
	Taxes         decimal.NullDecimal // pricing_records.taxes
	Currency      string              // pricing_records.currency
	PriceCode     string              // pricing_records.price_code
}

// CheapestPricingSummary caches the minimum price per cabin class for one
// sailing.  Every field may be null when no pricing has been released.
type CheapestPricingSummary struct {
	SailingID     uint64              // cheapest_pricing.sailing_id
	Interior      decimal.NullDecimal // cheapest_pricing.interior_price
	Oceanview     decimal.NullDecimal // cheapest_pricing.oceanview_price
	Balcony       decimal.NullDecimal // cheapest_pricing.balcony_price
	Suite         decimal.NullDecimal // cheapest_pricing.suite_price
	Cheapest      decimal.NullDecimal // cheapest_pricing.cheapest_price
	CheapestClass *CabinClass         // cheapest_pricing.cheapest_class
	Currency      *string             // cheapest_pricing.currency
	ComputedAt    time.Time           // cheapest_pricing.computed_at
}

// ClassPrice returns the summary field for class c.
func (s *CheapestPricingSummary) ClassPrice(c CabinClass) *decimal.NullDecimal {
	switch c {
	case CabinInterior:
		return &s.Interior
	case CabinOceanview:
		return &s.Oceanview
	case CabinBalcony:
		return &s.Balcony
	case CabinSuite:
		return &s.Suite
	}
	return nil
}
