package model

import "time"

// CruiseLine is a cruise brand as identified by the supplier.  The supplier
// line id is used directly as the primary key because it is stable and is
// the unit the ingestion lock is keyed by.
type CruiseLine struct {
	ID   int64  // cruise_lines.id
	Name string // cruise_lines.name
	Code string // cruise_lines.code
}

// Ship belongs to a cruise line.  Supplier ship ids are globally unique.
type Ship struct {
	ID     int64  // ships.id
	LineID int64  // ships.line_id
	Name   string // ships.name
	Code   string // ships.code
}

// Port is reference data resolved from the port map embedded in every
// sailing document.
type Port struct {
	ID   int64  // ports.id
	Name string // ports.name
}

// CruiseDefinition represents one cruise product: a ship sailing one
// itinerary template.  Many sailings on different dates share a single
// definition.
//
// Fields:
//
//	ID            – surrogate primary key.
//	CruiseID      – supplier cruise identifier, the natural key.
//	LineID        – owning cruise line.
//	ShipID        – ship operating the cruise.
//	Name          – marketing name of the cruise.
//	Nights        – advertised length; nil when the supplier omits it.
//	SailNights    – nights actually at sea or in port.
//	SeaDays       – days without a port call.
//	VoyageCode    – supplier voyage code.
//	ItineraryCode – supplier itinerary template code.
type CruiseDefinition struct {
	ID            uint64 // cruise_definitions.id
	CruiseID      int64  // cruise_definitions.cruise_id
	LineID        int64  // cruise_definitions.line_id
	ShipID        int64  // cruise_definitions.ship_id
	Name          string // cruise_definitions.name
	Nights        *int64 // cruise_definitions.nights
	SailNights    *int64 // cruise_definitions.sail_nights
	SeaDays       *int64 // cruise_definitions.sea_days
	VoyageCode    string // cruise_definitions.voyage_code
	ItineraryCode string // cruise_definitions.itinerary_code
}

// CruiseSailing is one bookable, dated departure of a definition.  The
// supplier sailing id (codetocruiseid) is the idempotency key for upserts.
//
// Fields:
//
//	ID              – surrogate primary key.
//	DefinitionID    – owning cruise definition.
//	SailingID       – supplier sailing identifier, globally unique.
//	SailDate        – departure date; nil when absent or unparsable.
//	EmbarkPortID    – embarkation port, nil when unknown.
//	DisembarkPortID – disembarkation port, nil when unknown.
//	RegionIDs       – regions visited.
//	PortIDs         – ports visited, in supplier order.
//	NoFly           – "no flight required" flag; nil means not stated.
//	DepartUK        – "departs from the UK" flag; nil means not stated.
//	IsActive        – false once the supplier cancels or hides the sailing.
//	LastSyncedAt    – time of the run that last wrote this row.
type CruiseSailing struct {
	ID              uint64     // cruise_sailings.id
	DefinitionID    uint64     // cruise_sailings.definition_id
	SailingID       int64      // cruise_sailings.sailing_id
	SailDate        *time.Time // cruise_sailings.sail_date
	EmbarkPortID    *int64     // cruise_sailings.embark_port_id
	DisembarkPortID *int64     // cruise_sailings.disembark_port_id
	RegionIDs       []int64    // cruise_sailings.region_ids
	PortIDs         []int64    // cruise_sailings.port_ids
	NoFly           *bool      // cruise_sailings.no_fly
	DepartUK        *bool      // cruise_sailings.depart_uk
	IsActive        bool       // cruise_sailings.is_active
	LastSyncedAt    time.Time  // cruise_sailings.last_synced_at
}

// ItineraryStop is one day/port entry of a sailing's itinerary.
type ItineraryStop struct {
	Day        int64      // itinerary_stops.day_number
	OrderID    int64      // itinerary_stops.order_id
	PortID     *int64     // itinerary_stops.port_id
	Name       string     // itinerary_stops.name
	ArriveDate *time.Time // itinerary_stops.arrive_date
	DepartDate *time.Time // itinerary_stops.depart_date
	ArriveTime string     // itinerary_stops.arrive_time
	DepartTime string     // itinerary_stops.depart_time
}

// CabinCategory is a bookable cabin grade on a ship.
type CabinCategory struct {
	ShipID     int64      // cabin_categories.ship_id
	CabinCode  string     // cabin_categories.cabin_code
	Name       string     // cabin_categories.name
	Class      CabinClass // cabin_categories.cabin_class
	ColourCode string     // cabin_categories.colour_code
}

// NormalizedSailing is everything extracted from one supplier document.
// The upsert engine writes it as a single unit.
type NormalizedSailing struct {
	SourcePath string
	Line       CruiseLine
	Ship       Ship
	Ports      []Port
	Definition CruiseDefinition
	Sailing    CruiseSailing
	Itinerary  []ItineraryStop
	Cabins     []CabinCategory
	Pricing    []PricingRecord
}

// SailingView is the read model served to downstream consumers.
type SailingView struct {
	Definition CruiseDefinition
	Sailing    CruiseSailing
	Cheapest   *CheapestPricingSummary
}
