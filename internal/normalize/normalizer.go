// Package normalize turns one supplier sailing document into the two-entity
// domain model.  Normalize is a pure function of its input: it never mutates
// the document and produces the same output for the same bytes.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/cruisesync/internal/model"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation error")

// ValidationError reports a document that cannot be normalized.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid document: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Options carries context the document itself may lack.
type Options struct {
	// LineID and ShipID come from the feed path and fill in for documents
	// that omit them.  A document naming a different line is rejected.
	LineID          int64
	ShipID          int64
	DefaultCurrency string
	SourcePath      string
}

// Normalize parses raw and splits it into definition, sailing and nested
// records.  Documents without a sailing id or cruise id fail with a
// ValidationError.
func Normalize(raw []byte, opts Options) (*model.NormalizedSailing, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Field: "document", Reason: "is not a JSON object: " + err.Error()}
	}

	sailingID := doc.CodeToCruiseID.PositiveInt()
	if sailingID == nil {
		return nil, &ValidationError{Field: "codetocruiseid", Reason: "is missing"}
	}
	cruiseID := doc.CruiseID.PositiveInt()
	if cruiseID == nil {
		return nil, &ValidationError{Field: "cruiseid", Reason: "is missing"}
	}
	lineID := doc.LineID.PositiveInt()
	if lineID == nil && opts.LineID > 0 {
		lineID = &opts.LineID
	}
	if lineID == nil {
		return nil, &ValidationError{Field: "lineid", Reason: "is missing"}
	}
	if opts.LineID > 0 && *lineID != opts.LineID {
		return nil, &ValidationError{Field: "lineid", Reason: fmt.Sprintf("is %d, expected %d", *lineID, opts.LineID)}
	}
	shipID := doc.ShipID.PositiveInt()
	if shipID == nil && opts.ShipID > 0 {
		shipID = &opts.ShipID
	}
	if shipID == nil {
		return nil, &ValidationError{Field: "shipid", Reason: "is missing"}
	}

	currency := strings.ToUpper(doc.Currency.String())
	if currency == "" {
		currency = strings.ToUpper(opts.DefaultCurrency)
	}

	out := &model.NormalizedSailing{
		SourcePath: opts.SourcePath,
		Line:       normalizeLine(*lineID, doc.LineContent),
		Ship:       normalizeShip(*shipID, *lineID, doc.ShipContent),
		Ports:      normalizePorts(doc.Ports),
		Definition: model.CruiseDefinition{
			CruiseID:      *cruiseID,
			LineID:        *lineID,
			ShipID:        *shipID,
			Name:          doc.Name.String(),
			Nights:        doc.Nights.Int(),
			SailNights:    doc.SailNights.Int(),
			SeaDays:       doc.SeaDays.Int(),
			VoyageCode:    doc.VoyageCode.String(),
			ItineraryCode: doc.ItineraryCode.String(),
		},
		Sailing: model.CruiseSailing{
			SailingID:       *sailingID,
			SailDate:        firstDate(doc.SailDate, doc.StartDate),
			EmbarkPortID:    doc.StartPortID.PositiveInt(),
			DisembarkPortID: doc.EndPortID.PositiveInt(),
			RegionIDs:       []int64(doc.RegionIDs),
			PortIDs:         []int64(doc.PortIDs),
			NoFly:           doc.NoFly.Flag(),
			DepartUK:        doc.DepartUK.Flag(),
			IsActive:        isActive(doc.ShowCruise),
		},
		Itinerary: normalizeItinerary(doc.Itinerary),
	}
	out.Cabins = normalizeCabins(*shipID, doc.Cabins)
	out.Pricing = normalizePricing(doc.Prices, out.Cabins, currency)
	return out, nil
}

func firstDate(candidates ...Scalar) *time.Time {
	for _, c := range candidates {
		if d := c.Date(); d != nil {
			return d
		}
	}
	return nil
}

// Sailings are hidden rather than deleted by the supplier when cancelled.
func isActive(show Scalar) bool {
	if f := show.Flag(); f != nil {
		return *f
	}
	return true
}

func normalizeLine(id int64, raw json.RawMessage) model.CruiseLine {
	line := model.CruiseLine{ID: id}
	var lc lineContent
	if decodeObject(raw) != nil && json.Unmarshal(raw, &lc) == nil {
		line.Name = lc.Name.String()
		if line.Name == "" {
			line.Name = lc.EngineName.String()
		}
		line.Code = lc.Code.String()
	}
	return line
}

func normalizeShip(id, lineID int64, raw json.RawMessage) model.Ship {
	ship := model.Ship{ID: id, LineID: lineID}
	var sc shipContent
	if decodeObject(raw) != nil && json.Unmarshal(raw, &sc) == nil {
		ship.Name = sc.Name.String()
		ship.Code = sc.Code.String()
	}
	return ship
}

// normalizePorts accepts {"123": "Miami"} as well as {"123": {"name": "Miami"}}.
func normalizePorts(raw json.RawMessage) []model.Port {
	var ports []model.Port
	for key, val := range decodeObject(raw) {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		var name Scalar
		if obj := decodeObject(val); obj != nil {
			var pc portContent
			if json.Unmarshal(val, &pc) == nil {
				name = pc.Name
			}
		} else if json.Unmarshal(val, &name) != nil {
			continue
		}
		ports = append(ports, model.Port{ID: id, Name: name.String()})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })
	return ports
}

// normalizeItinerary accepts a list, or an object keyed by day.
func normalizeItinerary(raw json.RawMessage) []model.ItineraryStop {
	var days []itineraryDay
	if err := json.Unmarshal(raw, &days); err != nil {
		days = nil
		obj := decodeObject(raw)
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA == nil && errB == nil {
				return a < b
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			var d itineraryDay
			if json.Unmarshal(obj[k], &d) == nil {
				days = append(days, d)
			}
		}
	}
	stops := make([]model.ItineraryStop, 0, len(days))
	for i, d := range days {
		stop := model.ItineraryStop{
			PortID:     d.PortID.PositiveInt(),
			Name:       d.Name.String(),
			ArriveDate: d.ArriveDate.Date(),
			DepartDate: d.DepartDate.Date(),
			ArriveTime: d.ArriveTime.String(),
			DepartTime: d.DepartTime.String(),
		}
		if n := d.Day.Int(); n != nil {
			stop.Day = *n
		}
		if n := d.OrderID.Int(); n != nil {
			stop.OrderID = *n
		} else {
			stop.OrderID = int64(i + 1)
		}
		stops = append(stops, stop)
	}
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].OrderID < stops[j].OrderID })
	// order ids are the natural key per sailing, so duplicates keep the first
	dedup := stops[:0]
	seen := make(map[int64]bool, len(stops))
	for _, s := range stops {
		if seen[s.OrderID] {
			continue
		}
		seen[s.OrderID] = true
		dedup = append(dedup, s)
	}
	return dedup
}

func normalizeCabins(shipID int64, raw json.RawMessage) []model.CabinCategory {
	var cabins []model.CabinCategory
	for key, val := range decodeObject(raw) {
		var cc cabinContent
		if json.Unmarshal(val, &cc) != nil {
			continue
		}
		code := cc.CabinCode.String()
		if code == "" {
			code = strings.TrimSpace(key)
		}
		if code == "" {
			continue
		}
		cabins = append(cabins, model.CabinCategory{
			ShipID:     shipID,
			CabinCode:  code,
			Name:       cc.Name.String(),
			Class:      ClassifyCabin(cc.CodType.String()),
			ColourCode: cc.ColourCode.String(),
		})
	}
	sort.Slice(cabins, func(i, j int) bool { return cabins[i].CabinCode < cabins[j].CabinCode })
	return cabins
}

// ClassifyCabin maps a supplier cabin type onto one of the four summarized
// classes, or "" when it matches none.
func ClassifyCabin(codType string) model.CabinClass {
	t := strings.ToLower(strings.TrimSpace(codType))
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "suite"):
		return model.CabinSuite
	case strings.Contains(t, "balcon"), strings.Contains(t, "verand"):
		return model.CabinBalcony
	case strings.Contains(t, "inside"), strings.Contains(t, "interior"):
		return model.CabinInterior
	case strings.Contains(t, "outside"), strings.Contains(t, "ocean"):
		return model.CabinOceanview
	}
	return ""
}

// normalizePricing flattens prices[rateCode][cabinCode][occupancy].  Entries
// without a positive numeric price are skipped.  Output is sorted by
// (rate, cabin, occupancy) so equal input yields equal output.
func normalizePricing(raw json.RawMessage, cabins []model.CabinCategory, currency string) []model.PricingRecord {
	classOf := make(map[string]model.CabinClass, len(cabins))
	for _, c := range cabins {
		classOf[c.CabinCode] = c.Class
	}

	var out []model.PricingRecord
	for rate, rawCabins := range decodeObject(raw) {
		for cabinCode, rawOcc := range decodeObject(rawCabins) {
			occs := decodeObject(rawOcc)
			if _, direct := occs["price"]; direct {
				occs = map[string]json.RawMessage{"": rawOcc}
			}
			for occ, rawPrice := range occs {
				var p priceEntry
				if decodeObject(rawPrice) == nil || json.Unmarshal(rawPrice, &p) != nil {
					continue
				}
				amount := p.Price.Decimal()
				if !amount.Valid || !amount.Decimal.GreaterThan(decimal.Zero) {
					continue
				}
				class, ok := classOf[cabinCode]
				if !ok || class == "" {
					class = ClassifyCabin(p.CabinType.String())
				}
				out = append(out, model.PricingRecord{
					CabinCode:     cabinCode,
					CabinClass:    class,
					RateCode:      rate,
					OccupancyCode: occ,
					Price:         amount.Decimal,
					Taxes:         p.Taxes.Decimal(),
					Currency:      currency,
					PriceCode:     strings.Join([]string{rate, cabinCode, occ}, "|"),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RateCode != b.RateCode {
			return a.RateCode < b.RateCode
		}
		if a.CabinCode != b.CabinCode {
			return a.CabinCode < b.CabinCode
		}
		return a.OccupancyCode < b.OccupancyCode
	})
	return out
}
