package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/cruisesync/internal/model"
	"github.com/iliyamo/cruisesync/internal/repository"
)

// SailingReader loads the read model.  *repository.CruiseRepo satisfies it.
type SailingReader interface {
	GetSailingView(ctx context.Context, supplierID int64) (*model.SailingView, error)
}

// SailingHandler serves the read-only sailing endpoint.
type SailingHandler struct {
	Sailings SailingReader
}

func NewSailingHandler(r SailingReader) *SailingHandler {
	if r == nil {
		panic("nil reader passed to NewSailingHandler")
	}
	return &SailingHandler{Sailings: r}
}

// SailingResponse is the public shape of a sailing.
type SailingResponse struct {
	SailingID       int64             `json:"sailing_id"`
	SailDate        *string           `json:"sail_date"`
	EmbarkPortID    *int64            `json:"embark_port_id"`
	DisembarkPortID *int64            `json:"disembark_port_id"`
	RegionIDs       []int64           `json:"region_ids"`
	PortIDs         []int64           `json:"port_ids"`
	NoFly           *bool             `json:"no_fly"`
	DepartUK        *bool             `json:"depart_uk"`
	IsActive        bool              `json:"is_active"`
	LastSyncedAt    time.Time         `json:"last_synced_at"`
	Cruise          CruiseResponse    `json:"cruise"`
	Cheapest        *CheapestResponse `json:"cheapest"`
}

// CruiseResponse is the definition part of a sailing.
type CruiseResponse struct {
	CruiseID      int64  `json:"cruise_id"`
	LineID        int64  `json:"line_id"`
	ShipID        int64  `json:"ship_id"`
	Name          string `json:"name"`
	Nights        *int64 `json:"nights"`
	SailNights    *int64 `json:"sail_nights"`
	SeaDays       *int64 `json:"sea_days"`
	VoyageCode    string `json:"voyage_code"`
	ItineraryCode string `json:"itinerary_code"`
}

// CheapestResponse carries prices as decimal strings, null when unpriced.
type CheapestResponse struct {
	Interior   *string   `json:"interior"`
	Oceanview  *string   `json:"oceanview"`
	Balcony    *string   `json:"balcony"`
	Suite      *string   `json:"suite"`
	Cheapest   *string   `json:"cheapest"`
	Class      *string   `json:"cheapest_class"`
	Currency   *string   `json:"currency"`
	ComputedAt time.Time `json:"computed_at"`
}

// GetSailing: GET /v1/sailings/:sailingId by supplier sailing id.
func (h *SailingHandler) GetSailing(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("sailingId"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid sailing id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := h.Sailings.GetSailingView(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "sailing not found"})
	case errors.Is(err, repository.ErrDatabaseUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "database unavailable"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, toSailingResponse(v))
}

func toSailingResponse(v *model.SailingView) SailingResponse {
	s, d := v.Sailing, v.Definition
	out := SailingResponse{
		SailingID:       s.SailingID,
		EmbarkPortID:    s.EmbarkPortID,
		DisembarkPortID: s.DisembarkPortID,
		RegionIDs:       nonNil(s.RegionIDs),
		PortIDs:         nonNil(s.PortIDs),
		NoFly:           s.NoFly,
		DepartUK:        s.DepartUK,
		IsActive:        s.IsActive,
		LastSyncedAt:    s.LastSyncedAt,
		Cruise: CruiseResponse{
			CruiseID:      d.CruiseID,
			LineID:        d.LineID,
			ShipID:        d.ShipID,
			Name:          d.Name,
			Nights:        d.Nights,
			SailNights:    d.SailNights,
			SeaDays:       d.SeaDays,
			VoyageCode:    d.VoyageCode,
			ItineraryCode: d.ItineraryCode,
		},
	}
	if s.SailDate != nil {
		day := s.SailDate.Format(time.DateOnly)
		out.SailDate = &day
	}
	if sum := v.Cheapest; sum != nil {
		cr := &CheapestResponse{
			Interior:   price(sum.Interior),
			Oceanview:  price(sum.Oceanview),
			Balcony:    price(sum.Balcony),
			Suite:      price(sum.Suite),
			Cheapest:   price(sum.Cheapest),
			Currency:   sum.Currency,
			ComputedAt: sum.ComputedAt,
		}
		if sum.CheapestClass != nil {
			class := string(*sum.CheapestClass)
			cr.Class = &class
		}
		out.Cheapest = cr
	}
	return out
}

func price(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
