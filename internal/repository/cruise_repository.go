package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/cruisesync/internal/model"
)

// CruiseRepo persists cruise definitions, their sailings and the per-sailing
// itinerary and per-ship cabin categories.  Every write is a natural-key
// upsert so repeating it with the same input changes nothing.
type CruiseRepo struct {
	db *sql.DB
}

// NewCruiseRepo constructs a CruiseRepo with the given DB handle.
func NewCruiseRepo(db *sql.DB) *CruiseRepo {
	return &CruiseRepo{db: db}
}

// DB exposes the underlying sql.DB so callers can open transactions that
// span several repositories.
func (r *CruiseRepo) DB() *sql.DB {
	return r.db
}

// UpsertDefinitionTx inserts the definition or updates its mutable fields
// when the supplier cruise id already exists.  The surrogate id is assigned
// to d.ID and returned.
//
// id = LAST_INSERT_ID(id) makes LastInsertId report the existing row's id
// on the update path.
func (r *CruiseRepo) UpsertDefinitionTx(ctx context.Context, tx *sql.Tx, d *model.CruiseDefinition) (uint64, error) {
	const q = `INSERT INTO cruise_definitions
			(cruise_id, line_id, ship_id, name, nights, sail_nights, sea_days, voyage_code, itinerary_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			line_id = VALUES(line_id),
			ship_id = VALUES(ship_id),
			name = VALUES(name),
			nights = VALUES(nights),
			sail_nights = VALUES(sail_nights),
			sea_days = VALUES(sea_days),
			voyage_code = VALUES(voyage_code),
			itinerary_code = VALUES(itinerary_code)`
	res, err := tx.ExecContext(ctx, q,
		d.CruiseID, d.LineID, d.ShipID, d.Name,
		nullInt(d.Nights), nullInt(d.SailNights), nullInt(d.SeaDays),
		d.VoyageCode, d.ItineraryCode,
	)
	if err != nil {
		return 0, classify(err, "upsert cruise definition")
	}
	id, err := lastID(ctx, tx, res, `SELECT id FROM cruise_definitions WHERE cruise_id = ?`, d.CruiseID)
	if err != nil {
		return 0, classify(err, "resolve cruise definition id")
	}
	d.ID = id
	return id, nil
}

// UpsertSailingTx inserts the sailing or updates every mutable field,
// including the owning definition and last_synced_at.  s.DefinitionID must
// be set.  The surrogate id is assigned to s.ID and returned.
func (r *CruiseRepo) UpsertSailingTx(ctx context.Context, tx *sql.Tx, s *model.CruiseSailing) (uint64, error) {
	if s.DefinitionID == 0 {
		return 0, errors.Mark(errors.New("sailing has no definition id"), ErrPersistence)
	}
	const q = `INSERT INTO cruise_sailings
			(definition_id, sailing_id, sail_date, embark_port_id, disembark_port_id,
			 region_ids, port_ids, no_fly, depart_uk, is_active, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			definition_id = VALUES(definition_id),
			sail_date = VALUES(sail_date),
			embark_port_id = VALUES(embark_port_id),
			disembark_port_id = VALUES(disembark_port_id),
			region_ids = VALUES(region_ids),
			port_ids = VALUES(port_ids),
			no_fly = VALUES(no_fly),
			depart_uk = VALUES(depart_uk),
			is_active = VALUES(is_active),
			last_synced_at = VALUES(last_synced_at)`
	var sailDate sql.NullTime
	if s.SailDate != nil {
		sailDate = sql.NullTime{Time: *s.SailDate, Valid: true}
	}
	res, err := tx.ExecContext(ctx, q,
		s.DefinitionID, s.SailingID, sailDate,
		nullInt(s.EmbarkPortID), nullInt(s.DisembarkPortID),
		joinIDs(s.RegionIDs), joinIDs(s.PortIDs),
		nullBool(s.NoFly), nullBool(s.DepartUK), s.IsActive, s.LastSyncedAt,
	)
	if err != nil {
		return 0, classify(err, "upsert cruise sailing")
	}
	id, err := lastID(ctx, tx, res, `SELECT id FROM cruise_sailings WHERE sailing_id = ?`, s.SailingID)
	if err != nil {
		return 0, classify(err, "resolve cruise sailing id")
	}
	s.ID = id
	return id, nil
}

// UpsertCabinsTx inserts or refreshes the cabin categories of a ship.
// Categories missing from the document are kept; other sailings of the same
// ship may still price them.
func (r *CruiseRepo) UpsertCabinsTx(ctx context.Context, tx *sql.Tx, cabins []model.CabinCategory) error {
	if len(cabins) == 0 {
		return nil
	}
	q := `INSERT INTO cabin_categories (ship_id, cabin_code, name, cabin_class, colour_code) VALUES `
	args := make([]any, 0, len(cabins)*5)
	for i, c := range cabins {
		if i > 0 {
			q += ","
		}
		q += "(?, ?, ?, ?, ?)"
		args = append(args, c.ShipID, c.CabinCode, c.Name, string(c.Class), c.ColourCode)
	}
	q += ` ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			cabin_class = VALUES(cabin_class),
			colour_code = VALUES(colour_code)`
	_, err := tx.ExecContext(ctx, q, args...)
	return classify(err, "upsert cabin categories")
}

// ReplaceItineraryTx replaces the itinerary of a sailing.
func (r *CruiseRepo) ReplaceItineraryTx(ctx context.Context, tx *sql.Tx, sailingID uint64, stops []model.ItineraryStop) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM itinerary_stops WHERE sailing_id = ?`, sailingID); err != nil {
		return classify(err, "delete itinerary")
	}
	if len(stops) == 0 {
		return nil
	}
	q := `INSERT INTO itinerary_stops
		(sailing_id, day_number, order_id, port_id, name, arrive_date, depart_date, arrive_time, depart_time) VALUES `
	args := make([]any, 0, len(stops)*9)
	for i, st := range stops {
		if i > 0 {
			q += ","
		}
		q += "(?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, sailingID, st.Day, st.OrderID, nullInt(st.PortID), st.Name,
			nullDate(st.ArriveDate), nullDate(st.DepartDate), st.ArriveTime, st.DepartTime)
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return classify(err, "insert itinerary")
}

func nullDate(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// lastID returns the id LAST_INSERT_ID reported, falling back to a lookup
// by natural key.
func lastID(ctx context.Context, q queryer, res sql.Result, sel string, key any) (uint64, error) {
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return uint64(id), nil
	}
	var id uint64
	if err := q.QueryRowContext(ctx, sel, key).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

const sailingColumns = `s.id, s.definition_id, s.sailing_id, s.sail_date, s.embark_port_id, s.disembark_port_id,
	s.region_ids, s.port_ids, s.no_fly, s.depart_uk, s.is_active, s.last_synced_at`

func scanSailing(scan func(...any) error, s *model.CruiseSailing, extra ...any) error {
	var (
		sailDate          sql.NullTime
		embark, disembark sql.NullInt64
		regions, ports    string
		noFly, departUK   sql.NullBool
	)
	dest := append([]any{&s.ID, &s.DefinitionID, &s.SailingID, &sailDate, &embark, &disembark,
		&regions, &ports, &noFly, &departUK, &s.IsActive, &s.LastSyncedAt}, extra...)
	if err := scan(dest...); err != nil {
		return err
	}
	if sailDate.Valid {
		t := sailDate.Time
		s.SailDate = &t
	}
	s.EmbarkPortID = intPtr(embark)
	s.DisembarkPortID = intPtr(disembark)
	s.RegionIDs = splitIDs(regions)
	s.PortIDs = splitIDs(ports)
	s.NoFly = boolPtr(noFly)
	s.DepartUK = boolPtr(departUK)
	return nil
}

// GetSailing loads a sailing by its supplier sailing id.
func (r *CruiseRepo) GetSailing(ctx context.Context, supplierID int64) (*model.CruiseSailing, error) {
	q := `SELECT ` + sailingColumns + ` FROM cruise_sailings s WHERE s.sailing_id = ?`
	var s model.CruiseSailing
	err := scanSailing(r.db.QueryRowContext(ctx, q, supplierID).Scan, &s)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "get sailing")
	}
	return &s, nil
}

// CountSailings returns the number of rows for a supplier sailing id.  The
// unique key keeps it at 0 or 1; the count exists so that can be asserted.
func (r *CruiseRepo) CountSailings(ctx context.Context, supplierID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cruise_sailings WHERE sailing_id = ?`, supplierID).Scan(&n)
	return n, classify(err, "count sailings")
}

// CountDefinitions returns the number of definitions of a line.
func (r *CruiseRepo) CountDefinitions(ctx context.Context, lineID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cruise_definitions WHERE line_id = ?`, lineID).Scan(&n)
	return n, classify(err, "count definitions")
}

// GetSailingView joins a sailing with its definition and cheapest-price
// summary for downstream readers.  Only committed rows are visible.
func (r *CruiseRepo) GetSailingView(ctx context.Context, supplierID int64) (*model.SailingView, error) {
	q := `SELECT ` + sailingColumns + `,
			d.id, d.cruise_id, d.line_id, d.ship_id, d.name, d.nights, d.sail_nights, d.sea_days,
			d.voyage_code, d.itinerary_code,
			c.sailing_id, c.interior_price, c.oceanview_price, c.balcony_price, c.suite_price,
			c.cheapest_price, c.cheapest_class, c.currency, c.computed_at
		FROM cruise_sailings s
		JOIN cruise_definitions d ON d.id = s.definition_id
		LEFT JOIN cheapest_pricing c ON c.sailing_id = s.id
		WHERE s.sailing_id = ?`

	var (
		v                           model.SailingView
		nights, sailNights, seaDays sql.NullInt64
		sum                         summaryRow
	)
	err := scanSailing(r.db.QueryRowContext(ctx, q, supplierID).Scan, &v.Sailing,
		&v.Definition.ID, &v.Definition.CruiseID, &v.Definition.LineID, &v.Definition.ShipID,
		&v.Definition.Name, &nights, &sailNights, &seaDays,
		&v.Definition.VoyageCode, &v.Definition.ItineraryCode,
		&sum.sailingID, &sum.interior, &sum.oceanview, &sum.balcony, &sum.suite,
		&sum.cheapest, &sum.class, &sum.currency, &sum.computedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "get sailing view")
	}
	v.Definition.Nights = intPtr(nights)
	v.Definition.SailNights = intPtr(sailNights)
	v.Definition.SeaDays = intPtr(seaDays)
	if sum.sailingID.Valid {
		s := sum.toModel()
		v.Cheapest = &s
	}
	return &v, nil
}

// ListSailingIDs pages through sailing surrogate ids above afterID.
func (r *CruiseRepo) ListSailingIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error) {
	return r.ids(ctx, `SELECT id FROM cruise_sailings WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
}

// RecentSailingIDs returns the most recently synced sailings.
func (r *CruiseRepo) RecentSailingIDs(ctx context.Context, limit int) ([]uint64, error) {
	return r.ids(ctx, `SELECT id FROM cruise_sailings ORDER BY last_synced_at DESC, id DESC LIMIT ?`, limit)
}

func (r *CruiseRepo) ids(ctx context.Context, q string, args ...any) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, "list sailing ids")
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "scan sailing id")
		}
		out = append(out, id)
	}
	return out, classify(rows.Err(), "list sailing ids")
}

// summaryRow is the nullable scan target of a LEFT JOINed cheapest_pricing row.
type summaryRow struct {
	sailingID  sql.NullInt64
	interior   decimal.NullDecimal
	oceanview  decimal.NullDecimal
	balcony    decimal.NullDecimal
	suite      decimal.NullDecimal
	cheapest   decimal.NullDecimal
	class      sql.NullString
	currency   sql.NullString
	computedAt sql.NullTime
}

func (r summaryRow) toModel() model.CheapestPricingSummary {
	s := model.CheapestPricingSummary{
		SailingID: uint64(r.sailingID.Int64),
		Interior:  r.interior,
		Oceanview: r.oceanview,
		Balcony:   r.balcony,
		Suite:     r.suite,
		Cheapest:  r.cheapest,
	}
	if r.class.Valid {
		c := model.CabinClass(r.class.String)
		s.CheapestClass = &c
	}
	if r.currency.Valid {
		cur := r.currency.String
		s.Currency = &cur
	}
	if r.computedAt.Valid {
		s.ComputedAt = r.computedAt.Time
	}
	return s
}
