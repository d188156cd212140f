package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/cruisesync/internal/model"
)

// pricingBatch bounds the rows of one multi-row INSERT.
const pricingBatch = 500

// PricingRepo owns pricing_records and the derived cheapest_pricing cache.
// It implements pricing.Store.
type PricingRepo struct {
	db *sql.DB
}

// NewPricingRepo constructs a PricingRepo with the given DB handle.
func NewPricingRepo(db *sql.DB) *PricingRepo {
	return &PricingRepo{db: db}
}

// ReplacePricingTx deletes every pricing record of the sailing and inserts
// records in their place.  Run inside the sailing transaction, readers see
// either the old set or the new one.  It returns the rows inserted.
func (r *PricingRepo) ReplacePricingTx(ctx context.Context, tx *sql.Tx, sailingID uint64, records []model.PricingRecord) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM pricing_records WHERE sailing_id = ?`, sailingID); err != nil {
		return 0, classify(err, "delete pricing")
	}
	written := 0
	for start := 0; start < len(records); start += pricingBatch {
		end := min(start+pricingBatch, len(records))
		chunk := records[start:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO pricing_records
			(sailing_id, cabin_code, cabin_class, rate_code, occupancy_code, price, taxes, currency, price_code) VALUES `)
		args := make([]any, 0, len(chunk)*9)
		for i, p := range chunk {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, sailingID, p.CabinCode, string(p.CabinClass), p.RateCode, p.OccupancyCode,
				p.Price, p.Taxes, p.Currency, p.PriceCode)
		}
		res, err := tx.ExecContext(ctx, sb.String(), args...)
		if err != nil {
			return written, classify(err, "insert pricing")
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}
	return written, nil
}

// ListPricing returns the current pricing records of a sailing.
func (r *PricingRepo) ListPricing(ctx context.Context, sailingID uint64) ([]model.PricingRecord, error) {
	return r.listPricing(ctx, r.db, sailingID)
}

func (r *PricingRepo) listPricing(ctx context.Context, q queryer, sailingID uint64) ([]model.PricingRecord, error) {
	const sel = `SELECT sailing_id, cabin_code, cabin_class, rate_code, occupancy_code, price, taxes, currency, price_code
		FROM pricing_records WHERE sailing_id = ?
		ORDER BY rate_code, cabin_code, occupancy_code`
	rows, err := q.QueryContext(ctx, sel, sailingID)
	if err != nil {
		return nil, classify(err, "list pricing")
	}
	defer rows.Close()

	var out []model.PricingRecord
	for rows.Next() {
		var (
			p     model.PricingRecord
			class string
		)
		if err := rows.Scan(&p.SailingID, &p.CabinCode, &class, &p.RateCode, &p.OccupancyCode,
			&p.Price, &p.Taxes, &p.Currency, &p.PriceCode); err != nil {
			return nil, classify(err, "scan pricing")
		}
		p.CabinClass = model.CabinClass(class)
		out = append(out, p)
	}
	return out, classify(rows.Err(), "list pricing")
}

// GetSummary returns the stored summary, nil when none has been computed.
func (r *PricingRepo) GetSummary(ctx context.Context, sailingID uint64) (*model.CheapestPricingSummary, error) {
	const q = `SELECT sailing_id, interior_price, oceanview_price, balcony_price, suite_price,
			cheapest_price, cheapest_class, currency, computed_at
		FROM cheapest_pricing WHERE sailing_id = ?`
	var row summaryRow
	err := r.db.QueryRowContext(ctx, q, sailingID).Scan(&row.sailingID, &row.interior, &row.oceanview,
		&row.balcony, &row.suite, &row.cheapest, &row.class, &row.currency, &row.computedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "get summary")
	}
	s := row.toModel()
	return &s, nil
}

// UpsertSummary overwrites every column of the sailing's summary.  Nulls are
// written as nulls; nothing is merged with the previous row.
func (r *PricingRepo) UpsertSummary(ctx context.Context, s model.CheapestPricingSummary) error {
	const q = `INSERT INTO cheapest_pricing
			(sailing_id, interior_price, oceanview_price, balcony_price, suite_price,
			 cheapest_price, cheapest_class, currency, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			interior_price = VALUES(interior_price),
			oceanview_price = VALUES(oceanview_price),
			balcony_price = VALUES(balcony_price),
			suite_price = VALUES(suite_price),
			cheapest_price = VALUES(cheapest_price),
			cheapest_class = VALUES(cheapest_class),
			currency = VALUES(currency),
			computed_at = VALUES(computed_at)`
	var class, currency sql.NullString
	if s.CheapestClass != nil {
		class = sql.NullString{String: string(*s.CheapestClass), Valid: true}
	}
	if s.Currency != nil {
		currency = sql.NullString{String: *s.Currency, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q, s.SailingID, s.Interior, s.Oceanview, s.Balcony, s.Suite,
		s.Cheapest, class, currency, s.ComputedAt)
	return classify(err, "upsert summary")
}
