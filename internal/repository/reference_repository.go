package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cruisesync/internal/model"
)

// ReferenceRepo upserts cruise lines, ships and ports.  These rows are keyed
// by the supplier's own ids and are refreshed from the content embedded in
// every sailing document.  Empty names never overwrite known ones because
// many documents carry only the ids.
type ReferenceRepo struct {
	db *sql.DB
}

// NewReferenceRepo constructs a ReferenceRepo with the given DB handle.
func NewReferenceRepo(db *sql.DB) *ReferenceRepo {
	return &ReferenceRepo{db: db}
}

// UpsertLineTx inserts or refreshes a cruise line.
func (r *ReferenceRepo) UpsertLineTx(ctx context.Context, tx *sql.Tx, l model.CruiseLine) error {
	const q = `INSERT INTO cruise_lines (id, name, code) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = IF(VALUES(name) <> '', VALUES(name), name),
			code = IF(VALUES(code) <> '', VALUES(code), code)`
	_, err := tx.ExecContext(ctx, q, l.ID, l.Name, l.Code)
	return classify(err, "upsert cruise line")
}

// UpsertShipTx inserts or refreshes a ship.  The owning line must exist.
func (r *ReferenceRepo) UpsertShipTx(ctx context.Context, tx *sql.Tx, s model.Ship) error {
	const q = `INSERT INTO ships (id, line_id, name, code) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			line_id = VALUES(line_id),
			name = IF(VALUES(name) <> '', VALUES(name), name),
			code = IF(VALUES(code) <> '', VALUES(code), code)`
	_, err := tx.ExecContext(ctx, q, s.ID, s.LineID, s.Name, s.Code)
	return classify(err, "upsert ship")
}

// UpsertPortsTx inserts or refreshes ports in one statement.
func (r *ReferenceRepo) UpsertPortsTx(ctx context.Context, tx *sql.Tx, ports []model.Port) error {
	if len(ports) == 0 {
		return nil
	}
	q := `INSERT INTO ports (id, name) VALUES `
	args := make([]any, 0, len(ports)*2)
	for i, p := range ports {
		if i > 0 {
			q += ","
		}
		q += "(?, ?)"
		args = append(args, p.ID, p.Name)
	}
	q += ` ON DUPLICATE KEY UPDATE name = IF(VALUES(name) <> '', VALUES(name), name)`
	_, err := tx.ExecContext(ctx, q, args...)
	return classify(err, "upsert ports")
}

// GetLine retrieves a cruise line, ErrNotFound when unknown.
func (r *ReferenceRepo) GetLine(ctx context.Context, id int64) (*model.CruiseLine, error) {
	const q = `SELECT id, name, code FROM cruise_lines WHERE id = ?`
	var l model.CruiseLine
	err := r.db.QueryRowContext(ctx, q, id).Scan(&l.ID, &l.Name, &l.Code)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "get cruise line")
	}
	return &l, nil
}
