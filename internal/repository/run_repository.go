package repository

import (
	"context"
	"database/sql"
	"unicode/utf8"

	"github.com/iliyamo/cruisesync/internal/model"
)

// RunRepo appends run outcomes.  Rows are never updated after insert.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo constructs a RunRepo with the given DB handle.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Record inserts the outcome and its error details in one transaction.
func (r *RunRepo) Record(ctx context.Context, o model.RunOutcome) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin run outcome")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO sync_runs
			(run_id, line_id, trigger_source, status, started_at, finished_at,
			 sailings_seen, sailings_updated, pricing_rows_written, error_count, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, o.RunID, o.LineID, o.Trigger, string(o.Status), o.StartedAt, o.FinishedAt,
		o.SailingsSeen, o.SailingsUpdated, o.PricingRowsWritten, o.ErrorCount, truncate(o.FailureReason, 1024)); err != nil {
		return classify(err, "insert run outcome")
	}
	if len(o.Errors) > 0 {
		q := `INSERT INTO sync_run_errors (run_id, file_path, sailing_id, stage, message) VALUES ` + rowsOf(len(o.Errors), 5)
		args := make([]any, 0, len(o.Errors)*5)
		for _, e := range o.Errors {
			args = append(args, o.RunID, truncate(e.Path, 512), nullInt(e.SailingID), string(e.Stage), truncate(e.Message, 1024))
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return classify(err, "insert run errors")
		}
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit run outcome")
	}
	committed = true
	return nil
}

const runColumns = `run_id, line_id, trigger_source, status, started_at, finished_at,
	sailings_seen, sailings_updated, pricing_rows_written, error_count, failure_reason`

func scanRun(scan func(...any) error) (model.RunOutcome, error) {
	var (
		o      model.RunOutcome
		status string
	)
	err := scan(&o.RunID, &o.LineID, &o.Trigger, &status, &o.StartedAt, &o.FinishedAt,
		&o.SailingsSeen, &o.SailingsUpdated, &o.PricingRowsWritten, &o.ErrorCount, &o.FailureReason)
	o.Status = model.RunStatus(status)
	return o, err
}

// Recent returns the latest outcomes, newest first, optionally for one line.
// Error details are not loaded; use Get for those.
func (r *RunRepo) Recent(ctx context.Context, lineID *int64, limit int) ([]model.RunOutcome, error) {
	q := `SELECT ` + runColumns + ` FROM sync_runs`
	var args []any
	if lineID != nil {
		q += ` WHERE line_id = ?`
		args = append(args, *lineID)
	}
	q += ` ORDER BY finished_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err, "list run outcomes")
	}
	defer rows.Close()
	var out []model.RunOutcome
	for rows.Next() {
		o, err := scanRun(rows.Scan)
		if err != nil {
			return nil, classify(err, "scan run outcome")
		}
		out = append(out, o)
	}
	return out, classify(rows.Err(), "list run outcomes")
}

// Get loads one outcome with its error details.
func (r *RunRepo) Get(ctx context.Context, runID string) (*model.RunOutcome, error) {
	o, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE run_id = ?`, runID).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err, "get run outcome")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT file_path, sailing_id, stage, message FROM sync_run_errors WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, classify(err, "list run errors")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e         model.SailingError
			sailingID sql.NullInt64
			stage     string
		)
		if err := rows.Scan(&e.Path, &sailingID, &stage, &e.Message); err != nil {
			return nil, classify(err, "scan run error")
		}
		e.SailingID = intPtr(sailingID)
		e.Stage = model.Stage(stage)
		o.Errors = append(o.Errors, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list run errors")
	}
	return &o, nil
}

func rowsOf(n, cols int) string {
	row := "(" + placeholders(cols) + ")"
	out := make([]byte, 0, n*(len(row)+1))
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, row...)
	}
	return string(out)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
