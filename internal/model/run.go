package model

import "time"

// RunStatus is the terminal status of an ingestion run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded" // every listed sailing processed
	RunPartial   RunStatus = "partial"   // finished with per-sailing errors
	RunFailed    RunStatus = "failed"    // transport or database unreachable
	RunAborted   RunStatus = "aborted"   // lock lost mid-run
	RunCancelled RunStatus = "cancelled" // operator or shutdown cancellation
	RunSkipped   RunStatus = "skipped"   // line already locked by another run
)

// Stage names where a per-sailing error occurred.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageUpsert    Stage = "upsert"
	StageAggregate Stage = "aggregate"
)

// SailingError is one per-sailing failure recorded against a run.
type SailingError struct {
	Path      string // sync_run_errors.file_path
	SailingID *int64 // sync_run_errors.sailing_id, nil when the document had none
	Stage     Stage  // sync_run_errors.stage
	Message   string // sync_run_errors.message
}

// RunOutcome is the append-only audit record of one ingestion run.  It is
// written once when the run reaches a terminal state and never updated.
//
// Fields:
//
//	RunID              – uuid handed back to the trigger caller.
//	LineID             – supplier line the run was scoped to.
//	Trigger            – webhook, manual, cli or queue.
//	StartedAt          – when the lock was acquired.
//	FinishedAt         – when the outcome was written.
//	SailingsSeen       – documents listed (or named by the trigger).
//	SailingsUpdated    – sailings whose upsert committed.
//	PricingRowsWritten – pricing rows inserted across all sailings.
//	ErrorCount         – per-sailing errors, may exceed len(Errors).
//	Errors             – detail for the first errors, capped per run.
//	Status             – terminal status.
//	FailureReason      – run-fatal cause, empty unless failed/aborted/cancelled.
type RunOutcome struct {
	RunID              string         // sync_runs.run_id
	LineID             int64          // sync_runs.line_id
	Trigger            string         // sync_runs.trigger_source
	StartedAt          time.Time      // sync_runs.started_at
	FinishedAt         time.Time      // sync_runs.finished_at
	SailingsSeen       int            // sync_runs.sailings_seen
	SailingsUpdated    int            // sync_runs.sailings_updated
	PricingRowsWritten int            // sync_runs.pricing_rows_written
	ErrorCount         int            // sync_runs.error_count
	Errors             []SailingError // sync_run_errors
	Status             RunStatus      // sync_runs.status
	FailureReason      string         // sync_runs.failure_reason
}
