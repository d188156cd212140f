package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"

	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/model"
)

// maxTxRetries bounds re-running a transaction rolled back by a deadlock or
// lock wait timeout.
const maxTxRetries = 3

// SaveResult reports what SaveSailing wrote.
type SaveResult struct {
	DefinitionID uint64
	SailingID    uint64 // cruise_sailings.id
	PricingRows  int
}

// Store writes one normalized sailing as a single unit across the
// repositories.
type Store struct {
	db        *sql.DB
	reference *ReferenceRepo
	cruises   *CruiseRepo
	pricing   *PricingRepo
	log       logger.Logger

	// retryBase is the first deadlock retry delay.  Tests shorten it.
	retryBase time.Duration
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:        db,
		reference: NewReferenceRepo(db),
		cruises:   NewCruiseRepo(db),
		pricing:   NewPricingRepo(db),
		log:       log,
		retryBase: 100 * time.Millisecond,
	}
}

// SaveSailing upserts reference data, the definition, the sailing, cabins
// and itinerary, then replaces the pricing, all in one transaction.  Readers
// never observe a sailing whose pricing is half replaced.  syncedAt becomes
// the sailing's last_synced_at.
//
// Returned errors are marked ErrPersistence or ErrDatabaseUnavailable.
func (s *Store) SaveSailing(ctx context.Context, ns *model.NormalizedSailing, syncedAt time.Time) (SaveResult, error) {
	var res SaveResult
	err := s.runInTxWithRetry(ctx, func(tx *sql.Tx) error {
		res = SaveResult{}
		def := ns.Definition
		sailing := ns.Sailing

		if err := s.reference.UpsertLineTx(ctx, tx, ns.Line); err != nil {
			return err
		}
		if err := s.reference.UpsertShipTx(ctx, tx, ns.Ship); err != nil {
			return err
		}
		if err := s.reference.UpsertPortsTx(ctx, tx, ns.Ports); err != nil {
			return err
		}
		defID, err := s.cruises.UpsertDefinitionTx(ctx, tx, &def)
		if err != nil {
			return err
		}
		sailing.DefinitionID = defID
		sailing.LastSyncedAt = syncedAt
		sailingID, err := s.cruises.UpsertSailingTx(ctx, tx, &sailing)
		if err != nil {
			return err
		}
		if err := s.cruises.UpsertCabinsTx(ctx, tx, ns.Cabins); err != nil {
			return err
		}
		if err := s.cruises.ReplaceItineraryTx(ctx, tx, sailingID, ns.Itinerary); err != nil {
			return err
		}
		rows, err := s.pricing.ReplacePricingTx(ctx, tx, sailingID, ns.Pricing)
		if err != nil {
			return err
		}
		res = SaveResult{DefinitionID: defID, SailingID: sailingID, PricingRows: rows}
		return nil
	})
	if err != nil {
		return SaveResult{}, errors.Wrapf(err, "save sailing %d", ns.Sailing.SailingID)
	}
	return res, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx), "ping database")
}

func (s *Store) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.log.Warn("failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	committed = true
	return nil
}

func (s *Store) runInTxWithRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBase
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxTxRetries), ctx)

	return backoff.RetryNotify(func() error {
		err := s.runInTx(ctx, fn)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		s.log.Warn("retrying transaction due to retryable error", "wait", wait, "error", err)
	})
}
