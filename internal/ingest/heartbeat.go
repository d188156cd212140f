package ingest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/iliyamo/cruisesync/internal/lock"
	"github.com/iliyamo/cruisesync/internal/logger"
)

func isLockLoss(err error) bool {
	return errors.Is(err, lock.ErrLockLost) || errors.Is(err, lock.ErrNotOwner)
}

// lockCause turns a failed ownership check into the run's cancellation
// cause.  Losing the lock or finding another owner aborts the run; a lock
// store that cannot answer fails it instead.
func lockCause(err error) error {
	switch {
	case errors.Is(err, lock.ErrLockLost):
		return err
	case errors.Is(err, lock.ErrNotOwner):
		return errors.Mark(err, lock.ErrLockLost)
	default:
		return errors.Wrap(err, "verify lock ownership")
	}
}

// heartbeat refreshes the lock every third of its TTL until stop is called.
// Losing the lock cancels the run.  Other refresh errors are logged and
// retried on the next tick; the TTL leaves room for two misses.
func (c *Coordinator) heartbeat(ctx context.Context, t Ticket, cancel context.CancelCauseFunc, log logger.Logger) (stop func()) {
	interval := c.opts.LockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	hbCtx, hbCancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := c.deps.Locker.Refresh(hbCtx, t.LineID, t.Token, c.opts.LockTTL)
				switch {
				case err == nil:
				case isLockLoss(err):
					log.Error("lock lost, aborting run", "error", err)
					cancel(lockCause(err))
					return
				case hbCtx.Err() != nil:
					return
				default:
					log.Warn("lock refresh failed", "error", err)
				}
			}
		}
	}()

	return func() {
		hbCancel()
		<-done
	}
}
