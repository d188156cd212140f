// Package repository defines error types that are reused across multiple
// repositories.  Every error leaving the package is marked with one of the
// sentinels below so higher layers can tell a per-sailing failure from a
// database that is gone altogether.
package repository

import (
	"context"
	"database/sql/driver"
	"net"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"
)

// ErrPersistence marks a failed write that only affects the record at hand,
// such as a constraint violation.  The run records it and moves on.
var ErrPersistence = errors.New("persistence error")

// ErrDatabaseUnavailable marks connection-level failures.  The run cannot
// make progress and must stop.
var ErrDatabaseUnavailable = errors.New("database unavailable")

// ErrNotFound is returned by reads that match no row.
var ErrNotFound = errors.New("not found")

// MySQL server error numbers that mean the server cannot serve us at all.
var unavailableCodes = map[uint16]bool{
	1040: true, // too many connections
	1045: true, // access denied
	1049: true, // unknown database
	1053: true, // server shutdown in progress
	1927: true, // connection killed
}

// Deadlock and lock wait timeout roll back the transaction and may simply be
// retried.
var retryableCodes = map[uint16]bool{
	1205: true,
	1213: true,
}

// classify marks err as ErrDatabaseUnavailable or ErrPersistence.  Context
// errors are passed through unmarked so cancellation stays recognisable.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDatabaseUnavailable) || errors.Is(err, ErrPersistence) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, op)
	}
	wrapped := errors.Wrap(err, op)
	if isUnavailable(err) {
		return errors.Mark(wrapped, ErrDatabaseUnavailable)
	}
	return errors.Mark(wrapped, ErrPersistence)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return unavailableCodes[myErr.Number]
	}
	return false
}

func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && retryableCodes[myErr.Number]
}

// IsDuplicate reports a unique key violation.
func IsDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
