package backend

import (
	"context"
	"database/sql"
	"errors"
)

// Error taxonomy for the logging path. Callers only ever need to tell
// "the backend is gone" from "the pool is saturated" from "the schema is
// wrong"; finer driver-level detail is deliberately collapsed.
var (
	// ErrBackendUnavailable covers connection, authentication and transport
	// failures. It is never subdivided further at this layer.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrPoolExhausted means no connection became free within the acquire
	// timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrSchemaMismatch means the existing schema conflicts with the declared
	// one in a way additive migration cannot reconcile.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// Classify maps a raw database error into the backend error taxonomy.
// sql.ErrNoRows is passed through untouched so callers can keep using
// errors.Is on it. A deadline hit is reported as pool exhaustion: the only
// deadline on the hot path is the bounded connection checkout + round-trip.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrPoolExhausted
	default:
		return ErrBackendUnavailable
	}
}
