package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/watchlog/watchlog/internal/backend"
)

// Ensure creates every declared table if missing, then ensures every
// declared column and index exists. It runs once at startup, before any
// event is accepted, and is safe to re-run: each step is independently
// idempotent, so a migration interrupted mid-way resumes cleanly.
//
// An unreachable backend surfaces as ErrBackendUnavailable; any DDL the
// backend rejects while still reachable is a non-additive conflict and
// surfaces as ErrSchemaMismatch. Both are fatal to initialization.
func Ensure(ctx context.Context, pool *backend.Pool) error {
	for _, t := range Tables() {
		if _, err := pool.DB().ExecContext(ctx, pool.Kind().CreateTableSQL(t)); err != nil {
			return classifyDDL(ctx, pool, fmt.Errorf("create table %s: %w", t.Name, err))
		}
		for _, c := range t.Columns {
			if err := pool.EnsureColumn(ctx, t.Name, c); err != nil {
				return classifyDDL(ctx, pool, fmt.Errorf("ensure column %s.%s: %w", t.Name, c.Name, err))
			}
		}
		for _, idx := range t.Indexes {
			if err := pool.EnsureIndex(ctx, t.Name, idx); err != nil {
				return classifyDDL(ctx, pool, fmt.Errorf("ensure index %s on %s: %w", idx.Name, t.Name, err))
			}
		}
	}
	return nil
}

// classifyDDL decides whether a failed DDL step means the backend is gone or
// the existing schema conflicts with the declaration. A backend that still
// answers a ping rejected the statement itself.
func classifyDDL(ctx context.Context, pool *backend.Pool, err error) error {
	if errors.Is(err, backend.ErrBackendUnavailable) {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if pingErr := pool.DB().PingContext(pingCtx); pingErr != nil {
		return fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%w: %v", backend.ErrSchemaMismatch, err)
}
