package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/watchlog/watchlog/internal/backend"
)

func newTestPool(t *testing.T) *backend.Pool {
	t.Helper()
	pool, err := backend.Open(context.Background(), backend.Config{
		Kind: backend.SQLite,
		Path: t.TempDir() + "/logs.db",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func tableNames(t *testing.T, pool *backend.Pool) map[string]bool {
	t.Helper()
	rows, err := pool.DB().Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	names := map[string]bool{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			t.Fatal(err)
		}
		names[n] = true
	}
	return names
}

func TestEnsureCreatesAllTables(t *testing.T) {
	pool := newTestPool(t)
	if err := Ensure(context.Background(), pool); err != nil {
		t.Fatal(err)
	}

	names := tableNames(t, pool)
	for _, want := range []string{
		TableWatchRequests, TableHostnames, TableWatches,
		TableProxyEndpoints, TableBrowserConnections, TableErrorTypes,
	} {
		if !names[want] {
			t.Errorf("table %s not created", want)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	if err := Ensure(ctx, pool); err != nil {
		t.Fatal(err)
	}
	before := tableNames(t, pool)

	// Second run against a current schema must be a clean no-op.
	if err := Ensure(ctx, pool); err != nil {
		t.Fatal(err)
	}
	after := tableNames(t, pool)
	if len(before) != len(after) {
		t.Fatalf("table set changed on re-run: %v -> %v", before, after)
	}
}

func TestEnsureMigratesOlderSchemaForward(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	// A watches table from an earlier version, before the processor column.
	older := `CREATE TABLE watches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		watch_uuid TEXT NOT NULL,
		watch_url TEXT NOT NULL,
		UNIQUE (watch_uuid)
	)`
	if _, err := pool.DB().ExecContext(ctx, older); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.DB().ExecContext(ctx,
		"INSERT INTO watches (watch_uuid, watch_url) VALUES ('w1', 'https://example.com')"); err != nil {
		t.Fatal(err)
	}

	if err := Ensure(ctx, pool); err != nil {
		t.Fatal(err)
	}

	// The new column exists and the pre-existing row survived.
	var processor any
	var url string
	err := pool.DB().QueryRowContext(ctx,
		"SELECT watch_url, processor FROM watches WHERE watch_uuid = 'w1'").Scan(&url, &processor)
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://example.com" {
		t.Fatalf("existing row altered: url = %q", url)
	}
}

func TestEnsureReportsSchemaMismatch(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	// A view squatting on a table name cannot be migrated additively.
	if _, err := pool.DB().ExecContext(ctx, "CREATE VIEW hostnames AS SELECT 1 AS id"); err != nil {
		t.Fatal(err)
	}

	err := Ensure(ctx, pool)
	if !errors.Is(err, backend.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEnsureReportsUnavailableBackend(t *testing.T) {
	pool := newTestPool(t)
	pool.Close()

	err := Ensure(context.Background(), pool)
	if !errors.Is(err, backend.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
