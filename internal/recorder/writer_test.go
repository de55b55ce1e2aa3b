package recorder

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/watchlog/watchlog/internal/backend"
	"github.com/watchlog/watchlog/internal/lookup"
	"github.com/watchlog/watchlog/internal/schema"
)

func newTestWriter(t *testing.T) (*Writer, *backend.Pool, *logtest.Hook) {
	t.Helper()
	ctx := context.Background()
	pool, err := backend.Open(ctx, backend.Config{
		Kind: backend.SQLite,
		Path: t.TempDir() + "/logs.db",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pool.Close() })
	if err := schema.Ensure(ctx, pool); err != nil {
		t.Fatal(err)
	}

	logger, hook := logtest.NewNullLogger()
	w := NewWriter(pool, lookup.NewResolver(pool), Options{
		AppGUID:  "test-guid",
		Hostname: "worker-1",
		Logger:   logger,
	})
	return w, pool, hook
}

func countRows(t *testing.T, pool *backend.Pool, table string) int {
	t.Helper()
	var n int
	if err := pool.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRecordThreeEventsOneWatch(t *testing.T) {
	w, pool, hook := newTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		w.Record(ctx, Event{
			WatchUUID:  "w1",
			WatchURL:   "https://example.com",
			Hostname:   "h1",
			DurationMS: 100 + i,
			StatusCode: 200,
			Result:     ResultSuccess,
		})
	}

	if len(hook.Entries) != 0 {
		t.Fatalf("unexpected log entries: %v", hook.Entries)
	}
	if n := countRows(t, pool, schema.TableWatches); n != 1 {
		t.Fatalf("watches rows = %d, want 1", n)
	}
	if n := countRows(t, pool, schema.TableHostnames); n != 1 {
		t.Fatalf("hostnames rows = %d, want 1", n)
	}
	if n := countRows(t, pool, schema.TableWatchRequests); n != 3 {
		t.Fatalf("watch_requests rows = %d, want 3", n)
	}

	// All three fact rows share the same FK pair and carry no proxy/error.
	rows, err := pool.DB().Query(
		"SELECT hostname_id, watch_id, proxy_id IS NULL, error_type_id IS NULL FROM watch_requests")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var firstHost, firstWatch int64 = -1, -1
	for rows.Next() {
		var hostID, watchID int64
		var noProxy, noError bool
		if err := rows.Scan(&hostID, &watchID, &noProxy, &noError); err != nil {
			t.Fatal(err)
		}
		if firstHost == -1 {
			firstHost, firstWatch = hostID, watchID
		}
		if hostID != firstHost || watchID != firstWatch {
			t.Fatalf("fact rows reference different lookups: (%d,%d) vs (%d,%d)",
				hostID, watchID, firstHost, firstWatch)
		}
		if !noProxy || !noError {
			t.Fatal("proxy_id and error_type_id must be NULL when absent")
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestRecordSharedErrorType(t *testing.T) {
	w, pool, _ := newTestWriter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		w.Record(ctx, Event{
			WatchUUID: "w1",
			WatchURL:  "https://example.com",
			ErrorType: "timeout",
		})
	}

	if n := countRows(t, pool, schema.TableErrorTypes); n != 1 {
		t.Fatalf("error_types rows = %d, want 1", n)
	}
	var facts int
	err := pool.DB().QueryRow(
		"SELECT COUNT(*) FROM watch_requests r JOIN error_types e ON e.id = r.error_type_id WHERE e.error_type = 'timeout'").
		Scan(&facts)
	if err != nil {
		t.Fatal(err)
	}
	if facts != 2 {
		t.Fatalf("fact rows sharing error type = %d, want 2", facts)
	}
}

func TestRecordCardinalityBound(t *testing.T) {
	w, pool, _ := newTestWriter(t)
	ctx := context.Background()

	const m = 25
	for i := 0; i < m; i++ {
		w.Record(ctx, Event{WatchUUID: "w1", WatchURL: "https://example.com", Hostname: "h1"})
	}
	if n := countRows(t, pool, schema.TableHostnames); n != 1 {
		t.Fatalf("hostnames rows = %d, want 1", n)
	}
	if n := countRows(t, pool, schema.TableWatchRequests); n != m {
		t.Fatalf("watch_requests rows = %d, want %d", n, m)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	w, pool, hook := newTestWriter(t)
	ctx := context.Background()

	stepsJSON := []byte(`[{"operation":"click","selector":"#buy"}]`)
	ts := time.Date(2026, 8, 26, 11, 30, 45, 123e6, time.UTC)
	w.Record(ctx, Event{
		WatchUUID:            "9e3a7c52-1f2b-4d3c-8e51-6a0f9b8c7d6e",
		WatchURL:             "https://shop.example/item",
		Processor:            "text_json_diff",
		Hostname:             "worker-7",
		ProxyKey:             "europe-frankfurt",
		ProxyEndpoint:        "socks5://10.9.0.12:1080",
		BrowserConnectionURL: "ws://chrome:9222",
		FetchBackend:         "html_webdriver",
		Timestamp:            ts,
		DurationMS:           842,
		StatusCode:           503,
		ContentLength:        10231,
		BrowserSteps:         CompressSteps(stepsJSON),
		BrowserStepsCount:    1,
		ErrorType:            "ServerError",
		ErrorMessage:         "upstream returned 503",
	})
	if len(hook.Entries) != 0 {
		t.Fatalf("unexpected log entries: %v", hook.Entries)
	}

	var (
		hostname, watchUUID, watchURL, proxyKey, proxyEndpoint string
		browserURL, fetchBackend, errorType, result, reqDate   string
		errorMessage                                           string
		tsMS                                                   int64
		duration, status, contentLength, stepsCount            int
		steps                                                  []byte
	)
	err := pool.DB().QueryRow(`
		SELECT h.hostname, wa.watch_uuid, wa.watch_url,
		       p.proxy_key, p.proxy_endpoint,
		       b.browser_connection_url, b.fetch_backend,
		       e.error_type, r.error_message,
		       r.result, r.request_date, r.request_ts_ms,
		       r.duration_ms, r.status_code, r.content_length,
		       r.browser_steps, r.browser_steps_count
		FROM watch_requests r
		JOIN hostnames h ON h.id = r.hostname_id
		JOIN watches wa ON wa.id = r.watch_id
		JOIN proxy_endpoints p ON p.id = r.proxy_id
		JOIN browser_connections b ON b.id = r.browser_conn_id
		JOIN error_types e ON e.id = r.error_type_id`).
		Scan(&hostname, &watchUUID, &watchURL, &proxyKey, &proxyEndpoint,
			&browserURL, &fetchBackend, &errorType, &errorMessage,
			&result, &reqDate, &tsMS,
			&duration, &status, &contentLength, &steps, &stepsCount)
	if err != nil {
		t.Fatal(err)
	}

	if hostname != "worker-7" || watchUUID != "9e3a7c52-1f2b-4d3c-8e51-6a0f9b8c7d6e" ||
		watchURL != "https://shop.example/item" {
		t.Fatalf("identity round-trip failed: %q %q %q", hostname, watchUUID, watchURL)
	}
	if proxyKey != "europe-frankfurt" || proxyEndpoint != "socks5://10.9.0.12:1080" {
		t.Fatalf("proxy round-trip failed: %q %q", proxyKey, proxyEndpoint)
	}
	if browserURL != "ws://chrome:9222" || fetchBackend != "html_webdriver" {
		t.Fatalf("browser round-trip failed: %q %q", browserURL, fetchBackend)
	}
	if errorType != "ServerError" || errorMessage != "upstream returned 503" {
		t.Fatalf("error round-trip failed: %q %q", errorType, errorMessage)
	}
	if result != string(ResultFailed) {
		t.Fatalf("result = %q, want failed (derived from error type)", result)
	}
	if reqDate != "2026-08-26" {
		t.Fatalf("request_date = %q", reqDate)
	}
	if tsMS != ts.UnixMilli() {
		t.Fatalf("request_ts_ms = %d, want %d", tsMS, ts.UnixMilli())
	}
	if duration != 842 || status != 503 || contentLength != 10231 || stepsCount != 1 {
		t.Fatalf("scalars round-trip failed: %d %d %d %d", duration, status, contentLength, stepsCount)
	}
	raw, err := DecompressSteps(steps)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, stepsJSON) {
		t.Fatalf("steps payload round-trip failed: %q", raw)
	}
}

func TestRecordFailOpen(t *testing.T) {
	w, pool, hook := newTestWriter(t)
	pool.Close()

	// Must complete normally with the backend gone.
	w.Record(context.Background(), Event{
		WatchUUID: "w1",
		WatchURL:  "https://example.com",
	})

	if len(hook.Entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(hook.Entries))
	}
	entry := hook.LastEntry()
	if entry.Level != log.ErrorLevel {
		t.Fatalf("level = %s, want error", entry.Level)
	}
	if entry.Data["reason"] == nil || entry.Data["reason"] == "" {
		t.Fatal("entry missing failure reason")
	}
	if entry.Data["watch_uuid"] != "w1" {
		t.Fatalf("entry missing watch context: %v", entry.Data)
	}
}

func TestRecordTruncatesErrorMessage(t *testing.T) {
	w, pool, _ := newTestWriter(t)

	long := strings.Repeat("x", 5000)
	w.Record(context.Background(), Event{
		WatchUUID:    "w1",
		WatchURL:     "https://example.com",
		ErrorType:    "ReadTimeout",
		ErrorMessage: long,
	})

	var msg string
	if err := pool.DB().QueryRow("SELECT error_message FROM watch_requests").Scan(&msg); err != nil {
		t.Fatal(err)
	}
	if len(msg) != 1000 {
		t.Fatalf("stored error message length = %d, want 1000", len(msg))
	}
}

func TestCompressStepsRoundTrip(t *testing.T) {
	in := []byte(`[{"operation":"goto","url":"https://example.com"},{"operation":"click","selector":"#x"}]`)
	payload := CompressSteps(in)
	if payload == nil {
		t.Fatal("payload is nil")
	}
	out, err := DecompressSteps(payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("round trip mismatch: %q", out)
	}
	if CompressSteps(nil) != nil {
		t.Fatal("empty input must yield nil payload")
	}
}
