package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/watchlog/watchlog/internal/backend"
	"github.com/watchlog/watchlog/internal/lookup"
	"github.com/watchlog/watchlog/internal/schema"
)

// Writer turns accepted events into fact rows. Record never propagates a
// failure to the caller and never blocks past the configured operation
// timeout: logging is a side-channel of the monitoring pipeline, not a
// dependency of it.
type Writer struct {
	pool      *backend.Pool
	lookups   *lookup.Resolver
	appGUID   string
	hostname  string
	opTimeout time.Duration
	log       log.FieldLogger
}

// Options configures a Writer. Zero values select sane defaults.
type Options struct {
	// AppGUID identifies the producing application instance on every fact
	// row; a fresh UUID is generated when empty.
	AppGUID string
	// Hostname is the default process hostname stamped on events that carry
	// none.
	Hostname string
	// OpTimeout bounds one full Record call including lookup resolution.
	OpTimeout time.Duration
	// Logger receives fail-open error reports; defaults to the standard
	// logrus logger.
	Logger log.FieldLogger
}

const defaultOpTimeout = 5 * time.Second

// NewWriter creates a Writer over the given pool and resolver.
func NewWriter(pool *backend.Pool, lookups *lookup.Resolver, opts Options) *Writer {
	if opts.AppGUID == "" {
		opts.AppGUID = uuid.NewString()
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Writer{
		pool:      pool,
		lookups:   lookups,
		appGUID:   opts.AppGUID,
		hostname:  opts.Hostname,
		opTimeout: opts.OpTimeout,
		log:       opts.Logger,
	}
}

// Record logs one check event. It always returns normally: every failure in
// the logging path is classified, reported once at error severity with
// enough context to diagnose, and dropped.
func (w *Writer) Record(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithFields(log.Fields{
				"backend":    w.pool.Kind(),
				"watch_uuid": ev.WatchUUID,
				"panic":      fmt.Sprint(r),
			}).Error("request logging panicked; event dropped")
		}
	}()

	if err := w.write(ctx, ev); err != nil {
		w.log.WithFields(log.Fields{
			"backend":    w.pool.Kind(),
			"watch_uuid": ev.WatchUUID,
			"reason":     failureReason(err),
			"err":        truncate(err.Error(), 300),
		}).Error("request logging failed; event dropped")
	}
}

// write is the typed boundary function behind Record: it performs the full
// resolve-and-insert sequence and returns a classified error instead of
// unwinding past the Record boundary.
func (w *Writer) write(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, w.opTimeout)
	defer cancel()

	ev.normalize(w.hostname, time.Now().UTC())
	if u, err := uuid.Parse(ev.WatchUUID); err == nil {
		ev.WatchUUID = u.String()
	}

	hostnameID, err := w.lookups.Hostname(ctx, ev.Hostname)
	if err != nil {
		return fmt.Errorf("resolve hostname: %w", err)
	}
	watchID, err := w.lookups.Watch(ctx, ev.WatchUUID, ev.WatchURL, ev.Processor)
	if err != nil {
		return fmt.Errorf("resolve watch: %w", err)
	}

	var proxyID, browserConnID, errorTypeID any
	if ev.ProxyEndpoint != "" {
		id, err := w.lookups.Proxy(ctx, ev.ProxyKey, ev.ProxyEndpoint)
		if err != nil {
			return fmt.Errorf("resolve proxy: %w", err)
		}
		proxyID = id
	}
	if ev.BrowserConnectionURL != "" {
		id, err := w.lookups.BrowserConnection(ctx, ev.BrowserConnectionURL, ev.FetchBackend)
		if err != nil {
			return fmt.Errorf("resolve browser connection: %w", err)
		}
		browserConnID = id
	}
	if ev.ErrorType != "" {
		id, err := w.lookups.ErrorType(ctx, ev.ErrorType)
		if err != nil {
			return fmt.Errorf("resolve error type: %w", err)
		}
		errorTypeID = id
	}

	var errorMessage any
	if ev.ErrorMessage != "" {
		errorMessage = ev.ErrorMessage
	}
	var steps any
	if len(ev.BrowserSteps) > 0 {
		steps = ev.BrowserSteps
	}

	kind := w.pool.Kind()
	stmt := fmt.Sprintf(`INSERT INTO %s (
		app_guid, hostname_id, watch_id,
		request_date, request_ts_ms,
		proxy_id, browser_conn_id,
		browser_steps, browser_steps_count,
		result, duration_ms, content_length, status_code,
		error_type_id, error_message
	) VALUES (%s)`, schema.TableWatchRequests, kind.Placeholders(15))

	insertCtx, insertCancel := w.pool.Deadline(ctx)
	defer insertCancel()
	_, err = w.pool.DB().ExecContext(insertCtx, stmt,
		w.appGUID, hostnameID, watchID,
		ev.Timestamp.UTC().Format("2006-01-02"), ev.Timestamp.UnixMilli(),
		proxyID, browserConnID,
		steps, ev.BrowserStepsCount,
		string(ev.Result), ev.DurationMS, ev.ContentLength, ev.StatusCode,
		errorTypeID, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert fact row: %w", backend.Classify(err))
	}
	return nil
}

// failureReason collapses a wrapped error chain to its taxonomy bucket.
func failureReason(err error) string {
	switch {
	case errors.Is(err, lookup.ErrLookupUnavailable):
		return "lookup_unavailable"
	case errors.Is(err, backend.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, backend.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "write_failed"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
