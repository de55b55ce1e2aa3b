// Package lookup resolves repeated string attributes (hostnames, watches,
// proxies, browser connections, error types) into stable surrogate integer
// ids, creating lookup rows on first sight. This is the deduplication core
// behind the normalized request log.
package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/watchlog/watchlog/internal/backend"
	"github.com/watchlog/watchlog/internal/schema"
)

// ErrLookupUnavailable means a surrogate id could not be read or created.
// The resolver never fabricates placeholder ids.
var ErrLookupUnavailable = errors.New("lookup unavailable")

// kindSpec describes one lookup table: where it lives, which columns form
// the natural key, and which extra columns are captured on first insert.
type kindSpec struct {
	table     string
	keyCols   []string
	extraCols []string
}

var (
	hostnameSpec = kindSpec{table: schema.TableHostnames, keyCols: []string{"hostname"}}
	watchSpec    = kindSpec{table: schema.TableWatches, keyCols: []string{"watch_uuid"}, extraCols: []string{"watch_url", "processor"}}
	proxySpec    = kindSpec{table: schema.TableProxyEndpoints, keyCols: []string{"proxy_key", "proxy_endpoint"}}
	browserSpec  = kindSpec{table: schema.TableBrowserConnections, keyCols: []string{"browser_connection_url", "fetch_backend"}}
	errTypeSpec  = kindSpec{table: schema.TableErrorTypes, keyCols: []string{"error_type"}}
)

// Resolver maps natural keys to surrogate ids with an in-process cache in
// front of the backend. Natural keys never change meaning once assigned an
// id, so cache entries live for the process lifetime and are never evicted.
type Resolver struct {
	pool  *backend.Pool
	cache *xsync.Map[string, int64]
}

// NewResolver creates a Resolver backed by the given pool.
func NewResolver(pool *backend.Pool) *Resolver {
	return &Resolver{
		pool:  pool,
		cache: xsync.NewMap[string, int64](),
	}
}

// Hostname resolves a server hostname string.
func (r *Resolver) Hostname(ctx context.Context, hostname string) (int64, error) {
	return r.resolve(ctx, hostnameSpec, []string{hostname}, nil)
}

// Watch resolves a watch by UUID. URL and processor are captured when the
// watch is first seen; they do not participate in the natural key.
func (r *Resolver) Watch(ctx context.Context, watchUUID, watchURL, processor string) (int64, error) {
	return r.resolve(ctx, watchSpec, []string{watchUUID}, []any{watchURL, processor})
}

// Proxy resolves a (proxy key, endpoint URL) tuple.
func (r *Resolver) Proxy(ctx context.Context, proxyKey, proxyEndpoint string) (int64, error) {
	return r.resolve(ctx, proxySpec, []string{proxyKey, proxyEndpoint}, nil)
}

// BrowserConnection resolves a (connection URL, fetch backend) tuple.
func (r *Resolver) BrowserConnection(ctx context.Context, connURL, fetchBackend string) (int64, error) {
	return r.resolve(ctx, browserSpec, []string{connURL, fetchBackend}, nil)
}

// ErrorType resolves an error category name.
func (r *Resolver) ErrorType(ctx context.Context, errorType string) (int64, error) {
	return r.resolve(ctx, errTypeSpec, []string{errorType}, nil)
}

func (r *Resolver) resolve(ctx context.Context, spec kindSpec, keyVals []string, extraVals []any) (int64, error) {
	ck := cacheKey(spec.table, keyVals)
	if id, ok := r.cache.Load(ck); ok {
		return id, nil
	}

	ctx, cancel := r.pool.Deadline(ctx)
	defer cancel()

	id, err := r.getOrCreate(ctx, spec, keyVals, extraVals)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %v: %v", ErrLookupUnavailable, spec.table, keyVals, backend.Classify(err))
	}
	r.cache.Store(ck, id)
	return id, nil
}

// getOrCreate is the atomic insert-ignoring-conflict-followed-by-read
// primitive. Two concurrent creations of the same natural key race on the
// backend's uniqueness constraint; the loser's insert is ignored and the
// re-read returns the winning row's id, so an identical key can never yield
// two distinct surrogate ids.
func (r *Resolver) getOrCreate(ctx context.Context, spec kindSpec, keyVals []string, extraVals []any) (int64, error) {
	id, err := r.selectID(ctx, spec, keyVals)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	cols := append(append([]string{}, spec.keyCols...), spec.extraCols...)
	cols = append(cols, "first_seen")
	args := make([]any, 0, len(cols))
	for _, v := range keyVals {
		args = append(args, v)
	}
	args = append(args, extraVals...)
	args = append(args, time.Now().UTC().Format("2006-01-02 15:04:05"))
	stmt := r.pool.Kind().InsertIgnoreSQL(spec.table, cols)
	if _, err := r.pool.DB().ExecContext(ctx, stmt, args...); err != nil {
		return 0, err
	}

	return r.selectID(ctx, spec, keyVals)
}

func (r *Resolver) selectID(ctx context.Context, spec kindSpec, keyVals []string) (int64, error) {
	kind := r.pool.Kind()
	conds := make([]string, len(spec.keyCols))
	args := make([]any, len(spec.keyCols))
	for i, col := range spec.keyCols {
		conds[i] = fmt.Sprintf("%s = %s", col, kind.Placeholder(i+1))
		args[i] = keyVals[i]
	}
	query := fmt.Sprintf("SELECT id FROM %s WHERE %s", spec.table, strings.Join(conds, " AND "))

	var id int64
	if err := r.pool.DB().QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// cacheKey joins the table name and key values with a separator that cannot
// appear in hostnames, UUIDs or URLs.
func cacheKey(table string, keyVals []string) string {
	return table + "\x1f" + strings.Join(keyVals, "\x1f")
}
