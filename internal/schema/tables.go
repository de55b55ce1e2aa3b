// Package schema declares the normalized table set and brings a backend's
// schema up to date at startup. All migration is additive: tables and
// columns are created when absent, never dropped or renamed.
package schema

import "github.com/watchlog/watchlog/internal/backend"

// Table names, shared with the lookup and recorder packages.
const (
	TableWatchRequests      = "watch_requests"
	TableHostnames          = "hostnames"
	TableWatches            = "watches"
	TableProxyEndpoints     = "proxy_endpoints"
	TableBrowserConnections = "browser_connections"
	TableErrorTypes         = "error_types"
)

// firstSeen is the creation timestamp carried by every lookup table, set by
// the resolver on insert. No DDL default: SQLite cannot ADD COLUMN with a
// non-constant default, which would break additive migration. Lookup rows
// are immutable after creation, so this is the only temporal column.
var firstSeen = backend.Column{Name: "first_seen", Type: backend.Timestamp}

// Tables returns the full declared table set: the fact table plus the five
// lookup tables it references.
func Tables() []backend.Table {
	return []backend.Table{
		{
			Name: TableHostnames,
			Columns: []backend.Column{
				{Name: "id", Type: backend.SmallAuto},
				{Name: "hostname", Type: backend.Varchar, Size: 255, NotNull: true},
				firstSeen,
			},
			Unique: [][]string{{"hostname"}},
		},
		{
			Name: TableWatches,
			Columns: []backend.Column{
				{Name: "id", Type: backend.IntAuto},
				{Name: "watch_uuid", Type: backend.Varchar, Size: 36, NotNull: true},
				{Name: "watch_url", Type: backend.Varchar, Size: 2048, NotNull: true},
				{Name: "processor", Type: backend.Varchar, Size: 64},
				firstSeen,
			},
			Unique: [][]string{{"watch_uuid"}},
		},
		{
			Name: TableProxyEndpoints,
			Columns: []backend.Column{
				{Name: "id", Type: backend.SmallAuto},
				{Name: "proxy_key", Type: backend.Varchar, Size: 128, NotNull: true, Default: "''"},
				{Name: "proxy_endpoint", Type: backend.Varchar, Size: 512, NotNull: true},
				firstSeen,
			},
			Unique: [][]string{{"proxy_key", "proxy_endpoint"}},
		},
		{
			Name: TableBrowserConnections,
			Columns: []backend.Column{
				{Name: "id", Type: backend.SmallAuto},
				{Name: "browser_connection_url", Type: backend.Varchar, Size: 512, NotNull: true},
				{Name: "fetch_backend", Type: backend.Varchar, Size: 64, NotNull: true, Default: "''"},
				firstSeen,
			},
			Unique: [][]string{{"browser_connection_url", "fetch_backend"}},
		},
		{
			Name: TableErrorTypes,
			Columns: []backend.Column{
				{Name: "id", Type: backend.SmallAuto},
				{Name: "error_type", Type: backend.Varchar, Size: 128, NotNull: true},
				firstSeen,
			},
			Unique: [][]string{{"error_type"}},
		},
		{
			Name: TableWatchRequests,
			Columns: []backend.Column{
				{Name: "id", Type: backend.BigAuto},
				{Name: "app_guid", Type: backend.Varchar, Size: 64, NotNull: true},
				{Name: "hostname_id", Type: backend.SmallInt, NotNull: true},
				{Name: "watch_id", Type: backend.Int, NotNull: true},
				{Name: "request_date", Type: backend.Date, NotNull: true},
				{Name: "request_ts_ms", Type: backend.BigInt, NotNull: true},
				{Name: "proxy_id", Type: backend.SmallInt},
				{Name: "browser_conn_id", Type: backend.SmallInt},
				{Name: "browser_steps", Type: backend.Blob},
				{Name: "browser_steps_count", Type: backend.SmallInt, NotNull: true, Default: "0"},
				{Name: "result", Type: backend.Varchar, Size: 32, NotNull: true},
				{Name: "duration_ms", Type: backend.Int},
				{Name: "content_length", Type: backend.Int},
				{Name: "status_code", Type: backend.SmallInt},
				{Name: "error_type_id", Type: backend.SmallInt},
				{Name: "error_message", Type: backend.Text},
			},
			ForeignKeys: []backend.ForeignKey{
				{Column: "hostname_id", RefTable: TableHostnames, RefColumn: "id"},
				{Column: "watch_id", RefTable: TableWatches, RefColumn: "id"},
				{Column: "proxy_id", RefTable: TableProxyEndpoints, RefColumn: "id"},
				{Column: "browser_conn_id", RefTable: TableBrowserConnections, RefColumn: "id"},
				{Column: "error_type_id", RefTable: TableErrorTypes, RefColumn: "id"},
			},
			Indexes: []backend.Index{
				{Name: "idx_requests_date_app", Columns: []string{"request_date", "app_guid"}},
				{Name: "idx_requests_watch_date", Columns: []string{"watch_id", "request_date"}},
				{Name: "idx_requests_hostname_date", Columns: []string{"hostname_id", "request_date"}},
				{Name: "idx_requests_result", Columns: []string{"result"}},
			},
		},
	}
}
