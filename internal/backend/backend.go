// Package backend abstracts the three supported SQL engines (MySQL,
// PostgreSQL, SQLite) behind a single pooled connection source plus a small
// set of dialect-sensitive primitives used by schema management and lookup
// resolution.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	_ "modernc.org/sqlite"             // pure-Go SQLite driver
)

// Kind selects one of the supported SQL engines.
type Kind string

const (
	MySQL      Kind = "mysql"
	PostgreSQL Kind = "postgresql"
	SQLite     Kind = "sqlite"
)

// ParseKind validates a backend selector string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case MySQL, PostgreSQL, SQLite:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unsupported backend %q (expected mysql, postgresql or sqlite)", s)
	}
}

func (k Kind) driverName() string {
	switch k {
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Config holds connection parameters for the selected engine.
// For SQLite only Path is used; the network fields apply to MySQL/PostgreSQL.
type Config struct {
	Kind     Kind
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Path     string // SQLite database file

	PoolSize       int
	AcquireTimeout time.Duration
}

const (
	defaultPoolSize       = 5
	defaultAcquireTimeout = 5 * time.Second
)

// DSN builds the driver-specific data source name.
func (c Config) DSN() string {
	switch c.Kind {
	case MySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case PostgreSQL:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	default:
		// Pragmas go through the DSN so every pooled connection gets them;
		// an Exec would only configure whichever connection served it.
		return c.Path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
}

// Pool is a bounded set of reusable connections shared by the lookup
// resolver and the event writer. database/sql supplies checkout, validation
// and recycling of broken connections; Pool adds the acquire deadline and
// the dialect handle.
type Pool struct {
	db             *sql.DB
	kind           Kind
	acquireTimeout time.Duration
}

// Open constructs a live pooled connection source for the configured engine
// and verifies connectivity once. Any failure is reported as
// ErrBackendUnavailable.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}

	db, err := sql.Open(cfg.Kind.driverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackendUnavailable, cfg.Kind, err)
	}

	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrBackendUnavailable, cfg.Kind, err)
	}

	return &Pool{db: db, kind: cfg.Kind, acquireTimeout: cfg.AcquireTimeout}, nil
}

// Kind returns the engine this pool talks to.
func (p *Pool) Kind() Kind { return p.kind }

// DB exposes the underlying handle for query execution.
func (p *Pool) DB() *sql.DB { return p.db }

// Deadline derives a context bounding connection checkout plus one backend
// round-trip. Saturation of the pool therefore surfaces as
// context.DeadlineExceeded, which Classify reports as ErrPoolExhausted.
func (p *Pool) Deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.acquireTimeout)
}

// Close releases all pooled connections.
func (p *Pool) Close() error {
	return p.db.Close()
}
