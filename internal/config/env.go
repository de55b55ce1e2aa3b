// Package config handles configuration loading for the request logging
// engine. Settings come from LOGGER_* environment variables, optionally
// seeded from a YAML file (env always wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/watchlog/watchlog/internal/backend"
)

// Config holds all recognized settings.
type Config struct {
	// Backend selects the engine: mysql, postgresql or sqlite.
	Backend string `yaml:"backend"`

	MySQL    NetBackend `yaml:"mysql"`
	Postgres NetBackend `yaml:"postgresql"`

	SQLitePath string `yaml:"sqlite_path"`

	PoolSize  int      `yaml:"pool_size"`
	OpTimeout Duration `yaml:"op_timeout"`

	// Hostname overrides the process hostname stamped on events.
	Hostname string `yaml:"hostname"`
	// AppGUID identifies this application instance; generated when empty.
	AppGUID string `yaml:"app_guid"`
}

// NetBackend holds connection parameters for a network engine.
type NetBackend struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

func defaults() Config {
	return Config{
		Backend:    "mysql",
		MySQL:      NetBackend{Host: "localhost", Port: 3306, User: "changedetection", Database: "changedetection_logs"},
		Postgres:   NetBackend{Host: "localhost", Port: 5432, User: "changedetection", Database: "changedetection_logs"},
		SQLitePath: "/tmp/changedetection_logs.db",
		PoolSize:   5,
		OpTimeout:  Duration(5 * time.Second),
	}
}

// Load builds the effective configuration: defaults, then the optional YAML
// file named by LOGGER_CONFIG_FILE, then environment variables. Returns an
// error listing every invalid or missing value.
func Load() (*Config, error) {
	cfg := defaults()
	var errs []string

	if path := os.Getenv("LOGGER_CONFIG_FILE"); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.Backend = strings.ToLower(envStr("LOGGER_DB_TYPE", cfg.Backend))

	cfg.MySQL.Host = envStr("LOGGER_MYSQL_HOST", cfg.MySQL.Host)
	cfg.MySQL.Port = envInt("LOGGER_MYSQL_PORT", cfg.MySQL.Port, &errs)
	cfg.MySQL.User = envStr("LOGGER_MYSQL_USER", cfg.MySQL.User)
	cfg.MySQL.Password = envStr("LOGGER_MYSQL_PASSWORD", cfg.MySQL.Password)
	cfg.MySQL.Database = envStr("LOGGER_MYSQL_DATABASE", cfg.MySQL.Database)

	cfg.Postgres.Host = envStr("LOGGER_POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = envInt("LOGGER_POSTGRES_PORT", cfg.Postgres.Port, &errs)
	cfg.Postgres.User = envStr("LOGGER_POSTGRES_USER", cfg.Postgres.User)
	cfg.Postgres.Password = envStr("LOGGER_POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.Database = envStr("LOGGER_POSTGRES_DB", cfg.Postgres.Database)

	cfg.SQLitePath = envStr("LOGGER_SQLITE_PATH", cfg.SQLitePath)

	cfg.PoolSize = envInt("LOGGER_DB_POOL_SIZE", cfg.PoolSize, &errs)
	cfg.OpTimeout = Duration(envDuration("LOGGER_DB_OP_TIMEOUT", cfg.OpTimeout.Std(), &errs))

	cfg.Hostname = envStr("LOGGER_HOSTNAME", cfg.Hostname)
	if cfg.Hostname == "" {
		cfg.Hostname = envStr("HOSTNAME", "")
	}
	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		} else {
			cfg.Hostname = "unknown"
		}
	}

	cfg.AppGUID = envStr("LOGGER_APP_GUID", cfg.AppGUID)
	if cfg.AppGUID == "" {
		cfg.AppGUID = uuid.NewString()
	}

	validate(&cfg, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return &cfg, nil
}

func validate(cfg *Config, errs *[]string) {
	kind, err := backend.ParseKind(cfg.Backend)
	if err != nil {
		*errs = append(*errs, err.Error())
		return
	}
	if cfg.PoolSize <= 0 {
		*errs = append(*errs, fmt.Sprintf("LOGGER_DB_POOL_SIZE: must be positive, got %d", cfg.PoolSize))
	}
	switch kind {
	case backend.MySQL:
		if cfg.MySQL.Password == "" {
			*errs = append(*errs, "LOGGER_MYSQL_PASSWORD: required for LOGGER_DB_TYPE=mysql")
		}
		validatePort("LOGGER_MYSQL_PORT", cfg.MySQL.Port, errs)
	case backend.PostgreSQL:
		if cfg.Postgres.Password == "" {
			*errs = append(*errs, "LOGGER_POSTGRES_PASSWORD: required for LOGGER_DB_TYPE=postgresql")
		}
		validatePort("LOGGER_POSTGRES_PORT", cfg.Postgres.Port, errs)
	case backend.SQLite:
		if cfg.SQLitePath == "" {
			*errs = append(*errs, "LOGGER_SQLITE_PATH: required for LOGGER_DB_TYPE=sqlite")
		}
	}
}

// BackendConfig maps the effective configuration onto the engine adapter.
func (c *Config) BackendConfig() backend.Config {
	kind, _ := backend.ParseKind(c.Backend)
	bc := backend.Config{
		Kind:           kind,
		Path:           c.SQLitePath,
		PoolSize:       c.PoolSize,
		AcquireTimeout: c.OpTimeout.Std(),
	}
	switch kind {
	case backend.MySQL:
		bc.Host, bc.Port = c.MySQL.Host, c.MySQL.Port
		bc.User, bc.Password = c.MySQL.User, c.MySQL.Password
		bc.Database = c.MySQL.Database
	case backend.PostgreSQL:
		bc.Host, bc.Port = c.Postgres.Host, c.Postgres.Port
		bc.User, bc.Password = c.Postgres.User, c.Postgres.Password
		bc.Database = c.Postgres.Database
	}
	return bc
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}
