package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ColType is the engine-agnostic column type vocabulary. The schema package
// declares tables in these terms; rendering to dialect DDL happens here and
// nowhere else.
type ColType int

const (
	SmallAuto ColType = iota // small surrogate id, auto-increment primary key
	IntAuto
	BigAuto
	SmallInt
	Int
	BigInt
	Varchar // requires Size
	Text
	Blob
	Date
	Timestamp // wall-clock timestamp, defaults to now on insert
)

// Column declares a single column. Default, when set, must already be valid
// SQL for all three dialects (e.g. "0", "CURRENT_TIMESTAMP").
type Column struct {
	Name    string
	Type    ColType
	Size    int
	NotNull bool
	Default string
}

// Index declares a secondary index.
type Index struct {
	Name    string
	Columns []string
}

// ForeignKey declares a table-level reference. MySQL ignores column-level
// REFERENCES clauses, so references are always rendered at table level.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Table is a static, declarative table description consumed uniformly by the
// schema manager and this adapter. Unique lists natural-key uniqueness
// constraints (each entry one column tuple).
type Table struct {
	Name        string
	Columns     []Column
	Unique      [][]string
	ForeignKeys []ForeignKey
	Indexes     []Index
}

func (k Kind) columnType(c Column) string {
	switch c.Type {
	case SmallAuto, IntAuto, BigAuto:
		switch k {
		case MySQL:
			base := map[ColType]string{SmallAuto: "SMALLINT", IntAuto: "INT", BigAuto: "BIGINT"}[c.Type]
			return base + " NOT NULL AUTO_INCREMENT PRIMARY KEY"
		case PostgreSQL:
			return map[ColType]string{SmallAuto: "SMALLSERIAL", IntAuto: "SERIAL", BigAuto: "BIGSERIAL"}[c.Type] + " PRIMARY KEY"
		default:
			// SQLite rowid alias; AUTOINCREMENT guarantees ids are never reused.
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		}
	case SmallInt:
		if k == SQLite {
			return "INTEGER"
		}
		return "SMALLINT"
	case Int:
		if k == MySQL {
			return "INT"
		}
		return "INTEGER"
	case BigInt:
		if k == SQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case Varchar:
		if k == SQLite {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", c.Size)
	case Text:
		return "TEXT"
	case Blob:
		switch k {
		case MySQL:
			return "LONGBLOB"
		case PostgreSQL:
			return "BYTEA"
		default:
			return "BLOB"
		}
	case Date:
		if k == SQLite {
			return "TEXT" // ISO yyyy-mm-dd
		}
		return "DATE"
	case Timestamp:
		switch k {
		case PostgreSQL:
			return "TIMESTAMPTZ"
		default:
			return "TIMESTAMP"
		}
	}
	panic(fmt.Sprintf("unknown column type %d", c.Type))
}

func (k Kind) columnDDL(c Column) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte(' ')
	b.WriteString(k.columnType(c))
	switch c.Type {
	case SmallAuto, IntAuto, BigAuto:
		return b.String() // constraints are part of the type rendering
	}
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// CreateTableSQL renders an idempotent CREATE TABLE statement for the table
// declaration, including unique natural-key constraints.
func (k Kind) CreateTableSQL(t Table) string {
	parts := make([]string, 0, len(t.Columns)+len(t.Unique))
	for _, c := range t.Columns {
		parts = append(parts, "\t"+k.columnDDL(c))
	}
	for _, cols := range t.Unique {
		parts = append(parts, "\tUNIQUE ("+strings.Join(cols, ", ")+")")
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, fmt.Sprintf("\tFOREIGN KEY (%s) REFERENCES %s(%s)", fk.Column, fk.RefTable, fk.RefColumn))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.Name, strings.Join(parts, ",\n"))
}

// Placeholder returns the i-th (1-based) bind parameter for the dialect.
func (k Kind) Placeholder(i int) string {
	if k == PostgreSQL {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// Placeholders returns "?, ?, ..." (or "$1, $2, ...") for n parameters.
func (k Kind) Placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = k.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// InsertIgnoreSQL renders an insert into table that silently skips rows
// violating a uniqueness constraint. This is one half of the
// insert-ignoring-conflict-then-read primitive behind lookup creation.
func (k Kind) InsertIgnoreSQL(table string, columns []string) string {
	cols := strings.Join(columns, ", ")
	vals := k.Placeholders(len(columns))
	switch k {
	case MySQL:
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, vals)
	case PostgreSQL:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, cols, vals)
	default:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, cols, vals)
	}
}

// EnsureColumn adds the column to the table if it is absent. A no-op when
// the column already exists, so repeated startup migration is idempotent.
func (p *Pool) EnsureColumn(ctx context.Context, table string, col Column) error {
	exists, err := p.hasColumn(ctx, table, col.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, p.kind.columnDDL(col))
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate %s.%s: %w", table, col.Name, err)
	}
	return nil
}

func (p *Pool) hasColumn(ctx context.Context, table, column string) (bool, error) {
	switch p.kind {
	case MySQL:
		return p.scanExists(ctx,
			"SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? AND column_name = ?",
			table, column)
	case PostgreSQL:
		return p.scanExists(ctx,
			"SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2",
			table, column)
	default:
		return p.sqliteHasColumn(ctx, table, column)
	}
}

func (p *Pool) sqliteHasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			defaultV  sql.NullString
			primaryID int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryID); err != nil {
			return false, fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table_info(%s): %w", table, err)
	}
	return false, nil
}

// EnsureIndex creates the index if absent. MySQL lacks CREATE INDEX IF NOT
// EXISTS, so existence is probed through information_schema first.
func (p *Pool) EnsureIndex(ctx context.Context, table string, idx Index) error {
	cols := strings.Join(idx.Columns, ", ")
	if p.kind == MySQL {
		exists, err := p.scanExists(ctx,
			"SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?",
			table, idx.Name)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = p.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.Name, table, cols))
		return err
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.Name, table, cols))
	return err
}

func (p *Pool) scanExists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
