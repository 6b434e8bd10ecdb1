package database

import (
	"strconv"
	"strings"
	"time"
)

// Dialect identifies the SQL flavour behind a DB. Its value is also the
// migrations subdirectory for that flavour.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// sqliteTimeLayout is fixed-width so stored timestamps sort as text.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite3"
}

// Rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL and returns
// query unchanged otherwise. Queries never contain a literal '?'.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	parts := strings.Split(query, "?")
	if len(parts) == 1 {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 2*len(parts))
	b.WriteString(parts[0])
	for i, p := range parts[1:] {
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(p)
	}
	return b.String()
}

// TimeArg prepares t as a query argument: UTC at millisecond resolution,
// formatted as sortable text for SQLite and passed natively to PostgreSQL.
func TimeArg(d Dialect, t time.Time) any {
	t = t.UTC().Truncate(time.Millisecond)
	if d == DialectPostgres {
		return t
	}
	return t.Format(sqliteTimeLayout)
}
