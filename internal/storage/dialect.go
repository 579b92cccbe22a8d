package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures the few places where SQLite and Postgres differ.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

// Placeholder returns the bind marker for the n-th argument (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) gooseDialect() goose.Dialect {
	if d == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// IsUniqueViolation reports whether err is a primary key or unique constraint
// failure in the given dialect.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	switch d {
	case DialectPostgres:
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == "23505"
	default:
		var se *sqlite.Error
		if errors.As(err, &se) {
			switch se.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return true
			}
			if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
				return strings.Contains(se.Error(), "UNIQUE")
			}
		}
		return false
	}
}
