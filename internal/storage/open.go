package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "pierre/pkg/logx"

	// Postgres driver ("pgx").
	_ "github.com/jackc/pgx/v5/stdlib"
	// SQLite driver ("sqlite").
	_ "modernc.org/sqlite"
)

// DB is an open SQL database together with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// OpenSQL opens the configured relational database and checks connectivity.
func OpenSQL(ctx context.Context, cfg Config, log logx.Logger) (*DB, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		dialect Dialect
		dsn     string
	)
	switch driver {
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errors.New("storage.path is required for sqlite")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dialect = DialectSQLite
		dsn = sqliteDSN(path, cfg.BusyTimeout)
	case "postgres", "postgresql", "pgx":
		dsn = strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, errors.New("storage.dsn is required for postgres")
		}
		dialect = DialectPostgres
	default:
		return nil, errors.New("unknown sql driver: " + driver)
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	log.Debug("sql database opened", logx.String("dialect", dialect.String()))
	return &DB{DB: db, Dialect: dialect}, nil
}

func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	values := url.Values{}
	values.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "foreign_keys(ON)")
	return fmt.Sprintf("file:%s?%s", path, values.Encode())
}
