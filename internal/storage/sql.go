package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"

	logx "pierre/pkg/logx"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Table describes how records of T map onto one relational table.
//
// Columns lists every column in insert order; KeyColumns is the subset
// forming the primary key, in the order KeyArgs returns values.
type Table[T Keyed[K], K comparable] struct {
	Name       string
	Columns    []string
	KeyColumns []string

	Values  func(T) []any
	KeyArgs func(K) []any
	Scan    func(Scanner) (T, error)

	// Migrations holds goose migration files at its root.
	Migrations fs.FS
}

// SQLStore is the relational backend. The table's primary key makes Create
// fail with ErrConflict for a key that is already stored.
type SQLStore[T Keyed[K], K comparable] struct {
	db    *DB
	table Table[T, K]
	log   logx.Logger

	selectAll string
	selectOne string
	insert    string
	remove    string
}

func NewSQLStore[T Keyed[K], K comparable](db *DB, table Table[T, K], log logx.Logger) (*SQLStore[T, K], error) {
	if db == nil || db.DB == nil {
		return nil, errors.New("sql store: nil database")
	}
	if table.Name == "" || len(table.Columns) == 0 || len(table.KeyColumns) == 0 {
		return nil, errors.New("sql store: incomplete table description")
	}
	if table.Values == nil || table.KeyArgs == nil || table.Scan == nil {
		return nil, errors.New("sql store: table codec functions are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &SQLStore[T, K]{db: db, table: table, log: log}
	s.buildQueries()
	return s, nil
}

func (s *SQLStore[T, K]) buildQueries() {
	d := s.db.Dialect
	cols := strings.Join(s.table.Columns, ", ")

	where := make([]string, len(s.table.KeyColumns))
	for i, c := range s.table.KeyColumns {
		where[i] = c + " = " + d.Placeholder(i+1)
	}
	cond := strings.Join(where, " AND ")

	marks := make([]string, len(s.table.Columns))
	for i := range s.table.Columns {
		marks[i] = d.Placeholder(i + 1)
	}

	s.selectAll = fmt.Sprintf("SELECT %s FROM %s", cols, s.table.Name)
	s.selectOne = fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", cols, s.table.Name, cond)
	s.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.table.Name, cols, strings.Join(marks, ", "))
	s.remove = fmt.Sprintf("DELETE FROM %s WHERE %s", s.table.Name, cond)
}

// Initialize applies pending migrations. It is idempotent.
func (s *SQLStore[T, K]) Initialize(ctx context.Context) error {
	if s.table.Migrations == nil {
		return errors.New("sql store: no migrations for table " + s.table.Name)
	}
	provider, err := goose.NewProvider(s.db.Dialect.gooseDialect(), s.db.DB, s.table.Migrations)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate %s: %w", s.table.Name, err)
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		s.log.Info("migration applied",
			logx.Int64("version", r.Source.Version),
			logx.Duration("took", r.Duration),
		)
	}
	return nil
}

func (s *SQLStore[T, K]) List(ctx context.Context) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, s.selectAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		it, err := s.table.Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore[T, K]) Find(ctx context.Context, key K) (T, bool, error) {
	var zero T
	it, err := s.table.Scan(s.db.QueryRowContext(ctx, s.selectOne, s.table.KeyArgs(key)...))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	return it, true, nil
}

func (s *SQLStore[T, K]) Create(ctx context.Context, item T) error {
	_, err := s.db.ExecContext(ctx, s.insert, s.table.Values(item)...)
	if s.db.Dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, item.Key())
	}
	return err
}

func (s *SQLStore[T, K]) Delete(ctx context.Context, key K) error {
	_, err := s.db.ExecContext(ctx, s.remove, s.table.KeyArgs(key)...)
	return err
}
