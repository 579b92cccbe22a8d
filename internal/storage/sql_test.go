package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"testing/fstest"

	logx "pierre/pkg/logx"
)

const testMigration = `-- +goose Up
CREATE TABLE items (
    id    BIGINT       NOT NULL,
    scope VARCHAR(120) NOT NULL,
    title TEXT         NOT NULL DEFAULT '',
    PRIMARY KEY (id, scope)
);

-- +goose Down
DROP TABLE items;
`

func testTable() Table[testItem, testKey] {
	return Table[testItem, testKey]{
		Name:       "items",
		Columns:    []string{"id", "scope", "title"},
		KeyColumns: []string{"id", "scope"},
		Values:     func(it testItem) []any { return []any{it.ID, it.Scope, it.Title} },
		KeyArgs:    func(k testKey) []any { return []any{k.ID, k.Scope} },
		Scan: func(sc Scanner) (testItem, error) {
			var it testItem
			err := sc.Scan(&it.ID, &it.Scope, &it.Title)
			return it, err
		},
		Migrations: fstest.MapFS{
			"00001_items.sql": &fstest.MapFile{Data: []byte(testMigration)},
		},
	}
}

func openTestSQLStore(t *testing.T) *SQLStore[testItem, testKey] {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQL(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "pierre.sqlite")}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenSQL error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLStore(db, testTable(), logx.Nop())
	if err != nil {
		t.Fatalf("NewSQLStore error: %v", err)
	}
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	return s
}

func TestSQLStoreCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLStore(t)

	it := testItem{ID: 42, Scope: "PRJ/repo", Title: "Add feature"}
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, ok, err := s.Find(ctx, it.Key())
	if err != nil || !ok {
		t.Fatalf("Find = ok:%v err:%v", ok, err)
	}
	if got != it {
		t.Fatalf("Find = %+v, want %+v", got, it)
	}

	// Same id in another scope is a different key.
	other := testItem{ID: 42, Scope: "PRJ/other"}
	if err := s.Create(ctx, other); err != nil {
		t.Fatalf("Create(other scope) error: %v", err)
	}

	items, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("List = %d items, want 2", len(items))
	}

	if err := s.Delete(ctx, it.Key()); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok, err := s.Find(ctx, it.Key()); err != nil || ok {
		t.Fatalf("Find after delete = ok:%v err:%v, want absent", ok, err)
	}
	if err := s.Delete(ctx, it.Key()); err != nil {
		t.Fatalf("Delete(absent) error: %v", err)
	}
}

func TestSQLStoreCreateConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLStore(t)

	it := testItem{ID: 1, Scope: "PRJ/repo"}
	if err := s.Create(ctx, it); err != nil {
		t.Fatal(err)
	}
	err := s.Create(ctx, testItem{ID: 1, Scope: "PRJ/repo", Title: "again"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second Create = %v, want ErrConflict", err)
	}
}

func TestSQLStoreInitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestSQLStore(t)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize error: %v", err)
	}
}

func TestSQLStoreConcurrentCreateSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestSQLStore(t)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Create(ctx, testItem{ID: 5, Scope: "PRJ/repo"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("Create error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, writers-1)
	}
}

func TestOpenSQLValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "sqlite without path", cfg: Config{Driver: "sqlite"}},
		{name: "postgres without dsn", cfg: Config{Driver: "postgres"}},
		{name: "unknown driver", cfg: Config{Driver: "oracle"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := OpenSQL(ctx, tc.cfg, logx.Nop()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDialectPlaceholders(t *testing.T) {
	t.Parallel()
	if got := DialectSQLite.Placeholder(3); got != "?" {
		t.Fatalf("sqlite placeholder = %q", got)
	}
	if got := DialectPostgres.Placeholder(3); got != "$3" {
		t.Fatalf("postgres placeholder = %q", got)
	}
}
