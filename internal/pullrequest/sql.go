package pullrequest

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"pierre/internal/pipeline"
	"pierre/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the goose migrations for processed_prs and repo_prefs.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Table maps pull requests onto processed_prs.
func Table() storage.Table[PullRequest, Key] {
	return storage.Table[PullRequest, Key]{
		Name:       "processed_prs",
		Columns:    []string{"id", "project", "repo", "title", "link", "processed_at"},
		KeyColumns: []string{"id", "project", "repo"},
		Values: func(p PullRequest) []any {
			k := p.Key()
			at := p.ProcessedAt
			if at.IsZero() {
				at = time.Now()
			}
			return []any{k.ID, k.Project, k.Repo, p.Title, p.Link, at.UnixMilli()}
		},
		KeyArgs: func(k Key) []any { return []any{k.ID, k.Project, k.Repo} },
		Scan: func(sc storage.Scanner) (PullRequest, error) {
			var (
				p  PullRequest
				ms int64
			)
			if err := sc.Scan(&p.ID, &p.Project, &p.Repo, &p.Title, &p.Link, &ms); err != nil {
				return PullRequest{}, err
			}
			if ms > 0 {
				p.ProcessedAt = time.UnixMilli(ms)
			}
			return p, nil
		},
		Migrations: Migrations(),
	}
}

// RepoPref subscribes an audience (a chat channel or user) to a repository.
type RepoPref struct {
	Audience string
	Project  string
	Repo     string
}

func (p RepoPref) Scope() pipeline.Scope {
	return pipeline.Scope{Project: p.Project, Repo: p.Repo}
}

// RepoPrefs reads and writes the repo_prefs table. The table is created by
// the same migrations as processed_prs.
type RepoPrefs struct {
	db *storage.DB
}

func NewRepoPrefs(db *storage.DB) *RepoPrefs { return &RepoPrefs{db: db} }

func (r *RepoPrefs) List(ctx context.Context) ([]RepoPref, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT audience, project, repo FROM repo_prefs ORDER BY project, repo, audience")
	if err != nil {
		return nil, fmt.Errorf("list repo prefs: %w", err)
	}
	defer rows.Close()
	var out []RepoPref
	for rows.Next() {
		var p RepoPref
		if err := rows.Scan(&p.Audience, &p.Project, &p.Repo); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Add stores a preference. Adding an existing one is a no-op.
func (r *RepoPrefs) Add(ctx context.Context, p RepoPref) error {
	p.Audience = strings.TrimSpace(p.Audience)
	if p.Audience == "" || strings.TrimSpace(p.Project) == "" || strings.TrimSpace(p.Repo) == "" {
		return errors.New("repo pref: audience, project and repo are required")
	}
	d := r.db.Dialect
	q := fmt.Sprintf("INSERT INTO repo_prefs (audience, project, repo) VALUES (%s, %s, %s)",
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	_, err := r.db.ExecContext(ctx, q, p.Audience,
		strings.ToUpper(strings.TrimSpace(p.Project)), strings.ToLower(strings.TrimSpace(p.Repo)))
	if d.IsUniqueViolation(err) {
		return nil
	}
	return err
}

// MergeScopes returns base followed by every scope from prefs not already
// present, comparing by Scope.String.
func MergeScopes(base []pipeline.Scope, prefs []RepoPref) []pipeline.Scope {
	seen := make(map[string]bool, len(base)+len(prefs))
	out := make([]pipeline.Scope, 0, len(base)+len(prefs))
	add := func(s pipeline.Scope) {
		if s.IsZero() || seen[s.String()] {
			return
		}
		seen[s.String()] = true
		out = append(out, s)
	}
	for _, s := range base {
		add(s)
	}
	for _, p := range prefs {
		add(p.Scope())
	}
	return out
}
