// Package pullrequest is the record type the poller dispatches: a pull
// request as seen on the Stash server, plus its storage mappings.
package pullrequest

import (
	"fmt"
	"strings"
	"time"

	"pierre/internal/pipeline"
)

type Author struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Link        string `json:"link,omitempty"`
}

type PullRequest struct {
	ID          int64     `json:"id"`
	Project     string    `json:"project"`
	Repo        string    `json:"repo"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	State       string    `json:"state,omitempty"`
	Author      Author    `json:"author"`
	Reviewers   []string  `json:"reviewers,omitempty"`
	Link        string    `json:"link,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`

	// ProcessedAt is set when the record is reserved in a store.
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

// Key identifies a pull request across retrievals. Project and Repo are
// case-normalized the same way Scope renders them.
type Key struct {
	ID      int64  `json:"id"`
	Project string `json:"project"`
	Repo    string `json:"repo"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Project, k.Repo, k.ID)
}

func (k Key) Scope() pipeline.Scope { return pipeline.Scope{Project: k.Project, Repo: k.Repo} }

func (p PullRequest) Key() Key {
	return Key{
		ID:      p.ID,
		Project: strings.ToUpper(strings.TrimSpace(p.Project)),
		Repo:    strings.ToLower(strings.TrimSpace(p.Repo)),
	}
}

func (p PullRequest) Scope() pipeline.Scope {
	return pipeline.Scope{Project: p.Project, Repo: p.Repo}
}
