// Package stash retrieves open pull requests from a Bitbucket Server
// (formerly Stash) instance.
package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"

	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
	logx "pierre/pkg/logx"
)

const (
	userAgent        = "pierre/1.0"
	defaultPageLimit = 50
	defaultTimeout   = 30 * time.Second
	defaultMaxPages  = 100
)

type Config struct {
	BaseURL  string
	Username string
	Password string

	// State filters pull requests (OPEN, MERGED, DECLINED, ALL). Default OPEN.
	State     string
	PageLimit int
	MaxPages  int
	Timeout   time.Duration // per request

	HTTPClient *http.Client
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stash: %s: HTTP %d", e.URL, e.Code)
	}
	return fmt.Sprintf("stash: %s: HTTP %d: %s", e.URL, e.Code, e.Body)
}

// Client implements pipeline.Retriever for pull requests.
type Client struct {
	base *url.URL
	cfg  Config
	hc   *http.Client
	log  logx.Logger
}

var _ pipeline.Retriever[pullrequest.PullRequest] = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("stash.base_url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("stash.base_url: invalid url %q", cfg.BaseURL)
	}
	if cfg.State == "" {
		cfg.State = "OPEN"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{base: base, cfg: cfg, hc: hc, log: log}, nil
}

func (c *Client) endpoint(scope pipeline.Scope) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/rest/api/1.0/projects/%s/repos/%s/pull-requests",
		url.PathEscape(strings.ToUpper(strings.TrimSpace(scope.Project))),
		url.PathEscape(strings.ToLower(strings.TrimSpace(scope.Repo))))
	return u.String()
}

// Retrieve follows pagination until the last page and returns every pull
// request in server order.
func (c *Client) Retrieve(ctx context.Context, scope pipeline.Scope) ([]pullrequest.PullRequest, error) {
	endpoint := c.endpoint(scope)
	opts := listOptions{State: c.cfg.State, Limit: c.cfg.PageLimit}

	var out []pullrequest.PullRequest
	for n := 0; ; n++ {
		if n >= c.cfg.MaxPages {
			return nil, fmt.Errorf("stash: %s: more than %d pages", endpoint, c.cfg.MaxPages)
		}
		pg, err := c.fetch(ctx, endpoint, opts)
		if err != nil {
			return nil, err
		}
		for _, w := range pg.Values {
			out = append(out, toRecord(w, scope))
		}
		if pg.IsLastPage || pg.NextPageStart == nil || *pg.NextPageStart <= opts.Start {
			break
		}
		opts.Start = *pg.NextPageStart
	}
	c.log.Debug("pull requests retrieved", logx.String("scope", scope.String()), logx.Int("count", len(out)))
	return out, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, opts listOptions) (*page[pullRequest], error) {
	q, err := query.Values(opts)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, URL: endpoint, Body: strings.TrimSpace(string(b))}
	}

	var pg page[pullRequest]
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, fmt.Errorf("stash: decode %s: %w", endpoint, err)
	}
	return &pg, nil
}
