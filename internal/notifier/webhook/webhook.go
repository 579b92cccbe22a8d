// Package webhook POSTs each record as JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "pierre/pkg/logx"
)

const userAgent = "pierre/1.0"

type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	HTTPClient *http.Client
}

// StatusError is a non-2xx response from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: HTTP %d: %s", e.Code, e.Body)
}

type Notifier[T any] struct {
	cfg Config
	hc  *http.Client
	log logx.Logger
}

func New[T any](cfg Config, log logx.Logger) (*Notifier[T], error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("notifier.webhook.url must be an http(s) url")
	}
	cfg.URL = u.String()
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier[T]{cfg: cfg, hc: hc, log: log}, nil
}

func (n *Notifier[T]) Notify(ctx context.Context, item T) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	rctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
