package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "pierre/pkg/logx"
)

type payload struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

func TestNotifyPostsJSON(t *testing.T) {
	t.Parallel()
	got := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("method=%s content-type=%s", r.Method, r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("missing custom header")
		}
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := New[payload](Config{URL: srv.URL + "/hook", Headers: map[string]string{"X-Token": "abc"}}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(context.Background(), payload{ID: 5, Title: "t"}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if p := <-got; p.ID != 5 || p.Title != "t" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestNotifyStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n, _ := New[payload](Config{URL: srv.URL}, logx.Nop())
	err := n.Notify(context.Background(), payload{ID: 1})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Body != "nope" {
		t.Fatalf("error = %v", err)
	}
}

func TestNewValidatesURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "ftp://x", "localhost:8080", "http://"} {
		if _, err := New[payload](Config{URL: raw}, logx.Nop()); err == nil {
			t.Fatalf("New(%q) accepted", raw)
		}
	}
}
