package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pierre/pkg/logx"
)

func TestHandlerServesSnapshot(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func() any { return map[string]int{"scopes": 3} }, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["scopes"] != 3 {
		t.Fatalf("body = %v", got)
	}
}

func TestHandlerAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Token: "tok"}, nil, logx.Nop())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "bearer", header: "Bearer tok", want: http.StatusOK},
		{name: "query", query: "?token=tok", want: http.StatusOK},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz"+tc.query, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	for _, enabled := range []bool{false, true} {
		srv := httptest.NewServer(New(Config{Pprof: enabled}, nil, logx.Nop()).Handler())
		resp, err := http.Get(srv.URL + "/debug/pprof/")
		srv.Close()
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		want := http.StatusNotFound
		if enabled {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			t.Fatalf("pprof=%v: status = %d, want %d", enabled, resp.StatusCode, want)
		}
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Run(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Run error = %v, want ErrInsecureBind", err)
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()
	ok := []Config{
		{},
		{Addr: "127.0.0.1:9000"},
		{Addr: ":9000", Token: "t"},
		{Addr: ":9000", AllowInsecure: true},
	}
	for _, c := range ok {
		if err := c.Check(); err != nil {
			t.Errorf("Check(%+v) = %v", c, err)
		}
	}
	if err := (Config{Addr: ":9000"}).Check(); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("Check open bind = %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatal("server never bound")
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if s.Addr() != "" {
		t.Fatal("Addr set after Run returned")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:80":  true,
		"localhost:80":  true,
		"[::1]:80":      true,
		"0.0.0.0:80":    false,
		":80":           false,
		"10.0.0.2:8089": false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
