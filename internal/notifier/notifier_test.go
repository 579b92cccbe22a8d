package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"pierre/internal/pipeline"
	logx "pierre/pkg/logx"
)

func TestDiscardCounts(t *testing.T) {
	t.Parallel()
	d := NewDiscard[string](logx.Nop())
	for i := 0; i < 3; i++ {
		if err := d.Notify(context.Background(), "x"); err != nil {
			t.Fatalf("Notify error: %v", err)
		}
	}
	if d.Count() != 3 {
		t.Fatalf("Count = %d", d.Count())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Notify(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled Notify = %v", err)
	}
}

func TestLimitThrottles(t *testing.T) {
	t.Parallel()
	d := NewDiscard[int](logx.Nop())
	n := Limit[int](d, 20)

	start := time.Now()
	for i := 0; i < 25; i++ {
		if err := n.Notify(context.Background(), i); err != nil {
			t.Fatalf("Notify error: %v", err)
		}
	}
	// Burst of 20, then 5 more at 20/s.
	if el := time.Since(start); el < 200*time.Millisecond {
		t.Fatalf("25 deliveries took %v, want throttling", el)
	}
	if d.Count() != 25 {
		t.Fatalf("Count = %d", d.Count())
	}
}

func TestLimitHonorsContext(t *testing.T) {
	t.Parallel()
	n := Limit[int](NewDiscard[int](logx.Nop()), 1)
	if err := n.Notify(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := n.Notify(ctx, 2); err == nil {
		t.Fatal("expected rate limit wait to fail on short deadline")
	}
}

func TestLimitDisabled(t *testing.T) {
	t.Parallel()
	d := NewDiscard[int](logx.Nop())
	if got := Limit[int](d, 0); got != pipeline.Notifier[int](d) {
		t.Fatal("Limit(0) should return the inner notifier")
	}
}

func TestFanoutAttemptsAll(t *testing.T) {
	t.Parallel()
	var calls []string
	mk := func(name string, err error) Target[int] {
		return Target[int]{Name: name, Notifier: pipeline.NotifierFunc[int](func(ctx context.Context, _ int) error {
			calls = append(calls, name)
			return err
		})}
	}
	boom := errors.New("boom")
	f, err := NewFanout(mk("a", nil), mk("b", boom), mk("c", nil))
	if err != nil {
		t.Fatal(err)
	}
	err = f.Notify(context.Background(), 1)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %v", calls)
	}
}

func TestFanoutValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewFanout[int](); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("empty fanout error = %v", err)
	}
	if _, err := NewFanout(Target[int]{Name: "nil"}); err == nil {
		t.Fatal("nil target accepted")
	}
}
