package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"pierre/internal/pipeline"
	logx "pierre/pkg/logx"
)

var ErrNoTargets = errors.New("notifier: no targets")

// Discard accepts every record without delivering it. It logs the record
// at debug level and counts deliveries.
type Discard[T any] struct {
	log logx.Logger
	n   atomic.Uint64
}

func NewDiscard[T any](log logx.Logger) *Discard[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Discard[T]{log: log}
}

func (d *Discard[T]) Notify(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.n.Add(1)
	d.log.Debug("record discarded", logx.Any("record", item))
	return nil
}

// Count returns the number of accepted records.
func (d *Discard[T]) Count() uint64 { return d.n.Load() }

// Limited throttles an inner notifier with a token bucket.
type Limited[T any] struct {
	next    pipeline.Notifier[T]
	limiter *rate.Limiter
}

// Limit wraps next so that at most perSec deliveries start per second, with
// a burst of perSec. perSec <= 0 returns next unchanged.
func Limit[T any](next pipeline.Notifier[T], perSec float64) pipeline.Notifier[T] {
	if perSec <= 0 {
		return next
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &Limited[T]{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *Limited[T]) Notify(ctx context.Context, item T) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: rate limit: %w", err)
	}
	return l.next.Notify(ctx, item)
}

// Target is a named notifier inside a Fanout.
type Target[T any] struct {
	Name     string
	Notifier pipeline.Notifier[T]
}

// Fanout delivers a record to every target in order. It attempts all
// targets and fails if any of them failed, joining the errors.
type Fanout[T any] struct {
	targets []Target[T]
}

func NewFanout[T any](targets ...Target[T]) (*Fanout[T], error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	for i, t := range targets {
		if t.Notifier == nil {
			return nil, fmt.Errorf("notifier: target %d (%s) is nil", i, t.Name)
		}
	}
	return &Fanout[T]{targets: targets}, nil
}

func (f *Fanout[T]) Notify(ctx context.Context, item T) error {
	var errs []error
	for _, t := range f.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := t.Notifier.Notify(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
