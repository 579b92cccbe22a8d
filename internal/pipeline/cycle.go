package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pierre/internal/eventbus"
	"pierre/internal/storage"
	logx "pierre/pkg/logx"
)

const defaultCompensateTimeout = 10 * time.Second

// Cycle runs poll cycles for one scope. A Cycle value must not be run
// concurrently with itself; separate scopes use separate Cycles.
type Cycle[T storage.Keyed[K], K comparable] struct {
	Scope     Scope
	Retriever Retriever[T]
	Store     storage.Store[T, K]
	Notifier  Notifier[T]

	// Optional.
	Overlay           *Overlay[K]
	Bus               eventbus.Bus
	Log               logx.Logger
	CompensateTimeout time.Duration
}

func (c *Cycle[T, K]) validate() error {
	switch {
	case c.Retriever == nil:
		return errors.New("pipeline: nil retriever")
	case c.Store == nil:
		return errors.New("pipeline: nil store")
	case c.Notifier == nil:
		return errors.New("pipeline: nil notifier")
	}
	return nil
}

func (c *Cycle[T, K]) publish(typ, key string, err error, data any) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish(eventbus.Event{Type: typ, Scope: c.Scope.String(), Key: key, Err: err, Data: data})
}

// Run executes one cycle.
//
// The returned error is non-nil only when the cycle aborted: retrieval or
// listing failed, or ctx was already done. Per-record failures never abort
// the cycle; they are collected in the Report.
func (c *Cycle[T, K]) Run(ctx context.Context) (rep Report, err error) {
	rep = Report{Scope: c.Scope.String(), StartedAt: time.Now()}
	defer func() { rep.Took = time.Since(rep.StartedAt) }()

	if err = c.validate(); err != nil {
		return rep, err
	}
	if err = ctx.Err(); err != nil {
		return rep, err
	}
	log := c.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("scope", rep.Scope))
	c.publish(EventCycleStarted, "", nil, nil)

	enterPhase(ctx, PhaseRetrieving)
	records, err := c.Retriever.Retrieve(ctx, c.Scope)
	if err != nil {
		err = &RetrievalError{Scope: c.Scope, Err: err}
		log.Warn("retrieve failed", logx.Err(err))
		c.publish(EventCycleAborted, "", err, nil)
		return rep, err
	}
	rep.Retrieved = len(records)

	enterPhase(ctx, PhaseDiffing)
	processed, err := c.Store.List(ctx)
	if err != nil {
		err = &StoreError{Op: "list", Err: err}
		log.Warn("list processed failed", logx.Err(err))
		c.publish(EventCycleAborted, "", err, nil)
		return rep, err
	}

	seen := make(map[K]struct{}, len(processed))
	for _, p := range processed {
		seen[p.Key()] = struct{}{}
	}
	c.Overlay.Prune()

	var unseen []T
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok || c.Overlay.Has(k) {
			continue
		}
		// A snapshot listing the same key twice is dispatched once.
		seen[k] = struct{}{}
		unseen = append(unseen, r)
	}
	rep.Unseen = len(unseen)

	enterPhase(ctx, PhaseDispatching)
	for _, r := range unseen {
		if ctx.Err() != nil {
			rep.Interrupted = true
			break
		}
		c.dispatch(ctx, log, r, &rep)
	}

	if rep.Unseen > 0 || rep.Failed > 0 {
		log.Info("cycle done",
			logx.Int("retrieved", rep.Retrieved),
			logx.Int("unseen", rep.Unseen),
			logx.Int("notified", rep.Notified),
			logx.Int("skipped", rep.Skipped),
			logx.Int("failed", rep.Failed),
		)
	} else {
		log.Debug("cycle done", logx.Int("retrieved", rep.Retrieved))
	}
	c.publish(EventCycleFinished, "", rep.Err(), rep)
	return rep, nil
}

// dispatch reserves then notifies one record, compensating on failure.
func (c *Cycle[T, K]) dispatch(ctx context.Context, log logx.Logger, r T, rep *Report) {
	k := r.Key()
	ks := fmt.Sprint(k)

	if err := c.Store.Create(ctx, r); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			rep.Skipped++
			log.Debug("already reserved", logx.String("key", ks))
			c.publish(EventConflict, ks, nil, nil)
			return
		}
		serr := &StoreError{Op: "create", Key: ks, Err: err}
		rep.Failed++
		rep.Errors = append(rep.Errors, serr)
		log.Warn("reserve failed", logx.String("key", ks), logx.Err(err))
		c.publish(EventReserveFailed, ks, serr, nil)
		return
	}
	c.Overlay.Add(k)
	c.publish(EventReserved, ks, nil, nil)

	if err := c.Notifier.Notify(ctx, r); err != nil {
		nerr := &NotifyError{Key: ks, Err: err}
		rep.Failed++
		rep.Errors = append(rep.Errors, nerr)
		log.Warn("notify failed", logx.String("key", ks), logx.Err(err))
		c.publish(EventNotifyFailed, ks, nerr, nil)
		c.compensate(ctx, log, k, ks, rep)
		return
	}
	rep.Notified++
	c.publish(EventNotified, ks, nil, r)
}

// compensate deletes a reservation after a failed notify. It runs even when
// ctx was canceled during the notify, under its own timeout.
func (c *Cycle[T, K]) compensate(ctx context.Context, log logx.Logger, k K, ks string, rep *Report) {
	c.Overlay.Remove(k)

	timeout := c.CompensateTimeout
	if timeout <= 0 {
		timeout = defaultCompensateTimeout
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := c.Store.Delete(dctx, k); err != nil {
		serr := &StoreError{Op: "delete", Key: ks, Err: err}
		rep.Errors = append(rep.Errors, serr)
		log.Error("compensating delete failed; record stays reserved", logx.String("key", ks), logx.Err(err))
		c.publish(EventCompensateFailed, ks, serr, nil)
		return
	}
	c.publish(EventCompensated, ks, nil, nil)
}
