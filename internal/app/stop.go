package app

import (
	"context"
	"fmt"
	"time"

	logx "pierre/pkg/logx"
)

// Stop cancels the watchers, waits for in-flight cycles, then closes the
// notifier and storage. Each step is bounded and never outlives ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		err := a.closeResources()
		if a.ownLogs {
			_ = a.logs.Close()
		}
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var firstErr error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				if firstErr == nil {
					firstErr = err
				}
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			if firstErr == nil {
				firstErr = stepCtx.Err()
			}
		}
	}

	step("watchers", 20*time.Second, a.watch.Stop)
	step("supervisor", 2*time.Second, sup.Stop)
	step("resources", 10*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.ownLogs {
		_ = a.logs.Close()
	}
	return firstErr
}

// closeResources closes the notifier then storage. It is safe to call twice.
func (a *App) closeResources() error {
	var first error
	a.closeOnce.Do(func() {
		if a.closeNotifier != nil {
			if err := a.closeNotifier(); err != nil {
				first = fmt.Errorf("close notifier: %w", err)
			}
		}
	})
	if err := a.stores.Close(); err != nil && first == nil {
		first = fmt.Errorf("close storage: %w", err)
	}
	return first
}
