package app

import (
	"context"

	"pierre/internal/eventbus"
	"pierre/internal/pipeline"
	logx "pierre/pkg/logx"
)

// logEvents writes pipeline events to the log until ctx is done or the
// subscription closes. Failures are warnings; everything else is debug.
func logEvents(ctx context.Context, log logx.Logger, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fields := []logx.Field{logx.String("event", ev.Type), logx.String("scope", ev.Scope)}
			if ev.Key != "" {
				fields = append(fields, logx.String("key", ev.Key))
			}
			if ev.Err != nil {
				fields = append(fields, logx.Err(ev.Err))
			}
			switch ev.Type {
			case pipeline.EventNotifyFailed, pipeline.EventCompensateFailed, pipeline.EventReserveFailed, pipeline.EventCycleAborted:
				log.Warn("pipeline event", fields...)
			default:
				log.Debug("pipeline event", fields...)
			}
		}
	}
}
