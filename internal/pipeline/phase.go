package pipeline

import "context"

// Phase is the step a running cycle is in.
type Phase string

const (
	PhaseRetrieving  Phase = "retrieving"
	PhaseDiffing     Phase = "diffing"
	PhaseDispatching Phase = "dispatching"
)

type phaseHookKey struct{}

// WithPhaseHook returns a context whose cycles call fn as they enter each
// phase. fn runs on the cycle's goroutine and must not block.
func WithPhaseHook(ctx context.Context, fn func(Phase)) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, phaseHookKey{}, fn)
}

func enterPhase(ctx context.Context, p Phase) {
	if fn, ok := ctx.Value(phaseHookKey{}).(func(Phase)); ok {
		fn(p)
	}
}
