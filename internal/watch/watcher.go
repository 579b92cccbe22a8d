package watch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"pierre/internal/pipeline"
	logx "pierre/pkg/logx"
)

// Runner runs one poll cycle. *pipeline.Cycle satisfies it.
type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

type State string

// A cycle moves through the retrieving, diffing and dispatching states as
// the runner reports its phases. A runner that reports none stays in
// StateRetrieving until it returns.
const (
	StateIdle        State = "idle"
	StateRetrieving  State = State(pipeline.PhaseRetrieving)
	StateDiffing     State = State(pipeline.PhaseDiffing)
	StateDispatching State = State(pipeline.PhaseDispatching)
	StateSleeping    State = "sleeping"
	StateStopped     State = "stopped"
)

// Running reports whether a cycle is in flight.
func (s State) Running() bool {
	return s == StateRetrieving || s == StateDiffing || s == StateDispatching
}

type Options struct {
	Schedule Schedule

	// Jitter delays the first cycle by a random duration in [0, Jitter).
	Jitter time.Duration

	// MaxBackoff caps the delay after consecutive aborted cycles. Backoff is
	// off when it does not exceed the nominal interval.
	MaxBackoff time.Duration

	// CycleTimeout bounds one cycle. Zero means no bound.
	CycleTimeout time.Duration
}

// Status is a point-in-time view of a watcher.
type Status struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Schedule            string    `json:"schedule"`
	Cycles              uint64    `json:"cycles"`
	Aborted             uint64    `json:"aborted"`
	Notified            uint64    `json:"notified"`
	Failed              uint64    `json:"failed"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastStartAt         time.Time `json:"last_start_at"`
	LastDoneAt          time.Time `json:"last_done_at"`
	NextRunAt           time.Time `json:"next_run_at"`
	LastErr             string    `json:"last_err,omitempty"`

	// Filled in by Service from its supervisor.
	Restarts uint64 `json:"restarts"`
	Panics   uint64 `json:"panics"`
}

// Watcher runs cycles for one scope strictly one after another.
type Watcher struct {
	name   string
	runner Runner
	opts   Options
	log    logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	mu       sync.Mutex
	st       Status
	failures int
}

func NewWatcher(name string, runner Runner, opts Options, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Schedule.Kind == ScheduleInterval && opts.Schedule.Every <= 0 {
		opts.Schedule = Every(DefaultInterval)
	}
	return &Watcher{
		name:   name,
		runner: runner,
		opts:   opts,
		log:    log.With(logx.String("watch", name)),
		now:    time.Now,
		sleep:  sleepCtx,
		st:     Status{Name: name, State: StateIdle, Schedule: opts.Schedule.String()},
	}
}

func (w *Watcher) Name() string { return w.name }

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st
}

func (w *Watcher) setState(s State, next time.Time) {
	w.mu.Lock()
	w.st.State = s
	w.st.NextRunAt = next
	w.mu.Unlock()
}

// Run loops until ctx is done, then returns nil. Cancellation is observed
// before each cycle and while sleeping; a cycle in flight sees it through
// its own context.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.setState(StateStopped, time.Time{})

	if j := w.opts.Jitter; j > 0 {
		d := time.Duration(rand.Int64N(int64(j)))
		w.setState(StateSleeping, w.now().Add(d))
		if !w.sleep(ctx, d) {
			return nil
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.runOnce(ctx)

		d := w.nextDelay()
		w.setState(StateSleeping, w.now().Add(d))
		if !w.sleep(ctx, d) {
			return nil
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	start := w.now()
	w.mu.Lock()
	w.st.State = StateRetrieving
	w.st.LastStartAt = start
	w.st.NextRunAt = time.Time{}
	w.mu.Unlock()

	cctx := pipeline.WithPhaseHook(ctx, func(p pipeline.Phase) {
		w.mu.Lock()
		w.st.State = State(p)
		w.mu.Unlock()
	})
	if w.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, w.opts.CycleTimeout)
		defer cancel()
	}
	rep, err := w.runner.Run(cctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.st.Cycles++
	w.st.LastDoneAt = w.now()
	w.st.Notified += uint64(rep.Notified)
	w.st.Failed += uint64(rep.Failed)
	switch {
	case err != nil && ctx.Err() != nil:
		// Shutdown interrupted the cycle; not a failure of the scope.
	case err != nil:
		w.failures++
		w.st.Aborted++
		w.st.LastErr = err.Error()
	default:
		if w.failures > 0 {
			w.log.Info("cycle recovered", logx.Int("after_failures", w.failures))
		}
		w.failures = 0
		w.st.LastErr = ""
		if e := rep.Err(); e != nil {
			w.st.LastErr = e.Error()
		}
	}
	w.st.ConsecutiveFailures = w.failures
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		w.log.Warn("cycle timed out", logx.Duration("timeout", w.opts.CycleTimeout))
	}
}

// nextDelay applies capped exponential backoff after consecutive aborts.
func (w *Watcher) nextDelay() time.Duration {
	now := w.now()
	base := w.opts.Schedule.Delay(now)

	w.mu.Lock()
	n := w.failures
	w.mu.Unlock()

	nominal := w.opts.Schedule.Nominal(now)
	if n <= 1 || w.opts.MaxBackoff <= nominal {
		return base
	}
	d := nominal
	for i := 1; i < n && d < w.opts.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, w.opts.MaxBackoff)
	if j := int64(d) / 10; j > 0 {
		d += time.Duration(rand.Int64N(j))
	}
	w.log.Debug("backing off", logx.Int("failures", n), logx.Duration("delay", d))
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
