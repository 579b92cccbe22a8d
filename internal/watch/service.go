package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"pierre/internal/runtime/supervisor"
	logx "pierre/pkg/logx"
)

// Service runs one watcher per scope under a supervisor. A panicking or
// failing watcher is restarted on its own; others keep running.
type Service struct {
	log logx.Logger

	mu       sync.Mutex
	watchers []*Watcher
	sup      *supervisor.Supervisor
}

func NewService(log logx.Logger, watchers ...*Watcher) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, watchers: watchers}
}

// Add registers a watcher. It must be called before Start.
func (s *Service) Add(w *Watcher) {
	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return errors.New("watch service already started")
	}
	if len(s.watchers) == 0 {
		return errors.New("watch service: no scopes to watch")
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	for _, w := range s.watchers {
		s.sup.GoRestart("watch."+w.Name(), w.Run,
			supervisor.WithRestartBackoff(time.Second, time.Minute),
		)
	}
	s.log.Info("watchers started", logx.Int("count", len(s.watchers)))
	return nil
}

// Stop cancels every watcher and waits for them to return or ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("watchers did not stop in time", logx.Err(err))
		return err
	}
	s.log.Info("watchers stopped")
	return nil
}

// Snapshot returns the status of every watcher in registration order.
func (s *Service) Snapshot() []Status {
	s.mu.Lock()
	watchers := append([]*Watcher(nil), s.watchers...)
	sup := s.sup
	s.mu.Unlock()

	byName := map[string]supervisor.TaskStats{}
	if sup != nil {
		for _, ts := range sup.Snapshot() {
			byName[ts.Name] = ts
		}
	}
	out := make([]Status, 0, len(watchers))
	for _, w := range watchers {
		st := w.Status()
		if ts, ok := byName["watch."+w.Name()]; ok {
			st.Restarts = ts.Restarts
			st.Panics = ts.Panics
		}
		out = append(out, st)
	}
	return out
}
