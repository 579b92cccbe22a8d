// Package app wires configuration, storage, retrieval and delivery into one
// watcher per watched repository.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pierre/internal/config"
	"pierre/internal/eventbus"
	"pierre/internal/notifier"
	"pierre/internal/observability/status"
	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
	"pierre/internal/retriever/stash"
	"pierre/internal/runtime/supervisor"
	"pierre/internal/watch"
	logx "pierre/pkg/logx"
)

const (
	minOverlayTTL  = time.Minute
	overlayPeriods = 3
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log     logx.Logger
	logs    *logx.Service
	ownLogs bool
	bus     *eventbus.MemBus

	stores        *stores
	notifier      prNotifier
	closeNotifier func() error
	scopes        []pipeline.Scope
	watch         *watch.Service
	status        *status.Server

	mu        sync.Mutex
	sup       *supervisor.Supervisor
	closeOnce sync.Once
}

type Option func(*options)

type options struct {
	notifier  prNotifier
	retriever pipeline.Retriever[pullrequest.PullRequest]
	logs      *logx.Service
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n pipeline.Notifier[pullrequest.PullRequest]) Option {
	return func(o *options) { o.notifier = n }
}

// WithRetriever replaces the Stash retriever.
func WithRetriever(r pipeline.Retriever[pullrequest.PullRequest]) Option {
	return func(o *options) { o.retriever = r }
}

// WithLogging reuses an existing logging service instead of creating one
// from the config.
func WithLogging(s *logx.Service) Option {
	return func(o *options) { o.logs = s }
}

// Load reads the config at path and builds the app. The config file is
// watched once the app starts.
func Load(ctx context.Context, path string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(path, logx.NewConsole("INFO").With(logx.Comp("config")))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	cfgm.SetLogger(a.log.With(logx.Comp("config")))
	return a, nil
}

// New builds the app from an already loaded config. It opens and migrates
// storage, so a storage failure here is fatal.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if cfg.Status.Enabled {
		if err := statusConfig(cfg.Status).Check(); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
	}

	logs, own := o.logs, false
	var root logx.Logger
	if logs == nil {
		logs, root = logx.New(logConfig(cfg.Logging))
		own = true
	} else {
		root = logs.Logger()
	}
	log := root.With(logx.Comp("app"))

	a := &App{cfg: cfg, log: log, logs: logs, ownLogs: own, bus: eventbus.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeResources()
		}
	}()

	st, err := openStores(ctx, cfg.Storage, root.With(logx.Comp("storage")))
	if err != nil {
		return nil, err
	}
	a.stores = st

	scopes, err := a.resolveScopes(ctx)
	if err != nil {
		return nil, err
	}
	a.scopes = scopes

	retriever := o.retriever
	if retriever == nil {
		timeout, err := config.ParseDurationField("stash.timeout", cfg.Stash.Timeout)
		if err != nil {
			return nil, err
		}
		retriever, err = stash.New(stash.Config{
			BaseURL:   cfg.Stash.BaseURL,
			Username:  cfg.Stash.Username,
			Password:  cfg.Stash.Password,
			State:     strings.ToUpper(strings.TrimSpace(cfg.Stash.State)),
			PageLimit: cfg.Stash.PageLimit,
			Timeout:   timeout,
		}, root.With(logx.Comp("stash")))
		if err != nil {
			return nil, err
		}
	}

	if o.notifier != nil {
		a.notifier = notifier.Limit(o.notifier, cfg.Notifier.RatePerSec)
	} else {
		n, closer, err := buildNotifier(ctx, cfg, root.With(logx.Comp("notifier")))
		if err != nil {
			return nil, err
		}
		a.notifier, a.closeNotifier = n, closer
	}

	wopts, err := watchOptions(cfg.Poll)
	if err != nil {
		return nil, err
	}
	ttl := max(minOverlayTTL, overlayPeriods*wopts.Schedule.Nominal(time.Now()))

	wlog := root.With(logx.Comp("watch"))
	a.watch = watch.NewService(wlog)
	for _, scope := range scopes {
		cycle := &pipeline.Cycle[pullrequest.PullRequest, pullrequest.Key]{
			Scope:     scope,
			Retriever: retriever,
			Store:     st.forScope(scope),
			Notifier:  a.notifier,
			Overlay:   pipeline.NewOverlay[pullrequest.Key](ttl),
			Bus:       a.bus,
			Log:       root.With(logx.Comp("cycle")),
		}
		a.watch.Add(watch.NewWatcher(scope.String(), cycle, wopts, wlog))
	}

	log.Info("app configured",
		logx.String("storage", st.driver),
		logx.Strings("notifiers", config.Kinds(cfg.Notifier.Kind)),
		logx.String("schedule", wopts.Schedule.String()),
		logx.Int("scopes", len(scopes)),
	)
	ok = true
	return a, nil
}

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path, MaxBytes: c.File.MaxBytes},
	}
}

func statusConfig(c config.StatusConfig) status.Config {
	return status.Config{
		Addr:          c.Addr,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
	}
}

func watchOptions(pc config.PollConfig) (watch.Options, error) {
	loc := time.Local
	if tz := strings.TrimSpace(pc.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return watch.Options{}, fmt.Errorf("poll.timezone: %w", err)
		}
		loc = l
	}
	sched, err := watch.ParseSchedule(pc.Interval, loc)
	if err != nil {
		return watch.Options{}, fmt.Errorf("poll.interval: %w", err)
	}
	jitter, err := config.ParseDurationField("poll.jitter", pc.Jitter)
	if err != nil {
		return watch.Options{}, err
	}
	maxBackoff, err := config.ParseDurationField("poll.max_backoff", pc.MaxBackoff)
	if err != nil {
		return watch.Options{}, err
	}
	cycleTimeout, err := config.ParseDurationField("poll.cycle_timeout", pc.CycleTimeout)
	if err != nil {
		return watch.Options{}, err
	}
	return watch.Options{Schedule: sched, Jitter: jitter, MaxBackoff: maxBackoff, CycleTimeout: cycleTimeout}, nil
}

// resolveScopes merges configured projects with the repo_prefs table when
// the backend has one.
func (a *App) resolveScopes(ctx context.Context) ([]pipeline.Scope, error) {
	base := make([]pipeline.Scope, 0, len(a.cfg.Projects))
	for _, p := range a.cfg.Projects {
		base = append(base, pipeline.Scope{Project: p.ID, Repo: p.Repo})
	}
	var prefs []pullrequest.RepoPref
	if a.stores.prefs != nil {
		var err error
		prefs, err = a.stores.prefs.List(ctx)
		if err != nil {
			return nil, err
		}
	}
	scopes := pullrequest.MergeScopes(base, prefs)
	if len(scopes) == 0 {
		return nil, errors.New("no projects to watch: configure projects or add repo preferences")
	}
	return scopes, nil
}

// AddRepoPref stores a repository subscription. It needs a SQL backend; the
// new scope is watched from the next start.
func (a *App) AddRepoPref(ctx context.Context, p pullrequest.RepoPref) error {
	if a.stores == nil || a.stores.prefs == nil {
		return errors.New("repo preferences need the sqlite or postgres storage driver")
	}
	if err := a.stores.prefs.Add(ctx, p); err != nil {
		return err
	}
	a.log.Info("repo preference added",
		logx.String("audience", p.Audience),
		logx.String("scope", p.Scope().String()),
	)
	return nil
}

// Config returns the most recently applied config.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *App) Scopes() []pipeline.Scope { return append([]pipeline.Scope(nil), a.scopes...) }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

// Snapshot returns the status of every watcher.
func (a *App) Snapshot() []watch.Status { return a.watch.Snapshot() }

// Report is what the status endpoint serves.
type Report struct {
	Scopes        []watch.Status         `json:"scopes"`
	EventsDropped uint64                 `json:"events_dropped"`
	Tasks         []supervisor.TaskStats `json:"tasks,omitempty"`
}

func (a *App) Report() Report {
	r := Report{Scopes: a.Snapshot(), EventsDropped: a.bus.Dropped()}
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		r.Tasks = sup.Snapshot()
	}
	return r
}

// StatusAddr is the bound status endpoint address, or "" when it is off or
// not listening yet.
func (a *App) StatusAddr() string {
	a.mu.Lock()
	srv := a.status
	a.mu.Unlock()
	if srv == nil {
		return ""
	}
	return srv.Addr()
}

// Done is closed when the app context is canceled.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first error published by a background task.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.sup = sup
	cfg := a.cfg
	a.mu.Unlock()

	events, unsubscribe := a.bus.Subscribe(256)
	sup.Go("events", func(c context.Context) error {
		defer unsubscribe()
		logEvents(c, a.log.With(logx.Comp("events")), events)
		return nil
	})

	if a.cfgm != nil {
		updates := a.cfgm.Subscribe(1)
		sup.GoRestart("config.watch", a.cfgm.Watch)
		sup.Go("config.apply", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(updates)
			a.applyLoop(c, updates)
			return nil
		})
	}

	if cfg.Status.Enabled {
		srv := status.New(statusConfig(cfg.Status), func() any { return a.Report() }, a.log.With(logx.Comp("status")))
		a.mu.Lock()
		a.status = srv
		a.mu.Unlock()
		sup.GoRestart("status.http", srv.Run,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}

	if err := a.watch.Start(sup.Context()); err != nil {
		_ = sup.Stop(context.Background())
		return err
	}
	a.log.Info("app started", logx.Int("scopes", len(a.scopes)))
	return nil
}

// applyLoop applies logging changes live. Other changes are only logged.
func (a *App) applyLoop(ctx context.Context, updates <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.mu.Lock()
			old := a.cfg
			a.cfg = cfg
			a.mu.Unlock()

			change := config.Diff(old, cfg)
			if len(change.Sections) == 0 {
				continue
			}
			if old == nil || old.Logging != cfg.Logging {
				a.logs.Apply(logConfig(cfg.Logging))
			}
			fields := append([]logx.Field{logx.String("sections", strings.Join(change.Sections, ","))}, change.Fields...)
			if change.RestartRequired {
				a.log.Warn("config changed; restart required to apply", fields...)
			} else {
				a.log.Info("config applied", fields...)
			}
		}
	}
}
