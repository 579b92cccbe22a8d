package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pierre/internal/app"
	"pierre/internal/pullrequest"
	logx "pierre/pkg/logx"
)

func main() {
	var (
		cfgPath string
		addPref string
		stopMax time.Duration
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.StringVar(&addPref, "add-repo", "", `store a repo preference "audience:PROJECT/repo" and exit (sql storage only)`)
	flag.DurationVar(&stopMax, "stop-timeout", 30*time.Second, "upper bound for graceful shutdown")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Load(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if addPref != "" {
		err := addRepoPref(ctx, a, addPref)
		_ = a.Stop(context.Background(), app.StopAppStop)
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.Logger().Debug("sd_notify ready failed", logx.Err(err))
	}

	<-ctx.Done()
	reason := app.StopSignal
	if err := a.Err(); err != nil {
		reason = app.StopFatalError
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopMax)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
}

// addRepoPref parses "audience:PROJECT/repo".
func addRepoPref(ctx context.Context, a *app.App, raw string) error {
	audience, scope, ok := strings.Cut(raw, ":")
	if !ok {
		return errors.New(`-add-repo: want "audience:PROJECT/repo"`)
	}
	project, repo, ok := strings.Cut(scope, "/")
	if !ok {
		return errors.New(`-add-repo: want "audience:PROJECT/repo"`)
	}
	return a.AddRepoPref(ctx, pullrequest.RepoPref{Audience: audience, Project: project, Repo: repo})
}
