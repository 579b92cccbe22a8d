package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pierre/internal/config"
	"pierre/internal/notifier"
	"pierre/internal/notifier/process"
	"pierre/internal/notifier/slack"
	"pierre/internal/notifier/telegram"
	"pierre/internal/notifier/webhook"
	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
	logx "pierre/pkg/logx"
)

type prNotifier = pipeline.Notifier[pullrequest.PullRequest]

// buildNotifier builds every configured channel, fans out when more than one
// is listed and applies the rate limit. The returned closer stops channels
// that own resources (the process notifier's child).
func buildNotifier(ctx context.Context, cfg *config.Config, log logx.Logger) (prNotifier, func() error, error) {
	nc := cfg.Notifier
	var (
		targets []notifier.Target[pullrequest.PullRequest]
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	for _, kind := range config.Kinds(nc.Kind) {
		nlog := log.With(logx.String("notifier", kind))
		n, closer, err := buildOne(ctx, kind, cfg, nlog)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("notifier %s: %w", kind, err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		targets = append(targets, notifier.Target[pullrequest.PullRequest]{Name: kind, Notifier: n})
	}

	var out prNotifier = targets[0].Notifier
	if len(targets) > 1 {
		f, err := notifier.NewFanout(targets...)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		out = f
	}
	return notifier.Limit(out, nc.RatePerSec), closeAll, nil
}

func buildOne(ctx context.Context, kind string, cfg *config.Config, log logx.Logger) (prNotifier, func() error, error) {
	nc := cfg.Notifier
	switch kind {
	case "discard":
		return notifier.NewDiscard[pullrequest.PullRequest](log), nil, nil

	case "slack":
		if nc.Slack == nil {
			return nil, nil, errors.New("notifier.slack is required")
		}
		n, err := slack.New(slack.Config{
			Token:            nc.Slack.Token,
			Channel:          nc.Slack.Channel,
			Users:            cfg.Users,
			RequireReviewers: nc.Slack.RequireReviewers,
			Username:         nc.Slack.Username,
			APIURL:           nc.Slack.APIURL,
		}, log)
		return n, nil, err

	case "telegram":
		tc := nc.Telegram
		if tc == nil {
			return nil, nil, errors.New("notifier.telegram is required")
		}
		timeout, err := config.ParseDurationOrDefault("notifier.telegram.timeout", tc.Timeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		n, err := telegram.New(telegram.Config{
			Token:          tc.Token,
			ChatID:         tc.ChatID,
			ThreadID:       tc.ThreadID,
			Users:          cfg.Users,
			DisablePreview: tc.DisablePreview,
			APIURL:         tc.APIURL,
			Timeout:        timeout,
		}, log)
		return n, nil, err

	case "webhook":
		wc := nc.Webhook
		if wc == nil {
			return nil, nil, errors.New("notifier.webhook is required")
		}
		timeout, err := config.ParseDurationOrDefault("notifier.webhook.timeout", wc.Timeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		n, err := webhook.New[pullrequest.PullRequest](webhook.Config{URL: wc.URL, Headers: wc.Headers, Timeout: timeout}, log)
		return n, nil, err

	case "process":
		pc := nc.Process
		if pc == nil {
			return nil, nil, errors.New("notifier.process is required")
		}
		stop, err := config.ParseDurationField("notifier.process.stop_timeout", pc.StopTimeout)
		if err != nil {
			return nil, nil, err
		}
		n, err := process.Start[pullrequest.PullRequest](ctx, process.Config{
			Command:     pc.Command,
			Args:        pc.Args,
			Env:         pc.Env,
			StopTimeout: stop,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown kind %q", kind)
}
