// Package slack posts new pull requests to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/slack-go/slack"

	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
	logx "pierre/pkg/logx"
)

const (
	attachmentColor = "#00CC99"
	messageText     = "*New Pull Request!*"
	defaultUsername = "pierre"
)

type Config struct {
	Token   string
	Channel string

	// Users maps Stash user names to Slack handles.
	Users map[string]string

	// RequireReviewers skips posting when no reviewer maps to a Slack
	// handle. The record still counts as delivered.
	RequireReviewers bool

	Username string
	// APIURL overrides the Slack Web API base, mostly for tests.
	APIURL string
}

// Poster is the subset of the Slack client used here.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Notifier struct {
	cfg    Config
	poster Poster
	log    logx.Logger
	pick   func(n int) int
}

var _ pipeline.Notifier[pullrequest.PullRequest] = (*Notifier)(nil)

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notifier.slack.token is required")
	}
	var opts []slack.Option
	if cfg.APIURL != "" {
		u := cfg.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slack.OptionAPIURL(u))
	}
	return NewWithPoster(cfg, slack.New(cfg.Token, opts...), log)
}

func NewWithPoster(cfg Config, poster Poster, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, errors.New("notifier.slack.channel is required")
	}
	if poster == nil {
		return nil, errors.New("slack: nil poster")
	}
	if cfg.Username == "" {
		cfg.Username = defaultUsername
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{cfg: cfg, poster: poster, log: log, pick: rand.IntN}, nil
}

func (n *Notifier) Notify(ctx context.Context, pr pullrequest.PullRequest) error {
	handles := n.handles(pr.Reviewers)
	if len(handles) == 0 && n.cfg.RequireReviewers {
		n.log.Debug("no mapped reviewers, skipping post", logx.String("pr", pr.Key().String()))
		return nil
	}
	att := n.attachment(pr, handles)
	_, ts, err := n.poster.PostMessageContext(ctx, n.cfg.Channel,
		slack.MsgOptionText(messageText, false),
		slack.MsgOptionAttachments(att),
		slack.MsgOptionUsername(n.cfg.Username),
		slack.MsgOptionAsUser(true),
	)
	if err != nil {
		return fmt.Errorf("slack: post %s: %w", pr.Key(), err)
	}
	n.log.Debug("posted to slack", logx.String("pr", pr.Key().String()), logx.String("ts", ts))
	return nil
}

func (n *Notifier) handles(reviewers []string) []string {
	out := make([]string, 0, len(reviewers))
	for _, r := range reviewers {
		if h, ok := n.cfg.Users[r]; ok && h != "" {
			out = append(out, mention(h))
		}
	}
	return out
}

func mention(handle string) string {
	if strings.HasPrefix(handle, "<") || strings.HasPrefix(handle, "@") {
		return handle
	}
	return "<@" + handle + ">"
}

func (n *Notifier) attachment(pr pullrequest.PullRequest, handles []string) slack.Attachment {
	assigned := strings.Join(handles, ", ")
	if assigned == "" {
		assigned = strings.Join(pr.Reviewers, ", ")
	}
	att := slack.Attachment{
		Color:      attachmentColor,
		Fallback:   fmt.Sprintf("*New Pull Request!\n*%s*\nAssigned to: %s", pr.Title, assigned),
		Title:      pr.Title,
		TitleLink:  pr.Link,
		AuthorName: authorName(pr.Author),
		AuthorLink: pr.Author.Link,
		Text:       pr.Description,
		Fields: []slack.AttachmentField{
			{Title: "Reviewers", Value: assigned, Short: false},
		},
	}
	if len(handles) > 0 {
		att.Fields = append(att.Fields, slack.AttachmentField{
			Title: "Assigned Demo Reviewer",
			Value: handles[n.pick(len(handles))],
			Short: true,
		})
	}
	return att
}

func authorName(a pullrequest.Author) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}
