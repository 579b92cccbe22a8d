// Package telegram posts new pull requests to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
	logx "pierre/pkg/logx"
)

// Telegram caps message text at 4096 characters.
const maxDescription = 1000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int

	// Users maps Stash user names to Telegram usernames (without @).
	Users map[string]string

	DisablePreview bool
	// APIURL overrides the Bot API base, mostly for tests.
	APIURL  string
	Timeout time.Duration
}

// Sender is the subset of *tele.Bot used here.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Notifier struct {
	cfg    Config
	sender Sender
	log    logx.Logger
}

var _ pipeline.Notifier[pullrequest.PullRequest] = (*Notifier)(nil)

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notifier.telegram.token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return NewWithSender(cfg, b, log)
}

func NewWithSender(cfg Config, sender Sender, log logx.Logger) (*Notifier, error) {
	if cfg.ChatID == 0 {
		return nil, errors.New("notifier.telegram.chat_id is required")
	}
	if sender == nil {
		return nil, errors.New("telegram: nil sender")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{cfg: cfg, sender: sender, log: log}, nil
}

// Notify sends one message. telebot has no context-aware send, so ctx is
// only checked before the call; the HTTP client timeout bounds the call.
func (n *Notifier) Notify(ctx context.Context, pr pullrequest.PullRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: n.cfg.DisablePreview,
		ThreadID:              n.cfg.ThreadID,
	}
	msg, err := n.sender.Send(&tele.Chat{ID: n.cfg.ChatID}, n.render(pr), opts)
	if err != nil {
		return fmt.Errorf("telegram: send %s: %w", pr.Key(), err)
	}
	if msg != nil {
		n.log.Debug("posted to telegram", logx.String("pr", pr.Key().String()), logx.Int("message_id", msg.ID))
	}
	return nil
}

func (n *Notifier) render(pr pullrequest.PullRequest) string {
	author := pr.Author.DisplayName
	if author == "" {
		author = pr.Author.Name
	}
	var reviewers []string
	for _, r := range pr.Reviewers {
		if h, ok := n.cfg.Users[r]; ok && h != "" {
			r = "@" + strings.TrimPrefix(h, "@")
		}
		reviewers = append(reviewers, r)
	}

	var desc htm
	if d := strings.TrimSpace(pr.Description); d != "" {
		desc = "\n" + esc(truncate(d, maxDescription))
	}
	var rev htm
	if len(reviewers) > 0 {
		rev = bold("Reviewers: ") + esc(strings.Join(reviewers, ", "))
	}
	return lines(
		bold("New Pull Request!"),
		bold(pr.Key().Scope().String())+" "+link(pr.Title, pr.Link),
		esc("by ")+link(author, pr.Author.Link),
		rev,
		desc,
	)
}
