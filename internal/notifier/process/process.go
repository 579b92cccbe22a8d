// Package process hands records to a long-lived child process, one JSON
// document per line on its stdin.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	logx "pierre/pkg/logx"
)

var ErrNotRunning = errors.New("process notifier: child not running")

type Config struct {
	Command string
	Args    []string
	Env     []string

	// StopTimeout is how long Close waits after closing stdin before it
	// kills the child.
	StopTimeout time.Duration
}

type Notifier[T any] struct {
	cfg Config
	log logx.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
	err   error
}

// Start spawns the child. The child outlives ctx; call Close to stop it.
func Start[T any](ctx context.Context, cfg Config, log logx.Logger) (*Notifier[T], error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("notifier.process.command is required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	//nolint:gosec // command comes from operator configuration
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process notifier: start %s: %w", cfg.Command, err)
	}

	n := &Notifier[T]{cfg: cfg, log: log, cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
		close(n.done)
		if err != nil {
			log.Warn("notifier process exited", logx.String("command", cfg.Command), logx.Err(err))
		} else {
			log.Info("notifier process exited", logx.String("command", cfg.Command))
		}
	}()
	log.Info("notifier process started", logx.String("command", cfg.Command), logx.Int("pid", cmd.Process.Pid))
	return n, nil
}

func (n *Notifier[T]) Notify(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("process notifier: encode: %w", err)
	}
	line = append(line, '\n')

	n.mu.Lock()
	defer n.mu.Unlock()
	select {
	case <-n.done:
		return ErrNotRunning
	default:
	}
	if n.stdin == nil {
		return ErrNotRunning
	}
	if _, err := n.stdin.Write(line); err != nil {
		return fmt.Errorf("process notifier: write: %w", err)
	}
	return nil
}

// Close closes the child's stdin and waits for it to exit, killing it
// after StopTimeout.
func (n *Notifier[T]) Close() error {
	n.mu.Lock()
	stdin := n.stdin
	n.stdin = nil
	n.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}

	t := time.NewTimer(n.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-n.done:
	case <-t.C:
		_ = n.cmd.Process.Kill()
		<-n.done
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	var ee *exec.ExitError
	if errors.As(n.err, &ee) && !ee.Exited() {
		// Killed by us.
		return nil
	}
	return n.err
}
