package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./pierre.log"
)

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

// Config selects level and sinks. With no sink enabled the console is used.
type Config struct {
	Level   string
	Console bool
	// JSON switches stdout from the console writer to JSON lines, which
	// journald and log shippers prefer.
	JSON bool
	File FileConfig
}

// FileConfig appends JSON lines to Path. When MaxBytes is set, a file that
// already exceeds it is rotated to Path+".1" on Apply.
type FileConfig struct {
	Enabled  bool
	Path     string
	MaxBytes int64
}

// Service holds the live sinks. Loggers obtained from it pick up every Apply.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File

	zl atomic.Pointer[zerolog.Logger]
}

func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply rebuilds the sinks. A file that cannot be opened is reported on
// stderr and skipped; logging never fails the caller.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	stdout := func() io.Writer {
		if cfg.JSON {
			return os.Stdout
		}
		return newConsoleWriter(os.Stdout)
	}
	if cfg.Console {
		sinks = append(sinks, stdout())
	}

	prev := s.file
	s.file = nil
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File, prev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, stdout())
	}

	zl := build(zerolog.MultiLevelWriter(sinks...), parseLevel(cfg.Level, LevelInfo))
	s.zl.Store(&zl)
	s.cfg = cfg
	if prev != nil && prev != s.file {
		_ = prev.Close()
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// openLogFile closes prev before rotating, since some platforms refuse to
// rename an open file.
func openLogFile(fc FileConfig, prev *os.File) (*os.File, error) {
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultFilePath
	}
	if fc.MaxBytes > 0 {
		if st, err := os.Stat(path); err == nil && st.Size() >= fc.MaxBytes {
			if prev != nil {
				_ = prev.Close()
			}
			if err := os.Rename(path, path+".1"); err != nil {
				return nil, fmt.Errorf("rotate %q: %w", path, err)
			}
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func build(w io.Writer, level Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

func parseLevel(s string, def Level) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return def
}
