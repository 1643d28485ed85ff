package conf

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	ENV_LOG_LEVEL = "LOG_LEVEL"

	// defaults
	LOG_LEVEL_INFO = "info"

	LevelCritical = slog.Level(12)
)

type Log struct {
	*slog.Logger
}

// NewLog builds the process logger on stderr and installs it as the slog
// default. Stdout is reserved for dry-run output.
func NewLog() *Log {
	log := NewLogWriter(os.Stderr)
	slog.SetDefault(log.Logger)
	return log
}

// NewLogWriter builds a logger writing to w, honoring LOG_LEVEL.
func NewLogWriter(w io.Writer) *Log {
	cfg := NewEnv()
	return newLog(w, parseLevel(cfg.GetEnv(ENV_LOG_LEVEL, LOG_LEVEL_INFO), slog.LevelInfo))
}

func newLog(w io.Writer, level slog.Level) *Log {
	opts := slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}
	handler := slog.NewTextHandler(w, &opts)
	return &Log{slog.New(handler)}
}

// parseLevel accepts slog integers ("-4", "8") as well as names ("debug",
// "warn", "INFO+2").
func parseLevel(s string, fallback slog.Level) slog.Level {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil {
		return slog.Level(n)
	}
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	if strings.EqualFold(s, "critical") {
		return LevelCritical
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return fallback
	}
	return level
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 || a.Key != slog.LevelKey {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	a.Value = slog.StringValue(levelName(level))
	return a
}

func levelName(level slog.Level) string {
	switch {
	case level >= LevelCritical:
		return "CRITICAL"
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func (l *Log) WithError(err error) *Log {
	log := *l
	log.Logger = log.With("error", err)
	return &log
}

func (l *Log) WithErrorMsg(err error, msg string, args ...any) *Log {
	l.WithError(err).With(args...).Error(msg)
	return l
}

// Critical logs a message that ends the run.
func (l *Log) Critical(msg string, args ...any) {
	l.Log(context.Background(), LevelCritical, msg, args...)
}
