package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Prefix is printed after the timestamp on every text log line
const Prefix = "HANDOFF"

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Output io.Writer
}

// LineHandler writes one human-readable line per record:
//
//	2025/10/15 21:52:15 HANDOFF [INFO] [Relay] message key=value
type LineHandler struct {
	level     slog.Leveler
	w         io.Writer
	mu        *sync.Mutex
	useColor  bool
	component string
	prefix    string // dotted group prefix applied to attribute keys
	attrs     []slog.Attr
}

// NewLineHandler creates a line handler writing to w
func NewLineHandler(w io.Writer, level slog.Leveler) *LineHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &LineHandler{
		level:    level,
		w:        w,
		mu:       &sync.Mutex{},
		useColor: isTerminal(w),
	}
}

// Enabled reports whether the handler handles records at the given level
func (h *LineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the record
func (h *LineHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(r.Time.Format("2006/01/02 15:04:05"))
	b.WriteString(" " + Prefix + " [")
	lvl := levelString(r.Level)
	if h.useColor {
		lvl = colorize(r.Level, lvl)
	}
	b.WriteString(lvl)
	b.WriteString("]")

	component := h.component
	var extra []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" && h.prefix == "" {
			if component == "" {
				component = a.Value.String()
			}
			return true
		}
		extra = append(extra, a)
		return true
	})

	if component != "" {
		b.WriteString(" [")
		b.WriteString(strings.ToUpper(component[:1]) + component[1:])
		b.WriteString("]")
	}

	b.WriteString(" ")
	b.WriteString(r.Message)

	for _, a := range extra {
		appendAttr(&b, h.prefix, a)
	}
	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs returns a handler that appends attrs to every record.
// A "component" attribute becomes the bracketed component tag.
func (h *LineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == "component" && h.prefix == "" {
			clone.component = a.Value.String()
			continue
		}
		a.Key = h.prefix + a.Key
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup returns a handler that qualifies later attribute keys with name
func (h *LineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteString("=")
	b.WriteString(fmt.Sprint(a.Value.Any()))
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

func colorize(level slog.Level, text string) string {
	const (
		colorReset  = "\033[0m"
		colorGray   = "\033[90m"
		colorGreen  = "\033[32m"
		colorYellow = "\033[33m"
		colorRed    = "\033[31m"
	)

	switch {
	case level < slog.LevelInfo:
		return colorGray + text + colorReset
	case level < slog.LevelWarn:
		return colorGreen + text + colorReset
	case level < slog.LevelError:
		return colorYellow + text + colorReset
	default:
		return colorRed + text + colorReset
	}
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if w == os.Stdout || w == os.Stderr {
		term := os.Getenv("TERM")
		return term != "" && !strings.Contains(term, "dumb")
	}
	return false
}

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = NewLineHandler(out, level)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// With returns a new logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithGroup returns a new logger with the given group name
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{Logger: l.Logger.WithGroup(name)}
}

// Component returns a logger with a component attribute
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
