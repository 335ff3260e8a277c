package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
)

const (
	mainLogFile = "graph.log"
	httpLogFile = "graph.http.log"
)

var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Provide(NewHTTPLogger),
)

// logDir returns LOG_DIR, or "" when file logging is disabled.
func logDir() string {
	return os.Getenv("LOG_DIR")
}

func openLogFile(name string) (*os.File, error) {
	dir := logDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// textHandler renders records as
// 2026-01-16T21:47:08.511Z [LEVEL] [scope] - message key=value
type textHandler struct {
	level  slog.Leveler
	w      io.Writer
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

func newTextHandler(level slog.Leveler, w io.Writer) *textHandler {
	return &textHandler{level: level, w: w, mu: &sync.Mutex{}}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString(" [")
	buf.WriteString(strings.ToUpper(r.Level.String()))
	buf.WriteString("] ")

	scope := ""
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "scope" {
			scope = a.Value.String()
		} else {
			rest = append(rest, a)
		}
		return true
	})
	for _, a := range h.attrs {
		if a.Key == "scope" {
			if scope == "" {
				scope = a.Value.String()
			}
			continue
		}
		rest = append(rest, a)
	}

	if scope != "" {
		buf.WriteString("[")
		buf.WriteString(scope)
		buf.WriteString("] ")
	}

	buf.WriteString("- ")
	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range rest {
		buf.WriteString(" ")
		buf.WriteString(prefix)
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(fmt.Sprintf("%v", a.Value.Any()))
	}
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &textHandler{level: h.level, w: h.w, attrs: merged, groups: h.groups, mu: h.mu}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &textHandler{level: h.level, w: h.w, attrs: h.attrs, groups: groups, mu: h.mu}
}

// parseLevel maps LOG_LEVEL values onto slog levels. Unknown values fall back to info.
func parseLevel(s string) slog.Level {
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

// NewLogger creates the process logger from LOG_LEVEL, GO_ENV and LOG_DIR.
// GO_ENV=production switches to JSON output; LOG_DIR additionally tees into a file.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	var w io.Writer = os.Stdout
	if logDir() != "" {
		if f, err := openLogFile(mainLogFile); err == nil {
			w = io.MultiWriter(os.Stdout, f)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: could not open log file: %v\n", err)
		}
	}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = newTextHandler(level, w)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// HTTPLogger writes one access line per request to LOG_DIR/graph.http.log.
// With no LOG_DIR it is a no-op.
type HTTPLogger struct {
	mu   sync.Mutex
	file *os.File
}

func NewHTTPLogger(log *slog.Logger) *HTTPLogger {
	h := &HTTPLogger{}
	if logDir() == "" {
		return h
	}
	f, err := openLogFile(httpLogFile)
	if err != nil {
		log.Warn("could not open HTTP log file", Error(err))
		return h
	}
	h.file = f
	return h
}

// LogRequest appends: TIMESTAMP IP METHOD /path STATUS DURATIONms "User-Agent" [req-id]
func (h *HTTPLogger) LogRequest(ip, method, path string, status int, duration time.Duration, userAgent, requestID string) {
	if h == nil || h.file == nil {
		return
	}
	line := fmt.Sprintf("%s %s %s %s %d %dms %q [%s]\n",
		time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		ip, method, path, status, duration.Milliseconds(), userAgent, requestID)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = h.file.WriteString(line)
}

// Close releases the access log file.
func (h *HTTPLogger) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	return h.file.Close()
}

// Scope tags a logger with the component name.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error wraps an error as a slog attribute
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}
