package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// maxAttrLen caps string attributes; prompts carry whole retrieved chunks.
const maxAttrLen = 2048

type Options struct {
	Service string
	Level   string
	// Format is "json" (default) or "text".
	Format string
	Writer io.Writer
}

func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: truncateLong,
	}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

func NewJSONLogger(service, level string) *slog.Logger {
	return New(Options{Service: service, Level: level})
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func truncateLong(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	s := a.Value.String()
	if len(s) <= maxAttrLen {
		return a
	}
	cut := maxAttrLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return slog.String(a.Key, s[:cut]+"...(truncated)")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
