package log

import (
	"io"
	"log/slog"
	"strings"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	if l, ok := levels[strings.ToLower(name)]; ok {
		return l
	}
	return slog.LevelInfo
}

// New returns a logger writing JSON (format "json") or text to w.
func New(w io.Writer, level, format string) *slog.Logger {
	return NewWithLeveler(w, ParseLevel(level), format)
}

// NewWithLeveler is New with a caller-owned level, typically a
// *slog.LevelVar changed on configuration reload.
func NewWithLeveler(w io.Writer, level slog.Leveler, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With(slog.String("app", "contentflow"))
}

func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

func InstanceID(id string) slog.Attr {
	return slog.String("instance_id", id)
}

func TemplateID(id string) slog.Attr {
	return slog.String("template_id", id)
}

func StepRef(id string) slog.Attr {
	return slog.String("step_ref_id", id)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}
