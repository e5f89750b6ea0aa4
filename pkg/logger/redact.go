package logger

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[redacted]"

var sensitiveKeys = map[string]struct{}{
	"token":          {},
	"api_key":        {},
	"authorization":  {},
	"webhook_secret": {},
	"password":       {},
}

// redactHandler masks the values of sensitive attributes before they reach
// the wrapped handler.
type redactHandler struct {
	next slog.Handler
}

func (h redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h redactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redact(attr))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = redact(attr)
	}
	return redactHandler{next: h.next.WithAttrs(masked)}
}

func (h redactHandler) WithGroup(name string) slog.Handler {
	return redactHandler{next: h.next.WithGroup(name)}
}

func redact(attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	if attr.Value.Kind() != slog.KindGroup {
		return attr
	}

	group := attr.Value.Group()
	masked := make([]any, len(group))
	for i, item := range group {
		masked[i] = redact(item)
	}
	return slog.Group(attr.Key, masked...)
}
