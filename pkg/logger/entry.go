package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is the JSON line written for each record.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

type entryHandler struct {
	out       *lockedWriter
	level     slog.Level
	addSource bool
	attrs     []slog.Attr
	prefix    string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) writeLine(line []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(append(line, '\n'))
	return err
}

func newEntryHandler(w io.Writer, level slog.Level, addSource bool) *entryHandler {
	return &entryHandler{out: &lockedWriter{w: w}, level: level, addSource: addSource}
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}

	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
		Fields:    map[string]any{},
	}

	for _, attr := range h.attrs {
		entry.add(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		entry.add(attr)
		return true
	})
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}

	if h.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		if frame.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return h.out.writeLine(line)
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		next.attrs = append(next.attrs, attr)
	}
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// add stores attr in the entry. A top-level string "component" attribute is
// lifted into its own field.
func (e *LogEntry) add(attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Key == "component" && attr.Value.Kind() == slog.KindString {
		e.Component = attr.Value.String()
		return
	}
	e.Fields[attr.Key] = plain(attr.Value)
}

func plain(value slog.Value) any {
	switch value.Kind() {
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		out := make(map[string]any, len(group))
		for _, item := range group {
			out[item.Key] = plain(item.Value.Resolve())
		}
		return out
	default:
		return value.Any()
	}
}
