package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LogHandler is a slog.Handler that copies records at or above a level
// into a LogRing and, optionally, onto a Bus as Log events, before
// passing them to the next handler.
type LogHandler struct {
	next   slog.Handler
	ring   *LogRing
	bus    *Bus
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewLogHandler wraps next. bus may be nil.
func NewLogHandler(next slog.Handler, ring *LogRing, bus *Bus, level slog.Level) *LogHandler {
	return &LogHandler{next: next, ring: ring, bus: bus, level: level}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		line := h.format(r)
		h.ring.Write(line)
		if h.bus != nil {
			h.bus.Publish(Event{
				Type:      Log,
				SessionID: line.SessionID,
				Status:    line.Level,
				Message:   line.Message,
				Time:      line.Time,
			})
		}
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), h.qualify(attrs)...)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

func (h *LogHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if len(h.groups) == 0 {
		return attrs
	}
	prefix := strings.Join(h.groups, ".") + "."
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}

// format renders "message key=value ..." skipping the component attr,
// and lifts session_id into its own field.
func (h *LogHandler) format(r slog.Record) LogLine {
	line := LogLine{Time: r.Time, Level: strings.ToLower(r.Level.String())}

	var b strings.Builder
	b.WriteString(r.Message)
	add := func(a slog.Attr) {
		switch a.Key {
		case "component":
			return
		case "session_id", "session":
			line.SessionID = a.Value.String()
			return
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(slog.Attr{Key: strings.Join(append(append([]string(nil), h.groups...), a.Key), "."), Value: a.Value})
		return true
	})
	line.Message = b.String()
	return line
}
