package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Code is the numeric log level carried on the wire by remote sinks.
type Code int

// Numeric levels used on the log topic.
const (
	CodeError   Code = 0
	CodeWarning Code = 1
	CodeInfo    Code = 2
	CodeDebug   Code = 3
)

// CodeFor maps a slog level to its wire code.
func CodeFor(level slog.Level) Code {
	switch {
	case level >= slog.LevelError:
		return CodeError
	case level >= slog.LevelWarn:
		return CodeWarning
	case level >= slog.LevelInfo:
		return CodeInfo
	default:
		return CodeDebug
	}
}

// Sink receives mirrored log records.
//
// Emit is called synchronously from whichever goroutine logged the record,
// so implementations must be safe for concurrent use and must not block for
// long. Failures are the sink's problem; they are never reported back.
type Sink interface {
	Emit(level Code, message string)
}

type sinkSet struct {
	mu    sync.RWMutex
	sinks []Sink
}

func (s *sinkSet) add(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sinks {
		if existing == sink {
			return
		}
	}
	s.sinks = append(s.sinks, sink)
}

func (s *sinkSet) remove(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.sinks {
		if existing == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return
		}
	}
}

func (s *sinkSet) snapshot() []Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sinks) == 0 {
		return nil
	}
	out := make([]Sink, len(s.sinks))
	copy(out, s.sinks)
	return out
}

// mirrorHandler writes to the local handler and forwards a flattened
// "message k=v ..." rendering of each record to the registered sinks.
type mirrorHandler struct {
	next  slog.Handler
	sinks *sinkSet
	level slog.Level
	attrs string
	group string
}

func newMirrorHandler(next slog.Handler, sinks *sinkSet, level slog.Level) *mirrorHandler {
	return &mirrorHandler{next: next, sinks: sinks, level: level}
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}

	if r.Level < h.level {
		return err
	}
	sinks := h.sinks.snapshot()
	if len(sinks) == 0 {
		return err
	}

	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})
	msg := b.String()
	code := CodeFor(r.Level)
	for _, s := range sinks {
		s.Emit(code, msg)
	}
	return err
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.group, a)
	}
	return &mirrorHandler{
		next:  h.next.WithAttrs(attrs),
		sinks: h.sinks,
		level: h.level,
		attrs: b.String(),
		group: h.group,
	}
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &mirrorHandler{
		next:  h.next.WithGroup(name),
		sinks: h.sinks,
		level: h.level,
		attrs: h.attrs,
		group: group,
	}
}

func appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, key, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}
