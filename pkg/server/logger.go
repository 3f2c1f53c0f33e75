package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/store"
)

// LogAppender is the part of the store the job logger writes to.
type LogAppender interface {
	AppendLog(ctx context.Context, id string, e store.LogEntry) error
}

// JobLogHandler is a slog.Handler that persists every record as a job log
// entry and forwards it to the process handler.
type JobLogHandler struct {
	next  slog.Handler
	store LogAppender
	jobID string
	attrs []slog.Attr
	group string
}

func NewJobLogHandler(next slog.Handler, st LogAppender, jobID string) *JobLogHandler {
	return &JobLogHandler{next: next, store: st, jobID: jobID}
}

// Enabled is always true: job logs keep debug records even when the process
// log level hides them.
func (h *JobLogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *JobLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.next.Enabled(ctx, r.Level) {
		if err := h.next.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Entries must land even when the job context is already cancelled.
	return h.store.AppendLog(context.WithoutCancel(ctx), h.jobID, store.LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func (h *JobLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &c
}

func (h *JobLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.group = h.key(name)
	return &c
}

func (h *JobLogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindDuration {
		return v.Duration().String()
	}
	return v.Any()
}
