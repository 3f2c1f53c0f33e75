package research

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"time"
)

// DefaultPollInterval is how often Project re-reads the record.
const DefaultPollInterval = time.Second

// Snapshotter reloads a record by id.
type Snapshotter interface {
	Get(ctx context.Context, id string) (*Record, error)
}

type EventKind string

const (
	EventSnapshot  EventKind = "snapshot"
	EventStatus    EventKind = "status"
	EventLearnings EventKind = "learnings"
	EventReport    EventKind = "report"
	EventFinal     EventKind = "final"
)

// Event is one update of the stream. Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	Record    *Record
	Status    Status
	Learnings []string
	Report    string
}

// MarshalJSON renders the wire object of the event: the full record for a
// snapshot, a single-key object for deltas, and the completion marker.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventSnapshot:
		return json.Marshal(e.Record)
	case EventStatus:
		return json.Marshal(struct {
			Status Status `json:"status"`
		}{e.Status})
	case EventLearnings:
		return json.Marshal(struct {
			Learnings []string `json:"learnings"`
		}{e.Learnings})
	case EventReport:
		return json.Marshal(struct {
			Report string `json:"report"`
		}{e.Report})
	case EventFinal:
		return []byte(`{"status":"complete","final":true}`), nil
	}
	return nil, fmt.Errorf("unknown event kind %q", e.Kind)
}

// Project streams the updates of record id by polling src every interval.
// It yields a snapshot first, then status, learnings and report deltas in
// that order per poll, and a final marker once the status is terminal.
// A read error is yielded and ends the sequence; cancelling ctx ends it
// without an error.
func Project(ctx context.Context, src Snapshotter, id string, interval time.Duration) iter.Seq2[Event, error] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return func(yield func(Event, error) bool) {
		rec, err := src.Get(ctx, id)
		if err != nil {
			yield(Event{}, err)
			return
		}
		if !yield(Event{Kind: EventSnapshot, Record: rec}, nil) {
			return
		}

		sentStatus := rec.Status
		sentLearnings := len(rec.Learnings)
		sentReport := rec.Report

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for !rec.Status.Terminal() {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			rec, err = src.Get(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					yield(Event{}, err)
				}
				return
			}

			if rec.Status != sentStatus {
				sentStatus = rec.Status
				if !yield(Event{Kind: EventStatus, Status: rec.Status}, nil) {
					return
				}
			}
			if len(rec.Learnings) > sentLearnings {
				suffix := slices.Clone(rec.Learnings[sentLearnings:])
				sentLearnings = len(rec.Learnings)
				if !yield(Event{Kind: EventLearnings, Learnings: suffix}, nil) {
					return
				}
			}
			if rec.Report != "" && rec.Report != sentReport {
				sentReport = rec.Report
				if !yield(Event{Kind: EventReport, Report: rec.Report}, nil) {
					return
				}
			}
		}

		yield(Event{Kind: EventFinal}, nil)
	}
}
