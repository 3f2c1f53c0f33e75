package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Memory keeps records in process memory. Every read returns a copy.
type Memory struct {
	mu      sync.Mutex
	records map[string]*research.Record
	order   []string
	logs    map[string][]LogEntry
	nextLog int64
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*research.Record),
		logs:    make(map[string][]LogEntry),
	}
}

func (m *Memory) Create(_ context.Context, rec *research.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("research %s already exists", rec.ID)
	}
	m.records[rec.ID] = rec.Clone()
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*research.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, fn func(*research.Record) error) (*research.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := rec.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.records[id] = next
	return next.Clone(), nil
}

// List returns matching records, newest first.
func (m *Memory) List(_ context.Context, f Filter) ([]*research.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*research.Record{}
	for _, id := range slices.Backward(m.order) {
		rec := m.records[id]
		if !f.Match(rec) {
			continue
		}
		out = append(out, rec.Clone())
		if len(out) == f.limit() {
			break
		}
	}
	return out, nil
}

func (m *Memory) AppendLog(_ context.Context, id string, e LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLog++
	e.ID = m.nextLog
	e.Metadata = metadataOrEmpty(e.Metadata)
	m.logs[id] = append(m.logs[id], e)
	return nil
}

func (m *Memory) Logs(_ context.Context, id string) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry{}, m.logs[id]...), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
