// Package store persists research records and their job logs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("research not found")

// DefaultListLimit caps List when Filter.Limit is unset.
const DefaultListLimit = 50

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the persistence of research records. Update is the only mutation
// path after Create and applies fn atomically per record.
type Store interface {
	Create(ctx context.Context, rec *research.Record) error
	Get(ctx context.Context, id string) (*research.Record, error)
	Update(ctx context.Context, id string, fn func(*research.Record) error) (*research.Record, error)
	List(ctx context.Context, f Filter) ([]*research.Record, error)
	AppendLog(ctx context.Context, id string, e LogEntry) error
	Logs(ctx context.Context, id string) ([]LogEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

// LogEntry is one log line written while a job ran.
type LogEntry struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	// Stage matches the status stage, so "searching" matches every
	// sub-query of a running search.
	Stage research.Stage
	Model string
	// Search is a case-insensitive substring of the id or the query.
	Search string
	Limit  int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec *research.Record) bool {
	if f.Stage != "" && rec.Status.Stage != f.Stage {
		return false
	}
	if f.Model != "" && rec.Model != f.Model {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(rec.ID), q) && !strings.Contains(strings.ToLower(rec.Query), q) {
			return false
		}
	}
	return true
}

// Options selects and configures a store driver.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	CacheSize   int
	CacheTTL    time.Duration
	Logger      *slog.Logger
}

// Open builds the store named by opts.Driver, wrapped in a terminal-record
// cache when opts.CacheSize is positive.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", DriverMemory:
		s = NewMemory()
	case DriverSQLite:
		s, err = NewSQLite(opts.SQLitePath)
	case DriverPostgres:
		if opts.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		var db *database.PostgresDB
		db, err = database.Connect(ctx, opts.DatabaseURL, logger)
		if err == nil {
			s = NewPostgres(db)
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("store opened", "driver", driverName(opts.Driver), "cache_size", opts.CacheSize)
	if opts.CacheSize > 0 {
		return NewCached(s, opts.CacheSize, opts.CacheTTL), nil
	}
	return s, nil
}

func driverName(d string) string {
	if d == "" {
		return DriverMemory
	}
	return d
}

func marshalLearnings(l []string) ([]byte, error) {
	if l == nil {
		l = []string{}
	}
	return json.Marshal(l)
}

func unmarshalLearnings(raw []byte) ([]string, error) {
	learnings := []string{}
	if len(raw) == 0 {
		return learnings, nil
	}
	if err := json.Unmarshal(raw, &learnings); err != nil {
		return nil, fmt.Errorf("decoding learnings: %w", err)
	}
	return learnings, nil
}

func metadataOrEmpty(m json.RawMessage) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage("{}")
	}
	return m
}
