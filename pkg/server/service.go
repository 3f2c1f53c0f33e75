package server

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/worker"
)

// Defaults fill in request fields the caller left out.
type Defaults struct {
	Model        string
	MaxSearches  int
	PollInterval time.Duration
}

// Service owns the research lifecycle: it persists new records, hands them
// to the worker pool and serves reads and update streams.
type Service struct {
	Store    store.Store
	Engine   *research.Engine
	Pool     *worker.Pool
	Logger   *slog.Logger
	Defaults Defaults
	Now      func() time.Time
}

func NewService(st store.Store, engine *research.Engine, pool *worker.Pool, logger *slog.Logger, defaults Defaults) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.PollInterval <= 0 {
		defaults.PollInterval = research.DefaultPollInterval
	}
	return &Service{
		Store:    st,
		Engine:   engine,
		Pool:     pool,
		Logger:   logger,
		Defaults: defaults,
		Now:      time.Now,
	}
}

type CreateResearchRequest struct {
	Query             string `json:"query"`
	Model             string `json:"model"`
	SearchModel       string `json:"search_model"`
	MaxSearches       *int   `json:"max_searches"`
	CustomRequirement string `json:"custom_requirement"`
}

func (r CreateResearchRequest) params(d Defaults) research.Params {
	p := research.Params{
		Query:             r.Query,
		Model:             r.Model,
		SearchModel:       r.SearchModel,
		MaxSearches:       d.MaxSearches,
		CustomRequirement: r.CustomRequirement,
	}
	if p.Model == "" {
		p.Model = d.Model
	}
	if r.MaxSearches != nil {
		p.MaxSearches = *r.MaxSearches
	}
	return p
}

// CreateResearch validates req, stores a new record in the processing
// status and schedules its pipeline. It returns the record as created.
func (s *Service) CreateResearch(ctx context.Context, req CreateResearchRequest) (*research.Record, error) {
	p := req.params(s.Defaults)
	if _, err := clients.ResolveBackend(p.Model); err != nil {
		return nil, err
	}
	if p.SearchModel != "" {
		if _, err := clients.ResolveBackend(p.SearchModel); err != nil {
			return nil, err
		}
	}

	rec, err := research.NewRecord(p, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.Store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create research: %w", err)
	}

	id := rec.ID
	if err := s.Pool.Submit(id, func(ctx context.Context) { s.runJob(ctx, id) }); err != nil {
		msg := "Unhandled exception: " + err.Error()
		if _, uerr := s.Store.Update(ctx, id, func(r *research.Record) error {
			return r.Fail(msg, s.Now())
		}); uerr != nil {
			s.Logger.Error("failed to record rejected job", "research_id", id, "error", uerr)
		}
		return nil, fmt.Errorf("failed to schedule research: %w", err)
	}

	s.Logger.Info("research created", "research_id", id, "model", rec.Model, "max_searches", rec.MaxSearches)
	return rec, nil
}

func (s *Service) runJob(ctx context.Context, id string) {
	metrics.JobsStarted.Inc()

	engine := *s.Engine
	engine.Logger = slog.New(NewJobLogHandler(s.Logger.Handler(), s.Store, id))

	status := engine.Run(ctx, id)
	metrics.JobsFinished.WithLabelValues(string(status.Stage)).Inc()
}

func (s *Service) GetResearch(ctx context.Context, id string) (*research.Record, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) ListResearch(ctx context.Context, f store.Filter) ([]*research.Record, error) {
	return s.Store.List(ctx, f)
}

func (s *Service) GetLogs(ctx context.Context, id string) ([]store.LogEntry, error) {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.Logs(ctx, id)
}

// Stream returns the update events of a record. The record must exist.
func (s *Service) Stream(ctx context.Context, id string) (iter.Seq2[research.Event, error], error) {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	return research.Project(ctx, s.Store, id, s.Defaults.PollInterval), nil
}
