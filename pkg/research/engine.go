package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/prompts"
	"github.com/mikeboe/deep-research/pkg/search"
)

const (
	DefaultLLMTimeout    = 30 * time.Second
	DefaultReportTimeout = 180 * time.Second

	distillTemperature = 0.7
	reportTemperature  = 0.8
)

// RecordStore is the persistence the engine reads and mutates. Update must
// apply fn atomically with respect to other updates of the same id.
type RecordStore interface {
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, fn func(*Record) error) (*Record, error)
}

// Engine runs the research pipeline for one record at a time: sub-query
// generation, search, distillation, report.
type Engine struct {
	Store  RecordStore
	LLM    clients.Completer
	Search search.Provider
	Logger *slog.Logger
	Now    func() time.Time

	// Search backends bound each of their own network calls, so a search
	// has no overall deadline here.
	LLMTimeout    time.Duration
	ReportTimeout time.Duration
}

func NewEngine(store RecordStore, llm clients.Completer, searcher search.Provider) *Engine {
	return &Engine{
		Store:         store,
		LLM:           llm,
		Search:        searcher,
		Logger:        slog.Default(),
		Now:           time.Now,
		LLMTimeout:    DefaultLLMTimeout,
		ReportTimeout: DefaultReportTimeout,
	}
}

// Run drives the record identified by id to a terminal status and returns
// that status. It never panics and never leaves the record live.
func (e *Engine) Run(ctx context.Context, id string) (status Status) {
	log := e.Logger.With("research_id", id)

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "research panicked", "panic", r)
			status = e.fail(ctx, log, id, fmt.Sprintf("Unhandled exception: %v", r))
		}
	}()

	status, err := e.run(ctx, log, id)
	if err != nil {
		log.ErrorContext(ctx, "research aborted", "error", err)
		return e.fail(ctx, log, id, "Unhandled exception: "+err.Error())
	}
	return status
}

// run returns an error only for failures outside the pipeline steps, such as
// the store rejecting a write.
func (e *Engine) run(ctx context.Context, log *slog.Logger, id string) (Status, error) {
	rec, err := e.Store.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	log.InfoContext(ctx, "starting research", "query", rec.Query, "model", rec.Model, "max_searches", rec.MaxSearches)

	// 1. Plan
	if err := e.transition(ctx, id, StatusOf(StageGeneratingQueries)); err != nil {
		return Status{}, err
	}
	resp, err := e.complete(ctx, rec.Model, prompts.SerpQueries(rec.Query), distillTemperature, e.LLMTimeout)
	if err != nil {
		return e.fail(ctx, log, id, "Error generating SERP queries: "+err.Error()), nil
	}
	queries := ParseSerpQueries(resp, rec.Query)
	if len(queries) > rec.MaxSearches {
		queries = queries[:rec.MaxSearches]
	}
	log.InfoContext(ctx, "generated sub-queries", "count", len(queries))

	// 2. Search and distill
	var learnings []string
	n := len(queries)
	for i, q := range queries {
		if err := e.transition(ctx, id, Searching(i+1, n, q.Query)); err != nil {
			return Status{}, err
		}
		log.InfoContext(ctx, "searching", "index", i+1, "total", n, "query", q.Query)

		results, err := e.Search.Search(search.WithLogger(ctx, log), q.Query)
		if err != nil {
			return e.fail(ctx, log, id, "Error searching the web: "+err.Error()), nil
		}
		if len(results) == 0 {
			log.InfoContext(ctx, "no search results, skipping", "query", q.Query)
			continue
		}

		if err := e.transition(ctx, id, ProcessingResults(i+1, n, q.Query)); err != nil {
			return Status{}, err
		}
		text, err := e.complete(ctx, rec.DistillModel(), prompts.Distillation(q.Query, q.ResearchGoal, results), distillTemperature, e.LLMTimeout)
		if err != nil {
			return e.fail(ctx, log, id, "Error processing search results: "+err.Error()), nil
		}

		found := ExtractLearnings(text)
		if len(found) == 0 {
			continue
		}
		if _, err := e.Store.Update(ctx, id, func(r *Record) error {
			return r.AppendLearnings(e.Now(), found...)
		}); err != nil {
			return Status{}, err
		}
		learnings = append(learnings, found...)
		log.InfoContext(ctx, "extracted learnings", "query", q.Query, "count", len(found), "total", len(learnings))
	}

	if len(learnings) == 0 {
		log.InfoContext(ctx, "no learnings found")
		noResults := StatusOf(StageNoResults)
		return noResults, e.transition(ctx, id, noResults)
	}

	// 3. Report
	if err := e.transition(ctx, id, StatusOf(StageGeneratingReport)); err != nil {
		return Status{}, err
	}
	report, err := e.complete(ctx, rec.Model, prompts.Report(rec.Query, learnings, rec.CustomRequirement), reportTemperature, e.ReportTimeout)
	if err != nil {
		return e.fail(ctx, log, id, "Error generating final report: "+err.Error()), nil
	}
	if _, err := e.Store.Update(ctx, id, func(r *Record) error {
		return r.Complete(report, e.Now())
	}); err != nil {
		return Status{}, err
	}
	log.InfoContext(ctx, "research completed", "learnings", len(learnings), "report_chars", len(report))
	return StatusOf(StageCompleted), nil
}

func (e *Engine) transition(ctx context.Context, id string, next Status) error {
	_, err := e.Store.Update(ctx, id, func(r *Record) error {
		return r.Transition(next, e.Now())
	})
	return err
}

func (e *Engine) complete(ctx context.Context, model, prompt string, temperature float64, timeout time.Duration) (string, error) {
	return e.LLM.Complete(ctx, clients.Request{
		Prompt:      prompt,
		Model:       model,
		Temperature: temperature,
		Timeout:     timeout,
	})
}

// fail marks the record errored. The write ignores ctx cancellation so a
// shutting-down job still lands in a terminal status.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, id, msg string) Status {
	log.ErrorContext(ctx, "research failed", "error", msg)

	rec, err := e.Store.Update(context.WithoutCancel(ctx), id, func(r *Record) error {
		if r.Status.Terminal() {
			return nil
		}
		return r.Fail(msg, e.Now())
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to persist error status", "error", err)
		return StatusOf(StageError)
	}
	return rec.Status
}
