package research

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/search"
)

// memStore keeps records in memory and remembers every persisted state.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Record
	history []Record
	failOn  int // fail the n-th update when > 0
	updates int
}

func newMemStore(recs ...*Record) *memStore {
	s := &memStore{records: map[string]*Record{}}
	for _, r := range recs {
		s.records[r.ID] = r.Clone()
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return r.Clone(), nil
}

func (s *memStore) Update(_ context.Context, id string, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.failOn > 0 && s.updates == s.failOn {
		return nil, errors.New("disk full")
	}
	r, ok := s.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	c := r.Clone()
	if err := fn(c); err != nil {
		return nil, err
	}
	s.records[id] = c
	s.history = append(s.history, *c.Clone())
	return c.Clone(), nil
}

func (s *memStore) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.history {
		if len(out) == 0 || out[len(out)-1] != r.Status.String() {
			out = append(out, r.Status.String())
		}
	}
	return out
}

// scriptedLLM answers by prompt kind.
type scriptedLLM struct {
	mu       sync.Mutex
	serp     string
	learn    func(prompt string) (string, error)
	report   string
	serpErr  error
	rptErr   error
	requests []clients.Request
}

func (l *scriptedLLM) Complete(_ context.Context, req clients.Request) (string, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()

	switch {
	case strings.Contains(req.Prompt, "generate a list of SERP queries"):
		return l.serp, l.serpErr
	case strings.Contains(req.Prompt, "write a final report"):
		return l.report, l.rptErr
	default:
		if l.learn == nil {
			return "", nil
		}
		return l.learn(req.Prompt)
	}
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]search.Result
	err     error
	queries []string
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) Search(_ context.Context, q string) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[q], nil
}

func newRecord(t *testing.T, maxSearches int) *Record {
	t.Helper()
	rec, err := NewRecord(Params{
		Query:             "perovskite solar cells",
		Model:             "gemini-1.5-pro",
		SearchModel:       "gemini-1.5-flash",
		MaxSearches:       maxSearches,
		CustomRequirement: "use tables",
	}, t0)
	require.NoError(t, err)
	return rec
}

func newTestEngine(store *memStore, llm *scriptedLLM, s *fakeSearch) *Engine {
	e := NewEngine(store, llm, s)
	e.Now = func() time.Time { return t0 }
	return e
}

const twoQueries = `Here are the queries:
[{"query":"efficiency records","researchGoal":"find lab records"},
 {"query":"stability issues","researchGoal":"find degradation data"}]`

func TestEngine_CompletesHappyPath(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	llm := &scriptedLLM{
		serp: twoQueries,
		learn: func(prompt string) (string, error) {
			if strings.Contains(prompt, "efficiency records") {
				return "# Learnings\n- 26.1% certified\n- tandem 33.9%", nil
			}
			return "- moisture degrades films", nil
		},
		report: "# Final report",
	}
	s := &fakeSearch{results: map[string][]search.Result{
		"efficiency records": {{URL: "https://a.example", Content: "a"}},
		"stability issues":   {{URL: "https://b.example", Content: "b"}},
	}}

	status := newTestEngine(store, llm, s).Run(context.Background(), rec.ID)
	assert.Equal(t, StatusOf(StageCompleted), status)

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Final report", got.Report)
	assert.Empty(t, got.Error)
	assert.Equal(t, []string{"- 26.1% certified", "- tandem 33.9%", "- moisture degrades films"}, got.Learnings)

	assert.Equal(t, []string{
		"generating_queries",
		"searching: 1/2: efficiency records",
		"processing_results: 1/2: efficiency records",
		"searching: 2/2: stability issues",
		"processing_results: 2/2: stability issues",
		"generating_report",
		"completed",
	}, store.statuses())

	require.Len(t, llm.requests, 4)
	assert.Equal(t, "gemini-1.5-pro", llm.requests[0].Model)
	assert.Equal(t, 0.7, llm.requests[0].Temperature)
	assert.Equal(t, "gemini-1.5-flash", llm.requests[1].Model)
	assert.Equal(t, "gemini-1.5-pro", llm.requests[3].Model)
	assert.Equal(t, 0.8, llm.requests[3].Temperature)
	assert.Equal(t, DefaultReportTimeout, llm.requests[3].Timeout)
	assert.Contains(t, llm.requests[3].Prompt, "<requirement>use tables</requirement>")
}

func TestEngine_LearningsGrowMonotonically(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	llm := &scriptedLLM{
		serp:   twoQueries,
		learn:  func(string) (string, error) { return "fact", nil },
		report: "report",
	}
	s := &fakeSearch{results: map[string][]search.Result{
		"efficiency records": {{URL: "u", Content: "c"}},
		"stability issues":   {{URL: "u", Content: "c"}},
	}}

	newTestEngine(store, llm, s).Run(context.Background(), rec.ID)

	prev := 0
	for _, r := range store.history {
		assert.GreaterOrEqual(t, len(r.Learnings), prev)
		prev = len(r.Learnings)
		assert.False(t, r.Report != "" && r.Error != "")
	}
}

func TestEngine_ZeroMaxSearches(t *testing.T) {
	rec := newRecord(t, 0)
	store := newMemStore(rec)
	llm := &scriptedLLM{serp: twoQueries}
	s := &fakeSearch{}

	status := newTestEngine(store, llm, s).Run(context.Background(), rec.ID)
	assert.Equal(t, StatusOf(StageNoResults), status)
	assert.Empty(t, s.queries)
	require.Len(t, llm.requests, 1, "only the query generation call")
	assert.Equal(t, []string{"generating_queries", "no_results"}, store.statuses())
}

func TestEngine_TruncatesToMaxSearches(t *testing.T) {
	rec := newRecord(t, 1)
	store := newMemStore(rec)
	llm := &scriptedLLM{serp: twoQueries}
	s := &fakeSearch{}

	newTestEngine(store, llm, s).Run(context.Background(), rec.ID)
	assert.Equal(t, []string{"efficiency records"}, s.queries)
}

func TestEngine_ZeroResultsSkipDistillation(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	llm := &scriptedLLM{serp: twoQueries}
	s := &fakeSearch{results: map[string][]search.Result{}}

	status := newTestEngine(store, llm, s).Run(context.Background(), rec.ID)
	assert.Equal(t, StatusOf(StageNoResults), status)
	assert.Len(t, s.queries, 2)
	assert.Len(t, llm.requests, 1)
}

func TestEngine_FallbackQueryOnUnparsableResponse(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	llm := &scriptedLLM{serp: "no json here"}
	s := &fakeSearch{}

	newTestEngine(store, llm, s).Run(context.Background(), rec.ID)
	assert.Equal(t, []string{"perovskite solar cells"}, s.queries)
}

func TestEngine_StepFailures(t *testing.T) {
	results := map[string][]search.Result{
		"efficiency records": {{URL: "u", Content: "c"}},
		"stability issues":   {{URL: "u", Content: "c"}},
	}

	tests := []struct {
		name       string
		llm        *scriptedLLM
		search     *fakeSearch
		wantPrefix string
		learnings  int
	}{
		{
			name:       "query generation",
			llm:        &scriptedLLM{serpErr: clients.ErrMissingCredential},
			search:     &fakeSearch{},
			wantPrefix: "Error generating SERP queries: ",
		},
		{
			name: "search",
			llm: &scriptedLLM{serp: twoQueries, learn: func(string) (string, error) {
				return "kept", nil
			}},
			search:     &fakeSearch{err: errors.New("Tavily API error (500): down")},
			wantPrefix: "Error searching the web: Tavily API error (500): down",
		},
		{
			name: "distillation",
			llm: &scriptedLLM{serp: twoQueries, learn: func(p string) (string, error) {
				if strings.Contains(p, "stability issues") {
					return "", errors.New("OpenAI API error: 401")
				}
				return "first", nil
			}},
			search:     &fakeSearch{results: results},
			wantPrefix: "Error processing search results: ",
			learnings:  1,
		},
		{
			name: "report",
			llm: &scriptedLLM{serp: twoQueries, learn: func(string) (string, error) {
				return "x", nil
			}, rptErr: fmt.Errorf("failed after 5 attempts: %w", clients.ErrRateLimited)},
			search:     &fakeSearch{results: results},
			wantPrefix: "Error generating final report: ",
			learnings:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecord(t, 5)
			store := newMemStore(rec)

			status := newTestEngine(store, tt.llm, tt.search).Run(context.Background(), rec.ID)
			assert.Equal(t, StatusOf(StageError), status)

			got, err := store.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got.Error, tt.wantPrefix), got.Error)
			assert.Empty(t, got.Report)
			assert.Len(t, got.Learnings, tt.learnings)
		})
	}
}

func TestEngine_SearchFailureStopsLoop(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	s := &fakeSearch{err: errors.New("boom")}

	newTestEngine(store, &scriptedLLM{serp: twoQueries}, s).Run(context.Background(), rec.ID)
	assert.Len(t, s.queries, 1)
}

type panickingLLM struct{}

func (panickingLLM) Complete(context.Context, clients.Request) (string, error) {
	panic("nil map")
}

func TestEngine_RecoversPanics(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)

	status := NewEngine(store, panickingLLM{}, &fakeSearch{}).Run(context.Background(), rec.ID)
	assert.Equal(t, StatusOf(StageError), status)

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Unhandled exception: nil map", got.Error)
}

func TestEngine_StoreFailureIsUnhandled(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	store.failOn = 2 // the first searching transition

	status := newTestEngine(store, &scriptedLLM{serp: twoQueries}, &fakeSearch{}).Run(context.Background(), rec.ID)
	assert.Equal(t, StatusOf(StageError), status)

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Unhandled exception: disk full", got.Error)
}

func TestEngine_CancelledContextStillTerminates(t *testing.T) {
	rec := newRecord(t, 5)
	store := newMemStore(rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &scriptedLLM{serpErr: context.Canceled}
	status := newTestEngine(store, llm, &fakeSearch{}).Run(ctx, rec.ID)
	assert.True(t, status.Terminal())

	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}

func TestEngine_SearchLogsGoToJobLogger(t *testing.T) {
	forbidden := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer forbidden.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[{"url":"https://ok.example","content":"ok"}]}`))
	}))
	defer healthy.Close()

	sx := search.NewSearXNG(forbidden.URL, nil)
	sx.Instances = []string{forbidden.URL, healthy.URL}
	sx.Logger = slog.New(slog.DiscardHandler)

	rec := newRecord(t, 1)
	store := newMemStore(rec)
	llm := &scriptedLLM{
		serp:   `[{"query":"efficiency records","researchGoal":"g"}]`,
		learn:  func(string) (string, error) { return "- a learning", nil },
		report: "# Report",
	}
	var job bytes.Buffer
	e := NewEngine(store, llm, sx)
	e.Now = func() time.Time { return t0 }
	e.Logger = slog.New(slog.NewTextHandler(&job, nil))

	assert.Equal(t, StatusOf(StageCompleted), e.Run(context.Background(), rec.ID))
	assert.Contains(t, job.String(), "SearXNG instance unusable")
	assert.Contains(t, job.String(), "research_id="+rec.ID)
}
