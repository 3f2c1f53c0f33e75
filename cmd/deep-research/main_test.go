package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/keycheck"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/worker"
)

type stubLLM struct{ reportErr error }

func (s stubLLM) Complete(_ context.Context, req clients.Request) (string, error) {
	switch {
	case strings.Contains(req.Prompt, "generate a list of SERP queries"):
		return `[{"query":"sub","researchGoal":"goal"}]`, nil
	case strings.Contains(req.Prompt, "write a final report"):
		return "the report", s.reportErr
	}
	return "a learning", nil
}

type stubSearch struct{}

func (stubSearch) Name() string { return "stub" }

func (stubSearch) Search(context.Context, string) ([]search.Result, error) {
	return []search.Result{{URL: "https://x.example", Content: "x"}}, nil
}

func newService(t *testing.T, llm clients.Completer) *server.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory()
	pool := worker.New(1, logger)
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })
	return server.NewService(st, research.NewEngine(st, llm, stubSearch{}), pool, logger, server.Defaults{
		Model:        "gemini-1.5-pro",
		MaxSearches:  2,
		PollInterval: 5 * time.Millisecond,
	})
}

func TestRunResearch_PrintsProgressAndReport(t *testing.T) {
	svc := newService(t, stubLLM{})
	var progress, out bytes.Buffer

	err := runResearch(context.Background(), svc, server.CreateResearchRequest{Query: "topic"}, &progress, &out)
	require.NoError(t, err)
	assert.Equal(t, "the report\n", out.String())
	assert.Contains(t, progress.String(), "+ a learning")
	assert.Contains(t, progress.String(), "Status: completed")
}

func TestRunResearch_ReportsFailure(t *testing.T) {
	svc := newService(t, stubLLM{reportErr: errors.New("quota gone")})
	var progress, out bytes.Buffer

	err := runResearch(context.Background(), svc, server.CreateResearchRequest{Query: "topic"}, &progress, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error generating final report: quota gone")
	assert.Empty(t, out.String())
}

func TestRunResearch_InvalidRequest(t *testing.T) {
	svc := newService(t, stubLLM{})
	err := runResearch(context.Background(), svc, server.CreateResearchRequest{Query: "q", Model: "llama"}, io.Discard, io.Discard)
	assert.True(t, errors.Is(err, clients.ErrUnsupportedModel))
}

func TestPrintKeyReport(t *testing.T) {
	var buf bytes.Buffer
	ok := printKeyReport(&buf, []keycheck.Result{
		{Name: "Google", Usable: true, Notes: []keycheck.Note{{Level: keycheck.LevelOK, Message: "Google API key is valid"}}},
		{Name: "OpenAI", Usable: true},
		{Name: "Anthropic"},
		{Name: "Tavily", Usable: true},
	})
	assert.True(t, ok)
	assert.Contains(t, buf.String(), "[ok]   Google API key is valid")
	assert.Contains(t, buf.String(), "OpenAI models are available to use.")
	assert.NotContains(t, buf.String(), "Anthropic models")

	buf.Reset()
	assert.False(t, printKeyReport(&buf, []keycheck.Result{{Name: "Google"}, {Name: "Tavily", Usable: true}}))
	assert.Contains(t, buf.String(), "Configure your Google API key")
}

func TestCatalogCommand(t *testing.T) {
	var buf bytes.Buffer
	catalogCmd.SetOut(&buf)
	require.NoError(t, catalogCmd.RunE(catalogCmd, nil))
	assert.Contains(t, buf.String(), "gemini-1.5-pro")
	assert.Contains(t, buf.String(), "requires_key: true")
}
