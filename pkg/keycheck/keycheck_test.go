package keycheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/search"
)

type fakeGemini struct {
	err   error
	calls int
	model string
}

func (f *fakeGemini) GetModel(_ context.Context, _, _, model string) error {
	f.calls++
	f.model = model
	return f.err
}

func levels(r Result) []Level {
	var out []Level
	for _, n := range r.Notes {
		out = append(out, n.Level)
	}
	return out
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("Google", "AIzaSy123"))
	assert.False(t, ValidFormat("Google", "sk-123"))
	assert.True(t, ValidFormat("OpenAI", "sk-proj-1"))
	assert.True(t, ValidFormat("Anthropic", "sk-ant-api03"))
	assert.False(t, ValidFormat("Anthropic", "sk-123"))
	assert.True(t, ValidFormat("Tavily", "tvly-abc"))
	assert.False(t, ValidFormat("Bing", "anything"))
}

func TestChecker_GoogleMissingIsFatal(t *testing.T) {
	g := &fakeGemini{}
	c := &Checker{Keys: Keys{SearchProvider: search.ProviderSearXNG}, Gemini: g, HTTPClient: http.DefaultClient}

	results := c.Run(context.Background())
	require.Len(t, results, 4)
	assert.False(t, results[0].Usable)
	assert.Equal(t, []Level{LevelFailed}, levels(results[0]))
	assert.Zero(t, g.calls)

	ok, problems := Summary(results)
	assert.False(t, ok)
	assert.Len(t, problems, 1)
}

func TestChecker_GoogleProbe(t *testing.T) {
	g := &fakeGemini{}
	c := &Checker{Keys: Keys{GeminiAPIKey: "badformat", SearchProvider: search.ProviderSearXNG}, Gemini: g, HTTPClient: http.DefaultClient}

	r := c.checkGoogle(context.Background())
	assert.True(t, r.Usable)
	assert.Equal(t, []Level{LevelWarning, LevelOK}, levels(r))
	assert.Equal(t, ProbeModel, g.model)

	g.err = errors.New("API key not valid")
	r = c.checkGoogle(context.Background())
	assert.False(t, r.Usable)
	assert.Contains(t, r.Notes[len(r.Notes)-1].Message, "API key not valid")
}

func TestChecker_OpenAIProbe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer sk-good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid key"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	c := &Checker{Keys: Keys{OpenAIAPIKey: "sk-good", OpenAIBaseURL: ts.URL}, HTTPClient: ts.Client()}
	r := c.checkOpenAI(context.Background())
	assert.True(t, r.Usable)
	assert.Equal(t, []Level{LevelOK}, levels(r))

	c.Keys.OpenAIAPIKey = "sk-bad"
	r = c.checkOpenAI(context.Background())
	assert.False(t, r.Usable)
	assert.Contains(t, r.Notes[0].Message, "401")
}

func TestChecker_PlaceholderKeysCountAsUnset(t *testing.T) {
	c := &Checker{Keys: Keys{OpenAIAPIKey: "your_openai_api_key", AnthropicAPIKey: "your_anthropic_api_key"}}
	assert.False(t, c.checkOpenAI(context.Background()).Usable)
	assert.False(t, c.checkAnthropic().Usable)
}

func TestChecker_AnthropicFormatOnly(t *testing.T) {
	c := &Checker{Keys: Keys{AnthropicAPIKey: "sk-ant-123"}}
	r := c.checkAnthropic()
	assert.True(t, r.Usable)
	assert.Equal(t, []Level{LevelInfo}, levels(r))
}

func TestChecker_Tavily(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "tvly-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer ts.Close()

	t.Run("not selected", func(t *testing.T) {
		c := &Checker{Keys: Keys{SearchProvider: search.ProviderSearXNG}}
		r := c.checkTavily(context.Background())
		assert.True(t, r.Usable)
		assert.Zero(t, calls)
	})

	t.Run("selected without key", func(t *testing.T) {
		c := &Checker{Keys: Keys{SearchProvider: search.ProviderTavily}}
		r := c.checkTavily(context.Background())
		assert.False(t, r.Usable)
		_, problems := Summary([]Result{{Name: "Google", Usable: true}, r})
		assert.Len(t, problems, 1)
	})

	t.Run("selected and valid", func(t *testing.T) {
		c := &Checker{
			Keys:       Keys{SearchProvider: search.ProviderTavily, TavilyAPIKey: "tvly-key", TavilyBaseURL: ts.URL},
			HTTPClient: ts.Client(),
		}
		r := c.checkTavily(context.Background())
		assert.True(t, r.Usable)
		assert.Equal(t, 1, calls)
	})
}
