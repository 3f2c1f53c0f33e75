// Package config loads service settings from the environment, an optional
// .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/worker"
)

type Config struct {
	Port string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	CacheSize   int
	CacheTTL    time.Duration

	GeminiAPIKey     string
	GeminiBaseURL    string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string

	SearchProvider             string
	SearXNGBaseURL             string
	SearXNGPlaceholderOnOutage bool
	TavilyAPIKey               string
	TavilyBaseURL              string
	ArxivBaseURL               string
	SearchContentMaxChars      int

	DefaultModel       string
	DefaultMaxSearches int
	MaxConcurrentJobs  int
	StreamPollInterval time.Duration
	LLMTimeout         time.Duration
	ReportTimeout      time.Duration
	SearchTimeout      time.Duration

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8000")

	v.SetDefault("STORE_DRIVER", store.DriverMemory)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", store.DefaultSQLitePath)
	v.SetDefault("CACHE_SIZE", 256)
	v.SetDefault("CACHE_TTL", store.DefaultCacheTTL)

	v.SetDefault("GOOGLE_GENERATIVE_AI_API_KEY", "")
	v.SetDefault("GOOGLE_GENERATIVE_AI_API_BASE_URL", clients.DefaultGeminiURL)
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_API_BASE_URL", clients.DefaultOpenAIURL)
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("ANTHROPIC_API_BASE_URL", clients.DefaultAnthropicURL)

	v.SetDefault("SEARCH_PROVIDER", search.ProviderSearXNG)
	v.SetDefault("SEARXNG_API_BASE_URL", search.DefaultSearXNGURL)
	v.SetDefault("SEARXNG_PLACEHOLDER_ON_OUTAGE", true)
	v.SetDefault("TAVILY_API_KEY", "")
	v.SetDefault("TAVILY_API_BASE_URL", search.DefaultTavilyURL)
	v.SetDefault("ARXIV_API_BASE_URL", search.DefaultArxivURL)
	v.SetDefault("SEARCH_CONTENT_MAX_CHARS", 4000)

	v.SetDefault("DEFAULT_MODEL", "gemini-1.5-pro")
	v.SetDefault("DEFAULT_MAX_SEARCHES", 5)
	v.SetDefault("MAX_CONCURRENT_JOBS", worker.DefaultSize)
	v.SetDefault("STREAM_POLL_INTERVAL", research.DefaultPollInterval)
	v.SetDefault("LLM_TIMEOUT", research.DefaultLLMTimeout)
	v.SetDefault("REPORT_TIMEOUT", research.DefaultReportTimeout)
	v.SetDefault("SEARCH_TIMEOUT", search.DefaultTimeout)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads .env (if present) into the environment, then resolves every
// setting from the environment, the config file at path, and defaults, in
// that order of precedence. With an empty path, ./deep-research.yaml is
// used when it exists.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("deep-research")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{
		Port: v.GetString("PORT"),

		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL: v.GetString("DATABASE_URL"),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		CacheSize:   v.GetInt("CACHE_SIZE"),
		CacheTTL:    v.GetDuration("CACHE_TTL"),

		GeminiAPIKey:     v.GetString("GOOGLE_GENERATIVE_AI_API_KEY"),
		GeminiBaseURL:    v.GetString("GOOGLE_GENERATIVE_AI_API_BASE_URL"),
		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:    v.GetString("OPENAI_API_BASE_URL"),
		AnthropicAPIKey:  v.GetString("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: v.GetString("ANTHROPIC_API_BASE_URL"),

		SearchProvider:             strings.ToLower(v.GetString("SEARCH_PROVIDER")),
		SearXNGBaseURL:             v.GetString("SEARXNG_API_BASE_URL"),
		SearXNGPlaceholderOnOutage: v.GetBool("SEARXNG_PLACEHOLDER_ON_OUTAGE"),
		TavilyAPIKey:               v.GetString("TAVILY_API_KEY"),
		TavilyBaseURL:              v.GetString("TAVILY_API_BASE_URL"),
		ArxivBaseURL:               v.GetString("ARXIV_API_BASE_URL"),
		SearchContentMaxChars:      v.GetInt("SEARCH_CONTENT_MAX_CHARS"),

		DefaultModel:       v.GetString("DEFAULT_MODEL"),
		DefaultMaxSearches: v.GetInt("DEFAULT_MAX_SEARCHES"),
		MaxConcurrentJobs:  v.GetInt("MAX_CONCURRENT_JOBS"),
		StreamPollInterval: v.GetDuration("STREAM_POLL_INTERVAL"),
		LLMTimeout:         v.GetDuration("LLM_TIMEOUT"),
		ReportTimeout:      v.GetDuration("REPORT_TIMEOUT"),
		SearchTimeout:      v.GetDuration("SEARCH_TIMEOUT"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with. Missing API keys
// are not errors here: a backend without a key fails its own jobs.
func (c *Config) Validate() error {
	var errs []error

	if _, err := clients.ResolveBackend(c.DefaultModel); err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_MODEL: %w", err))
	}
	if c.DefaultMaxSearches < 0 {
		errs = append(errs, errors.New("DEFAULT_MAX_SEARCHES must not be negative"))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_JOBS must be positive"))
	}

	switch c.StoreDriver {
	case store.DriverMemory, store.DriverSQLite:
	case store.DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}

	switch c.SearchProvider {
	case search.ProviderSearXNG, search.ProviderTavily, search.ProviderArxiv:
	default:
		errs = append(errs, fmt.Errorf("SEARCH_PROVIDER: unsupported provider %q", c.SearchProvider))
	}

	for key, d := range map[string]time.Duration{
		"STREAM_POLL_INTERVAL": c.StreamPollInterval,
		"LLM_TIMEOUT":          c.LLMTimeout,
		"REPORT_TIMEOUT":       c.ReportTimeout,
		"SEARCH_TIMEOUT":       c.SearchTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration such as 30s", key))
		}
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: want text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SearchConfig is the search client configuration.
func (c *Config) SearchConfig() search.Config {
	return search.Config{
		Provider:            c.SearchProvider,
		SearXNGBaseURL:      c.SearXNGBaseURL,
		PlaceholderOnOutage: c.SearXNGPlaceholderOnOutage,
		TavilyAPIKey:        c.TavilyAPIKey,
		TavilyBaseURL:       c.TavilyBaseURL,
		ArxivBaseURL:        c.ArxivBaseURL,
		Timeout:             c.SearchTimeout,
		ContentMaxChars:     c.SearchContentMaxChars,
	}
}

// ClientsConfig is the language-model backend configuration.
func (c *Config) ClientsConfig(logger *slog.Logger) clients.Config {
	return clients.Config{
		GeminiAPIKey:     c.GeminiAPIKey,
		GeminiBaseURL:    c.GeminiBaseURL,
		OpenAIAPIKey:     c.OpenAIAPIKey,
		OpenAIBaseURL:    c.OpenAIBaseURL,
		AnthropicAPIKey:  c.AnthropicAPIKey,
		AnthropicBaseURL: c.AnthropicBaseURL,
		Logger:           logger,
	}
}

// StoreOptions is the persistence configuration.
func (c *Config) StoreOptions(logger *slog.Logger) store.Options {
	return store.Options{
		Driver:      c.StoreDriver,
		DatabaseURL: c.DatabaseURL,
		SQLitePath:  c.SQLitePath,
		CacheSize:   c.CacheSize,
		CacheTTL:    c.CacheTTL,
		Logger:      logger,
	}
}

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(c *Config, w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
