// Package config loads whereismy settings from defaults, a JSON file and
// WHEREISMY_* environment variables, and keeps the API tokens in a
// secrets file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Log       LogConfig
	Search    SearchConfig
	Secrets   Secrets
}

type ServerConfig struct {
	Port int
	// DispatchConcurrency bounds how many events of one batch run at once.
	DispatchConcurrency int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type EmbeddingConfig struct {
	Provider string // "ollama" or "openai"
	// Dimension every vector must have; 0 disables the check. When unset it
	// follows the selected model, see knownDimensions.
	Dimension     int
	OpenAIBaseURL string
	OpenAIModel   string
}

type StorageConfig struct {
	DataDir string
}

type CatalogConfig struct {
	// Path to a YAML catalog; empty uses the built-in one.
	Path string
}

type LogConfig struct {
	Level string
}

type SearchConfig struct {
	TopK int
}

// Secrets are never written to the config file.
type Secrets struct {
	ModeratorToken string
	TransportToken string
	OpenAIAPIKey   string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:                8080,
			DispatchConcurrency: 8,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Embedding: EmbeddingConfig{
			Provider:      "ollama",
			OpenAIBaseURL: "https://api.openai.com/v1",
			OpenAIModel:   "text-embedding-3-small",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Search: SearchConfig{
			TopK: 5,
		},
	}
}

// EmbedModel returns the model name of the selected embedding provider.
func (c Config) EmbedModel() string {
	if c.Embedding.Provider == "openai" {
		return c.Embedding.OpenAIModel
	}
	return c.Ollama.EmbedModel
}

// SlogLevel maps Log.Level to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/whereismy/config.json, applies WHEREISMY_* environment
// overrides and resolves secrets. Missing moderator and transport tokens are
// generated and saved to secrets.json in storage.data_dir so they survive
// restarts.
func Load() (Config, error) {
	cfg, err := loadSettings(newPlatformBackend())
	if err != nil {
		return Config{}, err
	}
	return finish(cfg, newFileSecrets(secretsFilePath(cfg.Storage.DataDir)))
}

func loadWith(b ConfigBackend, sec secretStore) (Config, error) {
	cfg, err := loadSettings(b)
	if err != nil {
		return Config{}, err
	}
	return finish(cfg, sec)
}

// loadSettings resolves every non-secret key.
func loadSettings(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	set, err := dimensionSet(b)
	if err != nil {
		return Config{}, err
	}
	if !set {
		cfg.Embedding.Dimension = knownDimension(cfg.EmbedModel())
	}
	return cfg, nil
}

func finish(cfg Config, sec secretStore) (Config, error) {
	if err := resolveSecrets(&cfg, sec); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// knownDimensions lists output sizes of common embedding models.
var knownDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// knownDimension returns the vector size of model, ignoring an Ollama tag.
// Unknown models yield 0, which disables the length check.
func knownDimension(model string) int {
	name, _, _ := strings.Cut(model, ":")
	return knownDimensions[name]
}

func dimensionSet(b ConfigBackend) (bool, error) {
	if os.Getenv(dimensionEnv) != "" {
		return true, nil
	}
	_, ok, err := b.GetInt(dimensionKey)
	return ok, err
}

// resolveSecrets fills secrets not set through the environment from the
// secrets store, generating the API tokens on first run.
func resolveSecrets(cfg *Config, sec secretStore) error {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := sec.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
			continue
		}
		if !s.generate {
			continue
		}
		token := uuid.NewString()
		if err := sec.Set(s.key, token); err != nil {
			return fmt.Errorf("saving generated %s: %w", s.key, err)
		}
		s.apply(cfg, token)
	}
	return nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Embedding.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be ollama or openai, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must not be negative"))
	}
	if c.Search.TopK <= 0 {
		errs = append(errs, fmt.Errorf("search.top_k must be positive"))
	}
	if c.Server.DispatchConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("server.dispatch_concurrency must be positive"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
