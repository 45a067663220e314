package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	dimensionKey = "embedding.dimension"
	dimensionEnv = "WHEREISMY_EMBEDDING_DIMENSION"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// generate marks secrets created on first run when absent.
	generate bool
	apply    func(cfg *Config, v any)
	extract  func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "WHEREISMY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.dispatch_concurrency", typ: kInt, env: "WHEREISMY_SERVER_DISPATCH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Server.DispatchConcurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.DispatchConcurrency },
	},
	{
		key: "ollama.base_url", typ: kString, env: "WHEREISMY_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "WHEREISMY_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "embedding.provider", typ: kString, env: "WHEREISMY_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: dimensionKey, typ: kInt, env: dimensionEnv,
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "embedding.openai_base_url", typ: kString, env: "WHEREISMY_EMBEDDING_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.OpenAIBaseURL },
	},
	{
		key: "embedding.openai_model", typ: kString, env: "WHEREISMY_EMBEDDING_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.OpenAIModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WHEREISMY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "catalog.path", typ: kString, env: "WHEREISMY_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "log.level", typ: kString, env: "WHEREISMY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "search.top_k", typ: kInt, env: "WHEREISMY_SEARCH_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Search.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.TopK },
	},
	{
		key: "moderator_token", typ: kString, env: "WHEREISMY_MODERATOR_TOKEN",
		secret: true, generate: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.ModeratorToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.ModeratorToken },
	},
	{
		key: "transport_token", typ: kString, env: "WHEREISMY_TRANSPORT_TOKEN",
		secret: true, generate: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.TransportToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.TransportToken },
	},
	{
		key: "openai_api_key", typ: kString, env: "WHEREISMY_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Secrets.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Secrets.OpenAIAPIKey },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
