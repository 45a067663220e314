package engine

import "fmt"

// Backend provider names accepted by Detect.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	OpenAIBaseURL string
	OpenAIModel   string
	OpenAIToken   string
}

// Detect returns the Engine for the configured provider. An empty provider
// selects Ollama.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderOpenAI:
		if cfg.OpenAIModel == "" {
			return nil, fmt.Errorf("provider %q requires embedding.openai_model", cfg.Provider)
		}
		return NewOpenAIEngine(cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIToken)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
