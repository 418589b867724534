package ai

// Config holds classifier provider configuration
type Config struct {
	Provider ProviderType // "ollama" or "openai"

	// OpenAI-compatible config
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"
}

// NewClassifier creates a Classifier based on the config.
// This is the factory function - switch provider by changing config.Provider.
func NewClassifier(cfg Config) Classifier {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIService(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case ProviderOllama:
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
	default:
		// Auto mode: prefer the OpenAI-compatible endpoint when a key is
		// configured, with Ollama as the local fallback.
		if cfg.OpenAIAPIKey != "" {
			return NewFallbackService(
				NewOpenAIService(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel),
				NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel),
			)
		}
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
	}
}
