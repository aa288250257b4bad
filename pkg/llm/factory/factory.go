package factory

import (
	"context"
	"time"

	"chat-gateway-be/pkg/llm"
	"chat-gateway-be/pkg/llm/gemini"
	"chat-gateway-be/pkg/llm/ollama"
)

type LocalConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type CloudConfig struct {
	APIKey string
	Model  string
}

func NewLocalBackend(cfg LocalConfig) llm.Backend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434" // Default
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return ollama.NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Timeout)
}

// NewCloudBackend returns nil, nil when no API key is configured: the
// gateway then runs without a cloud backend and without fallback.
func NewCloudBackend(ctx context.Context, cfg CloudConfig) (llm.Backend, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	provider, err := gemini.NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	return provider, nil
}
