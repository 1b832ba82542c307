package llm

import (
	"context"
	"fmt"

	"github.com/quillmem/synapse/internal/config"
)

// Client is the interface for LLM providers used by model-assisted
// extraction. The generator itself is external; this client only issues
// small structured completions.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
// An empty provider disables model-assisted extraction.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
