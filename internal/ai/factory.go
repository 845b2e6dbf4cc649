package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fayev1t/qqautochatbot/internal/config"
)

// NewClient creates an AI client for the configured provider.
func NewClient(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai API key is required")
	}

	switch cfg.Provider {
	case "gemini":
		return newGeminiClient(ctx, cfg, log)
	case "openai":
		return newOpenAIClient(cfg, log)
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", cfg.Provider)
	}
}
