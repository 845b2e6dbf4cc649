package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fayev1t/qqautochatbot/internal/ai"
	"github.com/fayev1t/qqautochatbot/internal/config"
)

// ErrGenerationUnavailable indicates reply generation failed after all
// retries. The triggering message stays unprocessed so a retry path remains
// open.
var ErrGenerationUnavailable = errors.New("reply generation unavailable")

// ConversationGenerator is the second-layer AI: it produces the actual reply
// text once the judge has decided the bot should speak.
type ConversationGenerator struct {
	client  ai.Client
	chatCfg config.ChatConfig
	aiCfg   config.AIConfig
	logger  *slog.Logger
}

func NewConversationGenerator(client ai.Client, chatCfg config.ChatConfig, aiCfg config.AIConfig, logger *slog.Logger) *ConversationGenerator {
	return &ConversationGenerator{
		client:  client,
		chatCfg: chatCfg,
		aiCfg:   aiCfg,
		logger:  logger.With("component", "conversation_generator"),
	}
}

// Generate produces a reply for the triggering event, retrying transient
// provider failures up to the configured limit. The caller records the reply
// in context and storage once it has actually been delivered.
func (g *ConversationGenerator) Generate(ctx context.Context, ev Event, turns []Turn) (string, error) {
	req := ai.GenerateRequest{
		Persona:        g.chatCfg.Persona,
		Context:        formatTurns(turns),
		CurrentMessage: formatEvent(ev),
	}

	var lastErr error
	for attempt := 0; attempt <= g.aiCfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.logger.WarnContext(ctx, "Retrying reply generation",
				"group_id", ev.GroupID, "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, g.aiCfg.RetryDelay); err != nil {
				return "", fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
			}
		}

		reply, err := g.client.Generate(ctx, req)
		if err == nil {
			return reply, nil
		}

		lastErr = err
		if !isTransient(err) {
			break
		}
	}

	g.logger.ErrorContext(ctx, "Reply generation failed",
		"group_id", ev.GroupID, "error", lastErr)
	return "", fmt.Errorf("%w: %w", ErrGenerationUnavailable, lastErr)
}

// isTransient reports whether a provider error is worth another attempt.
func isTransient(err error) bool {
	return errors.Is(err, ai.ErrTimeout) ||
		errors.Is(err, ai.ErrRateLimited) ||
		errors.Is(err, ai.ErrUnavailable)
}

// sleepCtx waits for the given duration unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
