// Package telegram handles the setup of the Telegram transport: bot
// construction, handler registration, and outbound message delivery.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"

	"github.com/fayev1t/qqautochatbot/internal/bot/handlers"
)

// NewTelegramBot creates a new Telegram bot instance using the
// go-telegram/bot library.
func NewTelegramBot(token string, logger *slog.Logger, opts ...bot.Option) (*bot.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram_bot")

	b, err := bot.New(token, opts...)
	if err != nil {
		log.Error("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	log.Info("Telegram bot instance created successfully")
	return b, nil
}

// applyMiddleware wraps a handler function with a slice of middleware.
// Middleware are applied in reverse order so the first one in the slice is
// the outermost.
func applyMiddleware(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// RegisterHandlers registers command handlers with the Telegram bot
// instance, applying each handler's middleware.
func RegisterHandlers(b *bot.Bot, logger *slog.Logger, registeredHandlers map[string]handlers.RegisteredHandler) error {
	if b == nil {
		return fmt.Errorf("bot instance cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "handler_registry")

	if len(registeredHandlers) == 0 {
		log.Warn("No handlers provided for registration.")
		return nil
	}

	for _, regHandler := range registeredHandlers {
		if regHandler.Handler == nil {
			log.Warn("Skipping registration for nil handler", "pattern", regHandler.Pattern)
			continue
		}

		finalHandler := applyMiddleware(regHandler.Handler, regHandler.Middleware)
		b.RegisterHandler(regHandler.HandlerType, regHandler.Pattern, regHandler.MatchType, finalHandler)
		log.Debug("Registered handler",
			"pattern", regHandler.Pattern, "middleware_count", len(regHandler.Middleware))
	}

	log.Info("Registered Telegram handlers successfully", "count", len(registeredHandlers))
	return nil
}

// Sender delivers outbound group messages through the Telegram API. It is
// the pipeline's reply transport.
type Sender struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewSender wraps a bot instance as an outbound sender.
func NewSender(b *bot.Bot, logger *slog.Logger) *Sender {
	return &Sender{
		bot:    b,
		logger: logger.With("component", "telegram_sender"),
	}
}

// SendGroupMessage sends a plain text message to the given group chat.
func (s *Sender) SendGroupMessage(ctx context.Context, groupID int64, text string) error {
	sent, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: groupID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to group %d: %w", groupID, err)
	}

	s.logger.DebugContext(ctx, "Sent group message", "chat_id", groupID, "message_id", sent.ID)
	return nil
}
