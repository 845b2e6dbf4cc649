package handlers

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewVectorizeHandler returns a handler for the /vectorize command. It runs
// today's vectorization job immediately instead of waiting for the schedule.
// The job ledger makes a duplicate trigger a no-op.
func NewVectorizeHandler(deps *HandlerDeps) bot.HandlerFunc {
	return vectorizeHandler{deps}.Handle
}

type vectorizeHandler struct {
	deps *HandlerDeps
}

func (h vectorizeHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "vectorize")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Vectorize handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling /vectorize command", "chat_id", chatID, "user_id", update.Message.From.ID)

	h.reply(ctx, b, chatID, "Vectorization started.")

	// The run outlives the update context, so it gets its own deadline.
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), h.deps.Config.Vectorizer.MaxRunDuration+time.Minute)
		defer cancel()

		if err := h.deps.Vectorizer.RunDaily(runCtx, time.Now()); err != nil {
			log.Error("Manual vectorization run failed", "error", err)
			h.reply(runCtx, b, chatID, "Vectorization failed, check the logs.")
			return
		}
		h.reply(runCtx, b, chatID, "Vectorization finished.")
	}()
}

func (h vectorizeHandler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send vectorize reply", "error", err, "chat_id", chatID)
	}
}
