package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewShushHandler returns a handler for the /shush command. An optional
// minutes argument bounds the silence; without it the bot stays quiet until
// /speak is issued.
func NewShushHandler(deps *HandlerDeps) bot.HandlerFunc {
	return shushHandler{deps}.Handle
}

type shushHandler struct {
	deps *HandlerDeps
}

func (h shushHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "shush")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Shush handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling /shush command", "chat_id", chatID, "user_id", update.Message.From.ID)

	var duration time.Duration
	confirmation := "Understood, I'll stay quiet here."
	if fields := strings.Fields(update.Message.Text); len(fields) > 1 {
		minutes, err := strconv.Atoi(fields[1])
		if err != nil || minutes <= 0 {
			if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Usage: /shush [minutes]"}); err != nil {
				log.ErrorContext(ctx, "Failed to send shush usage", "error", err, "chat_id", chatID)
			}
			return
		}
		duration = time.Duration(minutes) * time.Minute
		confirmation = fmt.Sprintf("Understood, I'll stay quiet for %d minutes.", minutes)
	}

	// Zero duration means silenced until explicitly released.
	h.deps.Gate.Suppress(chatID, duration)

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: confirmation})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send shush confirmation", "error", err, "chat_id", chatID)
	}
}

// NewSpeakHandler returns a handler for the /speak command. It releases any
// silence on the current group.
func NewSpeakHandler(deps *HandlerDeps) bot.HandlerFunc {
	return speakHandler{deps}.Handle
}

type speakHandler struct {
	deps *HandlerDeps
}

func (h speakHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "speak")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Speak handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	log.InfoContext(ctx, "Handling /speak command", "chat_id", chatID, "user_id", update.Message.From.ID)

	h.deps.Gate.Release(chatID)

	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "I'm back!"})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send speak confirmation", "error", err, "chat_id", chatID)
	}
}
