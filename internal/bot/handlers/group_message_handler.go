package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/fayev1t/qqautochatbot/internal/chat"
)

// NewGroupMessageHandler returns the default handler. It normalizes every
// group message into a pipeline event; the pipeline decides whether the bot
// responds.
func NewGroupMessageHandler(deps *HandlerDeps) bot.HandlerFunc {
	return groupMessageHandler{deps}.Handle
}

type groupMessageHandler struct {
	deps *HandlerDeps
}

func (h groupMessageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "group_message")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message or sender", "update_id", update.ID)
		return
	}
	if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
		log.DebugContext(ctx, "Ignoring non-group message", "chat_id", msg.Chat.ID)
		return
	}
	if msg.From.ID == h.deps.Config.Telegram.BotInfo.ID {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		log.DebugContext(ctx, "Ignoring message without text content", "chat_id", msg.Chat.ID)
		return
	}

	username := msg.From.Username
	if username == "" {
		username = msg.From.FirstName
	}

	h.deps.Pipeline.Submit(chat.Event{
		GroupID:   msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  username,
		Content:   text,
		Type:      "text",
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
	})
}
