package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/fayev1t/qqautochatbot/internal/chat"
)

// NewForgetHandler returns a handler for the /forget command. The admin
// replies to a message with /forget and the bot erases that message from its
// memory: it never appears in a prompt again and is excluded from
// vectorization.
func NewForgetHandler(deps *HandlerDeps) bot.HandlerFunc {
	return forgetHandler{deps}.Handle
}

type forgetHandler struct {
	deps *HandlerDeps
}

func (h forgetHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "forget")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Forget handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	target := update.Message.ReplyToMessage
	if target == nil {
		h.reply(ctx, b, chatID, "Reply to the message you want me to forget.")
		return
	}

	content := target.Text
	if content == "" {
		content = target.Caption
	}
	if content == "" || target.From == nil {
		h.reply(ctx, b, chatID, "I can't identify that message.")
		return
	}

	storeID, err := h.resolveStoreID(ctx, chatID, target.From.ID, content)
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve message for recall", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, "Something went wrong, try again later.")
		return
	}
	if storeID == 0 {
		h.reply(ctx, b, chatID, "I don't remember that message.")
		return
	}

	log.InfoContext(ctx, "Handling /forget command",
		"chat_id", chatID, "user_id", update.Message.From.ID, "message_id", storeID)

	h.deps.Pipeline.Submit(chat.Event{
		GroupID:   chatID,
		UserID:    update.Message.From.ID,
		IsRecall:  true,
		MessageID: storeID,
	})
	h.reply(ctx, b, chatID, "Forgotten.")
}

// resolveStoreID finds the stored message matching the replied-to message by
// sender and content within the group's recent history.
func (h forgetHandler) resolveStoreID(ctx context.Context, chatID, userID int64, content string) (int64, error) {
	recent, err := h.deps.Store.GetRecentMessagesInChat(ctx, chatID, h.deps.Config.Chat.ContextWindow)
	if err != nil {
		return 0, err
	}

	for _, msg := range recent {
		if msg.UserID == userID && msg.Content == content {
			return msg.ID, nil
		}
	}
	return 0, nil
}

func (h forgetHandler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send forget reply", "error", err, "chat_id", chatID)
	}
}
