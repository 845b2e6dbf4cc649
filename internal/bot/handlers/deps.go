package handlers

import (
	"log/slog"

	"github.com/fayev1t/qqautochatbot/internal/chat"
	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
	"github.com/fayev1t/qqautochatbot/internal/vectorizer"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	Pipeline   *chat.Pipeline
	Gate       *chat.SilenceGate
	Vectorizer *vectorizer.Vectorizer
}
