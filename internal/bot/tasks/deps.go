// Package tasks implements scheduled background tasks for the bot,
// including task definitions, dependencies, and registration.
package tasks

import (
	"log/slog"

	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
	"github.com/fayev1t/qqautochatbot/internal/vectorizer"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger     *slog.Logger
	Store      database.Store
	Vectorizer *vectorizer.Vectorizer
	Config     *config.Config
}
