// Package main contains the entrypoint for the Telegram bot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/fayev1t/qqautochatbot/internal/ai"
	"github.com/fayev1t/qqautochatbot/internal/bot"
	"github.com/fayev1t/qqautochatbot/internal/bot/handlers"
	"github.com/fayev1t/qqautochatbot/internal/bot/tasks"
	"github.com/fayev1t/qqautochatbot/internal/chat"
	"github.com/fayev1t/qqautochatbot/internal/config"
	"github.com/fayev1t/qqautochatbot/internal/database"
	"github.com/fayev1t/qqautochatbot/internal/logger"
	"github.com/fayev1t/qqautochatbot/internal/telegram"
	"github.com/fayev1t/qqautochatbot/internal/vectorizer"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// AI client, chat pipeline, bot, scheduler), handles graceful shutdown, and
// returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	aiClient, err := ai.NewClient(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "error", err)
		return 1
	}

	gate := chat.NewSilenceGate(log)
	vec := vectorizer.NewVectorizer(store, aiClient, cfg.Vectorizer, cfg.AI, log)

	// Pipeline is bound below, once the bot's own identity is known. Updates
	// only flow after app.Run starts polling.
	hDeps := &handlers.HandlerDeps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		Gate:       gate,
		Vectorizer: vec,
	}
	tDeps := tasks.TaskDeps{
		Logger:     log,
		Store:      store,
		Vectorizer: vec,
		Config:     cfg,
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewGroupMessageHandler(hDeps)),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	cfg.Telegram.BotInfo = config.BotInfo{
		ID:        me.ID,
		Username:  me.Username,
		FirstName: me.FirstName,
	}
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	contextManager := chat.NewContextManager(store, cfg.Chat, me.ID, log)
	judge, err := chat.NewMessageJudge(gate, aiClient, cfg.Chat, log)
	if err != nil {
		log.Error("Failed to create message judge", "error", err)
		return 1
	}
	generator := chat.NewConversationGenerator(aiClient, cfg.Chat, cfg.AI, log)
	sender := telegram.NewSender(tg, log)
	pipeline := chat.NewPipeline(store, contextManager, judge, generator, sender, cfg.Chat, log)

	hDeps.Pipeline = pipeline

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, cfg, db, store, pipeline, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
