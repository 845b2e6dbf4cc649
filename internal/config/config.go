// Package config provides configuration loading, validation, and management
// for the bot. It reads config.yaml plus BOT_* environment variables via
// viper, applies defaults, and validates the result.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components:
// logging, transport, storage, the AI capability, chat pipeline tuning,
// and scheduled tasks.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	AI         AIConfig         `mapstructure:"ai"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Vectorizer VectorizerConfig `mapstructure:"vectorizer"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Messages   MessagesConfig   `mapstructure:"messages"`
}

// MessagesConfig holds operator-customizable reply texts.
type MessagesConfig struct {
	Unauthorized string `mapstructure:"unauthorized" validate:"required"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// BotInfo holds the bot's own identity, filled in at startup from GetMe.
type BotInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// TelegramConfig holds transport credentials and the admin user.
type TelegramConfig struct {
	Token       string `mapstructure:"token"         validate:"required"`
	AdminUserID int64  `mapstructure:"admin_user_id" validate:"required,gt=0"`

	// BotInfo is populated at runtime, not from the config file.
	BotInfo BotInfo `mapstructure:"-"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// AIConfig selects and tunes the model provider.
type AIConfig struct {
	Provider         string        `mapstructure:"provider"          validate:"oneof=openai gemini"`
	APIKey           string        `mapstructure:"api_key"           validate:"required"`
	BaseURL          string        `mapstructure:"base_url"          validate:"omitempty,url"`
	Model            string        `mapstructure:"model"             validate:"required"`
	EmbeddingModel   string        `mapstructure:"embedding_model"   validate:"required"`
	JudgeTemperature float32       `mapstructure:"judge_temperature" validate:"min=0,max=2"`
	ReplyTemperature float32       `mapstructure:"reply_temperature" validate:"min=0,max=2"`
	Timeout          time.Duration `mapstructure:"timeout"           validate:"min=1s,max=10m"`
	MaxRetries       int           `mapstructure:"max_retries"       validate:"min=0,max=10"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"       validate:"min=100ms,max=1m"`
}

// ChatConfig tunes the message pipeline.
type ChatConfig struct {
	// Persona is the system preamble for reply generation.
	Persona string `mapstructure:"persona" validate:"required"`

	// ContextWindow bounds the per-group context by message count;
	// ContextMaxAge bounds it by turn age. Whichever bound is reached first
	// wins during backfill.
	ContextWindow int           `mapstructure:"context_window"  validate:"min=1,max=200"`
	ContextMaxAge time.Duration `mapstructure:"context_max_age" validate:"min=1m"`

	// EntryBudget caps a single context entry, in characters. Oversized
	// entries are truncated from the start.
	EntryBudget int `mapstructure:"entry_budget" validate:"min=64"`

	// ForceTriggerPatterns are regular expressions that force a reply
	// decision without a judge model call (e.g. an explicit bot mention
	// or a command prefix).
	ForceTriggerPatterns []string `mapstructure:"force_trigger_patterns"`

	// ReleaseTriggerPatterns are regular expressions that lift an active
	// suppression, checked before the silence gate short-circuits so a
	// silenced group can wake the bot without a model call.
	ReleaseTriggerPatterns []string `mapstructure:"release_trigger_patterns"`

	// SilenceDuration is how long a judge-driven suppression lasts.
	SilenceDuration time.Duration `mapstructure:"silence_duration" validate:"min=1m"`

	// QueueSize bounds each per-group event queue.
	QueueSize int `mapstructure:"queue_size" validate:"min=1"`
}

// VectorizerConfig tunes the daily vectorization job.
type VectorizerConfig struct {
	BatchSize      int           `mapstructure:"batch_size"       validate:"min=1,max=1000"`
	MaxRunDuration time.Duration `mapstructure:"max_run_duration" validate:"min=1m"`
	StaleAfter     time.Duration `mapstructure:"stale_after"      validate:"min=10m"`
}

// TaskConfig enables and schedules a single background task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// Load reads configuration from config.yaml and BOT_* environment variables,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	startTime := time.Now()
	slog.Info("loading configuration", "path", path)

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		slog.Info("configuration file not found, using defaults and environment", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("configuration loaded successfully",
		"log_level", cfg.Log.Level,
		"ai_provider", cfg.AI.Provider,
		"ai_model", cfg.AI.Model,
		"db_path", cfg.Database.Path,
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.embedding_model", "text-embedding-3-small")
	v.SetDefault("ai.judge_temperature", 0.6)
	v.SetDefault("ai.reply_temperature", 0.9)
	v.SetDefault("ai.timeout", 2*time.Minute)
	v.SetDefault("ai.max_retries", 3)
	v.SetDefault("ai.retry_delay", 2*time.Second)

	v.SetDefault("chat.persona", "You are a friendly group-chat companion. Keep replies short, casual, and in the tone of the ongoing conversation.")
	v.SetDefault("chat.context_window", 30)
	v.SetDefault("chat.context_max_age", 2*time.Hour)
	v.SetDefault("chat.entry_budget", 2000)
	v.SetDefault("chat.force_trigger_patterns", []string{})
	v.SetDefault("chat.release_trigger_patterns", []string{`(?i)\bspeak\s*up\b`})
	v.SetDefault("chat.silence_duration", 30*time.Minute)
	v.SetDefault("chat.queue_size", 64)

	v.SetDefault("messages.unauthorized", "You are not authorized to use this command.")

	v.SetDefault("vectorizer.batch_size", 100)
	v.SetDefault("vectorizer.max_run_duration", 30*time.Minute)
	v.SetDefault("vectorizer.stale_after", time.Hour)

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"vectorization":   {Enabled: true, Schedule: "0 3 * * *"},
		"sql_maintenance": {Enabled: true, Schedule: "0 5 * * 0"},
	})
}
