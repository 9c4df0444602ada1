// Package config loads the runtime configuration from an optional YAML
// file, a .env file, and environment variables, in that order of
// precedence (environment wins).
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the main configuration structure for loom.
type Config struct {
	// Env is "dev" or "prod".
	Env string `yaml:"env"`

	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	// Path is the canvas store SQLite file.
	Path string `yaml:"path"`

	// SessionPath is the conversation session SQLite file.
	SessionPath string `yaml:"session_path"`
}

type StorageConfig struct {
	MediaDir  string `yaml:"media_dir"`
	ImagesDir string `yaml:"images_dir"`
	DocsDir   string `yaml:"docs_dir"`
}

type LLMConfig struct {
	// APIKey is the Google AI Studio key. Required.
	APIKey string `yaml:"api_key"`

	// ModelFast handles ingestion chores: transcription, vision,
	// summaries. ModelSmart drives the orchestrator.
	ModelFast  string `yaml:"model_fast"`
	ModelSmart string `yaml:"model_smart"`

	EmbeddingModel string `yaml:"embedding_model"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`

	// AllowedChatIDs whitelists chats; empty allows all.
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`

	SilentMode      bool          `yaml:"silent_mode"`
	ForwardDebounce time.Duration `yaml:"forward_debounce"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join("data", "loom.db")
	}
	if c.Database.SessionPath == "" {
		c.Database.SessionPath = filepath.Join("data", "sessions.db")
	}
	if c.Storage.MediaDir == "" {
		c.Storage.MediaDir = filepath.Join("data", "media")
	}
	if c.Storage.ImagesDir == "" {
		c.Storage.ImagesDir = filepath.Join("data", "images")
	}
	if c.Storage.DocsDir == "" {
		c.Storage.DocsDir = filepath.Join("data", "docs")
	}
	if c.LLM.ModelFast == "" {
		c.LLM.ModelFast = "gemini-2.0-flash"
	}
	if c.LLM.ModelSmart == "" {
		c.LLM.ModelSmart = "gemini-2.5-pro"
	}
	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = "text-embedding-004"
	}
	if c.Telegram.ForwardDebounce == 0 {
		c.Telegram.ForwardDebounce = 5 * time.Second
	}
	if c.Logging.Level == "" {
		if c.Env == "prod" {
			c.Logging.Level = "info"
		} else {
			c.Logging.Level = "debug"
		}
	}
	if c.Logging.Format == "" {
		if c.Env == "prod" {
			c.Logging.Format = "json"
		} else {
			c.Logging.Format = "text"
		}
	}
}

// Validate checks the configuration for fatal problems. It is called
// after defaults are applied so a failure here aborts startup.
func (c *Config) Validate() error {
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("config: env must be dev or prod, got %q", c.Env)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("config: llm api key is required (set GOOGLE_API_KEY)")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("config: telegram is enabled but no bot token is set (set TELEGRAM_BOT_TOKEN)")
	}
	return nil
}
