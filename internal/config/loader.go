package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration. A .env file in the working directory
// is read first if present, then the YAML file at path (optional, pass
// "" to skip), then environment variable overrides. Defaults are
// applied and the result validated.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile reads a YAML config file, expanding ${VAR} references from
// the environment.
func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv overlays the well-known environment variables onto cfg.
func applyEnv(cfg *Config) error {
	setString(&cfg.Env, "ENV")
	setString(&cfg.Server.Addr, "HTTP_ADDR")
	setString(&cfg.Database.Path, "DB_PATH")
	setString(&cfg.Database.SessionPath, "SESSION_DB_PATH")
	setString(&cfg.Storage.MediaDir, "MEDIA_PATH")
	setString(&cfg.Storage.ImagesDir, "IMAGES_PATH")
	setString(&cfg.Storage.DocsDir, "DOCS_PATH")
	setString(&cfg.LLM.APIKey, "GOOGLE_API_KEY")
	setString(&cfg.LLM.ModelFast, "GEMINI_MODEL_FAST")
	setString(&cfg.LLM.ModelSmart, "GEMINI_MODEL_SMART")
	setString(&cfg.LLM.EmbeddingModel, "GEMINI_EMBEDDING_MODEL")
	setString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")

	if cfg.Telegram.BotToken != "" {
		cfg.Telegram.Enabled = true
	}
	if v, ok := os.LookupEnv("BOT_SILENT_MODE"); ok {
		silent, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: BOT_SILENT_MODE must be a boolean, got %q", v)
		}
		cfg.Telegram.SilentMode = silent
	}
	if v, ok := os.LookupEnv("TELEGRAM_ALLOWED_CHAT_IDS"); ok {
		ids, err := parseChatIDs(v)
		if err != nil {
			return err
		}
		cfg.Telegram.AllowedChatIDs = ids
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// parseChatIDs parses a comma separated list of chat ids.
func parseChatIDs(value string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: invalid chat id %q in TELEGRAM_ALLOWED_CHAT_IDS", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
