package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ApplyEnv loads .env files (missing ones are ignored) and overlays environment
// variables onto cfg. BOT_TOKEN and DEBUG_ID keep their historical names.
func ApplyEnv(cfg Config, envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load env file", "path", file, "error", err)
		}
	}

	setIfNotEmpty := func(dst *string, key string) {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			*dst = value
		}
	}

	setIfNotEmpty(&cfg.Telegram.Token, "BOT_TOKEN")
	setIfNotEmpty(&cfg.Completion.Endpoint, "PALAVER_COMPLETION_ENDPOINT")
	setIfNotEmpty(&cfg.Completion.APIKey, "PALAVER_COMPLETION_API_KEY")
	setIfNotEmpty(&cfg.Completion.Model, "PALAVER_COMPLETION_MODEL")
	setIfNotEmpty(&cfg.Postgres.DSN, "PALAVER_POSTGRES_DSN")

	if raw := strings.TrimSpace(os.Getenv("DEBUG_ID")); raw != "" {
		debugID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			slog.Warn("DEBUG_ID is not a valid user id, /debug is disabled", "value", raw)
			debugID = 0
		}
		cfg.Telegram.DebugID = debugID
	}

	cfg.Debug = LoadDebugConfigFromEnv(cfg.Debug)

	return cfg
}
