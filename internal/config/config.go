package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const DefaultSystemPrompt = "You MUST answer polite and friendly, you are a helping person, you must create a good mood for him, cheer him up and please him"

type TelegramConfig struct {
	Token       string `toml:"token" yaml:"token"`
	DebugID     int64  `toml:"debug_id" yaml:"debug_id"`
	PollTimeout int    `toml:"poll_timeout" yaml:"poll_timeout"`
}

type CompletionConfig struct {
	Endpoint              string  `toml:"endpoint" yaml:"endpoint"`
	APIKey                string  `toml:"api_key" yaml:"api_key"`
	Model                 string  `toml:"model" yaml:"model"`
	SystemPrompt          string  `toml:"system_prompt" yaml:"system_prompt"`
	Temperature           float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens             int     `toml:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds        int     `toml:"timeout_seconds" yaml:"timeout_seconds"`
	MaxConcurrent         int     `toml:"max_concurrent" yaml:"max_concurrent"`
	MergeConsecutiveRoles bool    `toml:"merge_consecutive_roles" yaml:"merge_consecutive_roles"`
}

// Timeout bounds a single completion request.
func (c CompletionConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PostgresConfig struct {
	DSN      string `toml:"dsn" yaml:"dsn"`
	MaxConns int32  `toml:"max_conns" yaml:"max_conns"`
}

type HistoryConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
}

type SessionsConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
}

type AdminConfig struct {
	Bind string `toml:"bind" yaml:"bind"`
}

type MetricsConfig struct {
	Bind string `toml:"bind" yaml:"bind"`
}

type LogConfig struct {
	Level       string `toml:"level" yaml:"level"`
	WarningFile string `toml:"warning_file" yaml:"warning_file"`
}

type DebugConfig struct {
	LogRequests  bool   `toml:"log_requests" yaml:"log_requests"`
	LogResponses bool   `toml:"log_responses" yaml:"log_responses"`
	LogDirectory string `toml:"log_directory" yaml:"log_directory"`
}

type Config struct {
	DataDir        string           `toml:"data_dir" yaml:"data_dir"`
	TokenBudget    int              `toml:"token_budget" yaml:"token_budget"`
	TokenEstimator string           `toml:"token_estimator" yaml:"token_estimator"`
	Telegram       TelegramConfig   `toml:"telegram" yaml:"telegram"`
	Completion     CompletionConfig `toml:"completion" yaml:"completion"`
	Postgres       PostgresConfig   `toml:"postgres" yaml:"postgres"`
	History        HistoryConfig    `toml:"history" yaml:"history"`
	Sessions       SessionsConfig   `toml:"sessions" yaml:"sessions"`
	Admin          AdminConfig      `toml:"admin" yaml:"admin"`
	Metrics        MetricsConfig    `toml:"metrics" yaml:"metrics"`
	Log            LogConfig        `toml:"log" yaml:"log"`
	Debug          DebugConfig      `toml:"debug" yaml:"debug"`
}

func Default() Config {
	defaultDataDir := defaultDataDir()
	return Config{
		DataDir:        defaultDataDir,
		TokenBudget:    500,
		TokenEstimator: "bytes",
		Telegram: TelegramConfig{
			PollTimeout: 60,
		},
		Completion: CompletionConfig{
			Endpoint:       "http://localhost:1234/v1/chat/completions",
			Model:          "mistralai/mistral-7b-instruct-v0.2",
			SystemPrompt:   DefaultSystemPrompt,
			Temperature:    1,
			MaxTokens:      250,
			TimeoutSeconds: 60,
			MaxConcurrent:  1,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		History: HistoryConfig{
			Backend: "file",
		},
		Sessions: SessionsConfig{
			Backend: "memory",
		},
		Admin: AdminConfig{
			Bind: "127.0.0.1:50061",
		},
		Metrics: MetricsConfig{
			Bind: "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level:       "info",
			WarningFile: filepath.Join(defaultDataDir, "logs", "warning.log"),
		},
		Debug: DebugConfig{
			LogDirectory: filepath.Join(defaultDataDir, "debug"),
		},
	}
}

// LoadOrCreate reads the config at path, writing the defaults there first if the
// file does not exist. Files ending in .yaml or .yml are YAML, everything else TOML.
// The result is not validated; callers apply the environment overlay first and
// then call Validate.
func LoadOrCreate(path string) (Config, error) {
	config := Default()

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if err := Write(path, config); err != nil {
				return config, err
			}
			return config, nil
		}

		return config, err
	}

	configData, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(configData, &config)
	} else {
		err = toml.Unmarshal(configData, &config)
	}
	if err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}

	config.DataDir = expandPath(config.DataDir)
	config.Log.WarningFile = expandPath(config.Log.WarningFile)
	config.Debug.LogDirectory = expandPath(config.Debug.LogDirectory)
	config.Completion.Endpoint = strings.TrimSpace(config.Completion.Endpoint)

	return config, nil
}

// Write serializes cfg to path in the format implied by its extension.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var (
		configData []byte
		err        error
	)
	if isYAML(path) {
		configData, err = yaml.Marshal(cfg)
	} else {
		configData, err = toml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, configData, 0o644)
}

func (c Config) Validate() error {
	if c.Completion.Endpoint == "" {
		return errors.New("completion.endpoint is required")
	}

	if c.TokenBudget <= 0 {
		return errors.New("token_budget must be positive")
	}

	switch c.History.Backend {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}

	switch c.Sessions.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown sessions backend %q", c.Sessions.Backend)
	}

	if (c.History.Backend == "postgres" || c.Sessions.Backend == "postgres") && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres backend")
	}

	return nil
}

// HistoryDir is where the file history backend keeps per-user transcripts.
func (c Config) HistoryDir() string {
	return filepath.Join(c.DataDir, "history")
}

func (c Config) PIDFile() string {
	return filepath.Join(c.DataDir, "palaver.pid")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func defaultDataDir() string {
	homeDir, _ := os.UserHomeDir()

	if homeDir == "" {
		return ".palaver"
	}

	return filepath.Join(homeDir, ".palaver")
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()

		if homeDir != "" {
			trimmed := strings.TrimPrefix(path, "~")
			trimmed = strings.TrimPrefix(trimmed, string(os.PathSeparator))

			return filepath.Join(homeDir, trimmed)
		}
	}

	return path
}
