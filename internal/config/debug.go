package config

import "os"

func LoadDebugConfigFromEnv(cfg DebugConfig) DebugConfig {
	if os.Getenv("PALAVER_DEBUG_LOG_REQUESTS") == "1" {
		cfg.LogRequests = true
	}
	if os.Getenv("PALAVER_DEBUG_LOG_RESPONSES") == "1" {
		cfg.LogResponses = true
	}
	if dir := os.Getenv("PALAVER_DEBUG_LOG_DIRECTORY"); dir != "" {
		cfg.LogDirectory = dir
	}
	return cfg
}
