package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 3
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
	if cfg.Suggestions.Debounce == 0 {
		cfg.Suggestions.Debounce = 300 * time.Millisecond
	}
	if cfg.Suggestions.CacheTTL == 0 {
		cfg.Suggestions.CacheTTL = 5 * time.Minute
	}
	if cfg.Suggestions.MinQueryLength == 0 {
		cfg.Suggestions.MinQueryLength = 2
	}
	if cfg.Suggestions.MaxResults == 0 {
		cfg.Suggestions.MaxResults = 10
	}
	if cfg.Routing.MinAnalysisLength == 0 {
		cfg.Routing.MinAnalysisLength = 10
	}
	if cfg.Routing.PresentThreshold == 0 {
		cfg.Routing.PresentThreshold = 0.6
	}
	if cfg.Fallback.Threshold == 0 {
		cfg.Fallback.Threshold = 3
	}
	if cfg.Chat.DefaultPersona == "" {
		cfg.Chat.DefaultPersona = "dr_gasnelio"
	}
	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = 15 * time.Second
	}
	if cfg.Chat.MaxRetries == 0 {
		cfg.Chat.MaxRetries = 3
	}
	if cfg.Chat.MaxContextTerms == 0 {
		cfg.Chat.MaxContextTerms = 5
	}
	if cfg.Sender.Kind == "" {
		cfg.Sender.Kind = "http"
	}
	if cfg.Sender.Kind == "gemini" && cfg.Sender.Model == "" {
		cfg.Sender.Model = "gemini-2.5-flash"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/gasnelio/data/db/conversations.db"
	}
	if cfg.Storage.Driver == "redis" && cfg.Storage.RedisURL == "" {
		cfg.Storage.RedisURL = "redis://localhost:6379/0"
	}
}
