// Package config provides configuration loading and structs for the gasnelio server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Taxonomy    TaxonomyConfig    `yaml:"taxonomy"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Routing     RoutingConfig     `yaml:"routing"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Chat        ChatConfig        `yaml:"chat"`
	Sender      SenderConfig      `yaml:"sender"`
	Storage     StorageConfig     `yaml:"storage"`
	Events      EventsConfig      `yaml:"events"`
}

// LoggingConfig holds the optional rotating log file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TaxonomyConfig points at the term file. An empty path uses the built-in
// taxonomy.
type TaxonomyConfig struct {
	Path  string `yaml:"path"`
	Watch *bool  `yaml:"watch"`
}

// WatchOrDefault returns whether to reload the taxonomy on change; defaults
// to true when a path is set.
func (t *TaxonomyConfig) WatchOrDefault() bool {
	if t.Watch != nil {
		return *t.Watch
	}
	return t.Path != ""
}

// SuggestionsConfig holds the suggestion engine settings.
type SuggestionsConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MinQueryLength int           `yaml:"min_query_length"`
	MaxResults     int           `yaml:"max_results"`
}

// RoutingConfig holds the persona classifier settings.
type RoutingConfig struct {
	RulesPath         string  `yaml:"rules_path"`
	MinAnalysisLength int     `yaml:"min_analysis_length"`
	PresentThreshold  float64 `yaml:"present_threshold"`
}

// FallbackConfig holds the degraded-mode threshold.
type FallbackConfig struct {
	Threshold int `yaml:"threshold"`
}

// ChatConfig holds delivery settings.
type ChatConfig struct {
	DefaultPersona  string        `yaml:"default_persona"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	MaxContextTerms int           `yaml:"max_context_terms"`
}

// SenderConfig selects the answer backend: "http" or "gemini".
type SenderConfig struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// StorageConfig selects the message store: "memory", "sqlite", "redis" or
// "none".
type StorageConfig struct {
	Driver       string        `yaml:"driver"`
	DatabasePath string        `yaml:"database_path"`
	RedisURL     string        `yaml:"redis_url"`
	RedisTTL     time.Duration `yaml:"redis_ttl"`
}

// EventsConfig enables the NATS publisher when NATSURL is set.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

// Load reads and parses the config file at path, applies environment
// overrides, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Logging.File = expandPath(cfg.Logging.File, configDir)
	cfg.Taxonomy.Path = expandPath(cfg.Taxonomy.Path, configDir)
	cfg.Routing.RulesPath = expandPath(cfg.Routing.RulesPath, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides secrets and endpoints from GASNELIO_* variables.
func ApplyEnv(cfg *Config) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&cfg.Sender.Kind, "GASNELIO_SENDER_KIND")
	setString(&cfg.Sender.Endpoint, "GASNELIO_SENDER_ENDPOINT")
	setString(&cfg.Sender.APIKey, "GASNELIO_SENDER_API_KEY", "GEMINI_API_KEY")
	setString(&cfg.Sender.Model, "GASNELIO_SENDER_MODEL")
	setString(&cfg.Storage.Driver, "GASNELIO_STORAGE_DRIVER")
	setString(&cfg.Storage.RedisURL, "GASNELIO_REDIS_URL")
	setString(&cfg.Events.NATSURL, "GASNELIO_NATS_URL")
	setString(&cfg.Taxonomy.Path, "GASNELIO_TAXONOMY_PATH")

	if v := os.Getenv("GASNELIO_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("GASNELIO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
