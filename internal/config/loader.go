package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFile is the config file looked up in the working directory.
const DefaultConfigFile = "config.yaml"

// Loader handles configuration loading.
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file with environment overrides.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	v := viper.New()
	setDefaults(v)

	// Environment overrides: NARA_MEMORY_DIR, NARA_GATEWAY_PORT, ...
	v.SetEnvPrefix("NARA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if l.configPath != "" {
		// An explicitly named file must exist.
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fill derived paths.
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(cfg.DataDir, "memory.db")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "nara.log")
	}
	if cfg.Memory.Embedding.APIKey == "" {
		cfg.Memory.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path the loader resolves to.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	return defaultConfigPath()
}

// defaultConfigPath prefers config.yaml in the working directory, falling
// back to ~/.nara/config.yaml.
func defaultConfigPath() string {
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfigFile
	}
	return filepath.Join(home, ".nara", DefaultConfigFile)
}

// setDefaults registers every config key so environment-only overrides
// resolve during Unmarshal.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("data_dir", def.DataDir)

	v.SetDefault("memory.dir", def.Memory.Dir)
	v.SetDefault("memory.db_path", def.Memory.DBPath)
	v.SetDefault("memory.chunk_tokens", def.Memory.ChunkTokens)
	v.SetDefault("memory.chunk_overlap", def.Memory.ChunkOverlap)
	v.SetDefault("memory.search_top_k", def.Memory.SearchTopK)
	v.SetDefault("memory.vector_weight", def.Memory.VectorWeight)
	v.SetDefault("memory.text_weight", def.Memory.TextWeight)
	v.SetDefault("memory.watch", def.Memory.Watch)
	v.SetDefault("memory.watch_debounce_seconds", def.Memory.WatchDebounceSeconds)
	v.SetDefault("memory.embedding.model", def.Memory.Embedding.Model)
	v.SetDefault("memory.embedding.dimension", def.Memory.Embedding.Dimension)
	v.SetDefault("memory.embedding.api_key", def.Memory.Embedding.APIKey)
	v.SetDefault("memory.embedding.base_url", def.Memory.Embedding.BaseURL)

	v.SetDefault("skills.dir", def.Skills.Dir)
	v.SetDefault("skills.watch", def.Skills.Watch)

	v.SetDefault("agent.session_timeout_minutes", def.Agent.SessionTimeoutMinutes)
	v.SetDefault("agent.command", def.Agent.Command)
	v.SetDefault("agent.command_timeout_seconds", def.Agent.CommandTimeoutSeconds)

	v.SetDefault("channels.terminal.enabled", def.Channels.Terminal.Enabled)
	v.SetDefault("channels.whatsapp.enabled", def.Channels.WhatsApp.Enabled)

	v.SetDefault("heartbeat.enabled", def.Heartbeat.Enabled)
	v.SetDefault("heartbeat.gmail.enabled", def.Heartbeat.Gmail.Enabled)
	v.SetDefault("heartbeat.gmail.interval_minutes", def.Heartbeat.Gmail.IntervalMinutes)
	v.SetDefault("heartbeat.calendar.enabled", def.Heartbeat.Calendar.Enabled)
	v.SetDefault("heartbeat.calendar.interval_minutes", def.Heartbeat.Calendar.IntervalMinutes)
	v.SetDefault("heartbeat.calendar.hours_ahead", def.Heartbeat.Calendar.HoursAhead)
	v.SetDefault("heartbeat.daily_summary.enabled", def.Heartbeat.DailySummary.Enabled)
	v.SetDefault("heartbeat.daily_summary.time", def.Heartbeat.DailySummary.Time)

	v.SetDefault("notifications.routes", def.Notifications.Routes)
	v.SetDefault("notifications.default", def.Notifications.Default)

	v.SetDefault("gateway.enabled", def.Gateway.Enabled)
	v.SetDefault("gateway.port", def.Gateway.Port)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.file", def.Logging.File)
	v.SetDefault("logging.pretty", def.Logging.Pretty)
	v.SetDefault("logging.max_size", def.Logging.MaxSize)
	v.SetDefault("logging.max_age", def.Logging.MaxAge)
	v.SetDefault("logging.compress", def.Logging.Compress)
	v.SetDefault("logging.redaction", def.Logging.Redaction)
}

// Load is a convenience function that creates a loader and loads the config.
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
