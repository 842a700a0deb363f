package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the main nara configuration.
type Config struct {
	// Data directory for derived state (index db, logs, pid file)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Memory subsystem
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Skills
	Skills SkillsConfig `json:"skills" mapstructure:"skills"`

	// Agent
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Channels
	Channels ChannelsConfig `json:"channels" mapstructure:"channels"`

	// Heartbeat
	Heartbeat HeartbeatConfig `json:"heartbeat" mapstructure:"heartbeat"`

	// Notifications
	Notifications NotificationsConfig `json:"notifications" mapstructure:"notifications"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// MemoryConfig holds memory index configuration.
type MemoryConfig struct {
	Dir                  string          `json:"dir" mapstructure:"dir"`
	DBPath               string          `json:"db_path" mapstructure:"db_path"`
	ChunkTokens          int             `json:"chunk_tokens" mapstructure:"chunk_tokens"`
	ChunkOverlap         int             `json:"chunk_overlap" mapstructure:"chunk_overlap"`
	SearchTopK           int             `json:"search_top_k" mapstructure:"search_top_k"`
	VectorWeight         float64         `json:"vector_weight" mapstructure:"vector_weight"`
	TextWeight           float64         `json:"text_weight" mapstructure:"text_weight"`
	Watch                bool            `json:"watch" mapstructure:"watch"`
	WatchDebounceSeconds int             `json:"watch_debounce_seconds" mapstructure:"watch_debounce_seconds"`
	Embedding            EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
}

// EmbeddingConfig holds embedding backend configuration. BaseURL points the
// client at any OpenAI-compatible server; empty means the default endpoint.
type EmbeddingConfig struct {
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
}

// SkillsConfig holds skills loader configuration.
type SkillsConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// AgentConfig holds agent configuration. Command is the external program
// completions are piped through (the prompt on stdin, the reply on stdout);
// empty leaves the agent without a completion backend.
type AgentConfig struct {
	SessionTimeoutMinutes int      `json:"session_timeout_minutes" mapstructure:"session_timeout_minutes"`
	Command               []string `json:"command" mapstructure:"command"`
	CommandTimeoutSeconds int      `json:"command_timeout_seconds" mapstructure:"command_timeout_seconds"`
}

// ChannelsConfig holds channel adapter configuration.
type ChannelsConfig struct {
	Terminal ChannelConfig `json:"terminal" mapstructure:"terminal"`
	WhatsApp ChannelConfig `json:"whatsapp" mapstructure:"whatsapp"`
}

// ChannelConfig represents a single channel adapter.
type ChannelConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// HeartbeatConfig holds background job configuration.
type HeartbeatConfig struct {
	Enabled      bool               `json:"enabled" mapstructure:"enabled"`
	Gmail        PollConfig         `json:"gmail" mapstructure:"gmail"`
	Calendar     CalendarPollConfig `json:"calendar" mapstructure:"calendar"`
	DailySummary DailySummaryConfig `json:"daily_summary" mapstructure:"daily_summary"`
}

// PollConfig is a polling job with an interval.
type PollConfig struct {
	Enabled         bool `json:"enabled" mapstructure:"enabled"`
	IntervalMinutes int  `json:"interval_minutes" mapstructure:"interval_minutes"`
}

// CalendarPollConfig is the calendar polling job.
type CalendarPollConfig struct {
	Enabled         bool `json:"enabled" mapstructure:"enabled"`
	IntervalMinutes int  `json:"interval_minutes" mapstructure:"interval_minutes"`
	HoursAhead      int  `json:"hours_ahead" mapstructure:"hours_ahead"`
}

// DailySummaryConfig is the daily summary job. Time is "HH:MM" local time.
type DailySummaryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Time    string `json:"time" mapstructure:"time"`
}

// NotificationsConfig routes notification types to channels.
type NotificationsConfig struct {
	Routes  map[string]string `json:"routes" mapstructure:"routes"`
	Default string            `json:"default" mapstructure:"default"`
}

// GatewayConfig holds gateway server configuration. The gateway always binds
// to the loopback interface.
type GatewayConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Memory: MemoryConfig{
			Dir:                  "memory",
			DBPath:               "",
			ChunkTokens:          2000,
			ChunkOverlap:         200,
			SearchTopK:           5,
			VectorWeight:         0.7,
			TextWeight:           0.3,
			Watch:                true,
			WatchDebounceSeconds: 5,
			Embedding: EmbeddingConfig{
				Model:     "text-embedding-3-small",
				Dimension: 1536,
			},
		},
		Skills: SkillsConfig{
			Dir:   "skills",
			Watch: true,
		},
		Agent: AgentConfig{
			SessionTimeoutMinutes: 30,
			CommandTimeoutSeconds: 120,
		},
		Channels: ChannelsConfig{
			Terminal: ChannelConfig{Enabled: true},
			WhatsApp: ChannelConfig{Enabled: false},
		},
		Heartbeat: HeartbeatConfig{
			Enabled: false,
			Gmail: PollConfig{
				Enabled:         false,
				IntervalMinutes: 15,
			},
			Calendar: CalendarPollConfig{
				Enabled:         false,
				IntervalMinutes: 15,
				HoursAhead:      24,
			},
			DailySummary: DailySummaryConfig{
				Enabled: false,
				Time:    "08:00",
			},
		},
		Notifications: NotificationsConfig{
			Routes: map[string]string{
				"urgent_email":      "whatsapp",
				"calendar_reminder": "whatsapp",
				"daily_summary":     "terminal",
			},
			Default: "terminal",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Port:    8765,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// PIDFile returns the daemon pid file path under the data directory.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "nara.pid")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Memory.Dir == "" {
		return fmt.Errorf("memory dir is required")
	}
	if c.Memory.ChunkTokens <= 0 {
		return fmt.Errorf("memory chunk_tokens must be positive, got %d", c.Memory.ChunkTokens)
	}
	if c.Memory.ChunkOverlap < 0 {
		return fmt.Errorf("memory chunk_overlap must be >= 0, got %d", c.Memory.ChunkOverlap)
	}
	if c.Memory.ChunkOverlap >= c.Memory.ChunkTokens {
		return fmt.Errorf("memory chunk_overlap (%d) must be smaller than chunk_tokens (%d)",
			c.Memory.ChunkOverlap, c.Memory.ChunkTokens)
	}
	if c.Memory.SearchTopK <= 0 {
		return fmt.Errorf("memory search_top_k must be positive, got %d", c.Memory.SearchTopK)
	}
	if c.Memory.VectorWeight < 0 || c.Memory.TextWeight < 0 {
		return fmt.Errorf("memory search weights must be >= 0")
	}
	if c.Memory.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}
	if c.Memory.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Memory.Embedding.Dimension)
	}

	if c.Skills.Dir == "" {
		return fmt.Errorf("skills dir is required")
	}

	if c.Agent.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("agent session_timeout_minutes must be positive, got %d", c.Agent.SessionTimeoutMinutes)
	}
	if c.Agent.CommandTimeoutSeconds < 0 {
		return fmt.Errorf("agent command_timeout_seconds must be >= 0, got %d", c.Agent.CommandTimeoutSeconds)
	}

	if c.Heartbeat.Enabled {
		if c.Heartbeat.Gmail.Enabled && c.Heartbeat.Gmail.IntervalMinutes <= 0 {
			return fmt.Errorf("heartbeat gmail interval_minutes must be positive, got %d",
				c.Heartbeat.Gmail.IntervalMinutes)
		}
		if c.Heartbeat.Calendar.Enabled {
			if c.Heartbeat.Calendar.IntervalMinutes <= 0 {
				return fmt.Errorf("heartbeat calendar interval_minutes must be positive, got %d",
					c.Heartbeat.Calendar.IntervalMinutes)
			}
			if c.Heartbeat.Calendar.HoursAhead <= 0 {
				return fmt.Errorf("heartbeat calendar hours_ahead must be positive, got %d",
					c.Heartbeat.Calendar.HoursAhead)
			}
		}
		if c.Heartbeat.DailySummary.Enabled {
			if err := validateDailyTime(c.Heartbeat.DailySummary.Time); err != nil {
				return fmt.Errorf("heartbeat daily_summary time: %w", err)
			}
		}
	}

	if c.Notifications.Default == "" {
		return fmt.Errorf("notifications default channel is required")
	}
	for notificationType, channel := range c.Notifications.Routes {
		if channel == "" {
			return fmt.Errorf("notifications route for %q has an empty channel", notificationType)
		}
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 0 and 65535, got %d", c.Gateway.Port)
	}

	if c.Logging.Level != "" {
		validLevels := []string{"trace", "debug", "info", "warn", "error"}
		valid := false
		for _, level := range validLevels {
			if c.Logging.Level == level {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid log level: %s (must be one of: %s)",
				c.Logging.Level, strings.Join(validLevels, ", "))
		}
	}

	return nil
}

// validateDailyTime accepts "HH:MM" or a bare hour.
func validateDailyTime(value string) error {
	if value == "" {
		return fmt.Errorf("time is required")
	}
	parts := strings.SplitN(value, ":", 2)

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return fmt.Errorf("invalid hour in %q", value)
	}
	if len(parts) == 2 {
		minute, err := strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return fmt.Errorf("invalid minute in %q", value)
		}
	}
	return nil
}
