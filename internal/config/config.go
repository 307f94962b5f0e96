// Package config holds all agora configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agora configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Token budget configuration
	Budget BudgetConfig `yaml:"budget"`

	// Heartbeat scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Room defaults
	Rooms RoomsConfig `yaml:"rooms"`

	// Model provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BudgetConfig configures the HUD token budget allocator.
type BudgetConfig struct {
	TotalTokens        int `yaml:"total_tokens"`
	StaticContentMax   int `yaml:"static_content_max"`
	MessageContentMin  int `yaml:"message_content_min"`
	RoomMetadataTokens int `yaml:"room_metadata_tokens"`
	SelfMetaMax        int `yaml:"self_meta_max"`
}

// SchedulerConfig configures the heartbeat scheduler.
type SchedulerConfig struct {
	TickInterval      string  `yaml:"tick_interval"`
	DefaultInterval   float64 `yaml:"default_interval"`
	DecayStep         float64 `yaml:"decay_step"`
	ReactionStep      float64 `yaml:"reaction_step"`
	IntervalVariance  float64 `yaml:"interval_variance"`
	PullForwardWindow float64 `yaml:"pull_forward_window"`
	MaxWorkers        int     `yaml:"max_workers"`
	HistoryDepth      int     `yaml:"history_depth"`
}

// RoomsConfig configures room defaults.
type RoomsConfig struct {
	DefaultWPM      int `yaml:"default_wpm"`
	MinWordBudget   int `yaml:"min_word_budget"`
	MaxWordBudget   int `yaml:"max_word_budget"`
	FirstWordBudget int `yaml:"first_word_budget"`
}

// LLMConfig configures the model provider boundary.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
	Retries  int    `yaml:"retries"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
	Dir       string `yaml:"dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agora",
		Version: "0.3.0",

		Budget: BudgetConfig{
			TotalTokens:        10000,
			StaticContentMax:   5000,
			MessageContentMin:  5000,
			RoomMetadataTokens: 200,
			SelfMetaMax:        5000,
		},

		Scheduler: SchedulerConfig{
			TickInterval:      "1s",
			DefaultInterval:   5.0,
			DecayStep:         0.1,
			ReactionStep:      0.5,
			IntervalVariance:  0.2,
			PullForwardWindow: 0,
			MaxWorkers:        5,
			HistoryDepth:      50,
		},

		Rooms: RoomsConfig{
			DefaultWPM:      80,
			MinWordBudget:   10,
			MaxWordBudget:   200,
			FirstWordBudget: 200,
		},

		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4.1-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "60s",
			Retries:  3,
		},

		Store: StoreConfig{
			DatabasePath: "data/agora.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Dir:       "data/logs",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if path := os.Getenv("AGORA_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("AGORA_LOG_DIR"); dir != "" {
		c.Logging.Dir = dir
	}
}

// TickInterval parses the scheduler tick interval, falling back to 1s.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.TickInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// ProviderTimeout parses the model call timeout, falling back to 60s.
func (c *Config) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
