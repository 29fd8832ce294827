// Package config loads and validates the daemon's yaml configuration. A
// backup of the last good file is kept next to it and restored automatically
// when the main file goes missing.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogLevel      string              `yaml:"log_level"`
	AccessControl AccessControlConfig `yaml:"access_control"`
	Session       SessionConfig       `yaml:"session"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Query         QueryConfig         `yaml:"query_build"`
	LLM           LLMConfig           `yaml:"llm_api"`
	Hyper         Hyperparameters     `yaml:"model_hyperparameters"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Audit         AuditConfig         `yaml:"audit"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// MetricsConfig optionally exposes the in-process counters over HTTP.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // e.g. 127.0.0.1:9180; empty disables the endpoint
}

// AccessControlConfig gates which chats and users may trigger the model.
type AccessControlConfig struct {
	AdminIDs []int64      `yaml:"admin_id"`
	Group    PolicyConfig `yaml:"group"`
	User     PolicyConfig `yaml:"user"`
}

// PolicyConfig is one whitelist/blacklist pair. The blacklist always wins;
// the whitelist is consulted only when enabled.
type PolicyConfig struct {
	EnableWhitelist bool    `yaml:"enable_whitelist"`
	Whitelist       []int64 `yaml:"whitelist"`
	Blacklist       []int64 `yaml:"blacklist"`
}

type SessionConfig struct {
	MaxHistory int    `yaml:"max_history"`
	Dir        string `yaml:"dir"`
}

type SchedulerConfig struct {
	PollSeconds  int `yaml:"poll_seconds"`
	QuietSeconds int `yaml:"quiet_seconds"`
}

// QueryConfig points at the prompt files used to build model requests.
type QueryConfig struct {
	SystemPrompts SystemPromptPaths `yaml:"system"`
	CharacterPath string            `yaml:"character"`
}

type SystemPromptPaths struct {
	GroupChat   string `yaml:"group_chat"`
	PrivateChat string `yaml:"private_chat"`
}

type LLMConfig struct {
	APIURL         string `yaml:"api_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Hyperparameters are forwarded to the completion request. Pointer fields are
// optional and omitted from the payload when nil.
type Hyperparameters struct {
	Temperature       float64  `yaml:"temperature"`
	MaxTokens         int      `yaml:"max_tokens"`
	Seed              *int     `yaml:"seed,omitempty"`
	TopP              *float64 `yaml:"top_p,omitempty"`
	TopK              *int     `yaml:"top_k,omitempty"`
	FrequencyPenalty  *float64 `yaml:"frequency_penalty,omitempty"`
	PresencePenalty   *float64 `yaml:"presence_penalty,omitempty"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty,omitempty"`
	MinP              *float64 `yaml:"min_p,omitempty"`
	TopA              *float64 `yaml:"top_a,omitempty"`
}

type ChannelsConfig struct {
	Driver   string         `yaml:"driver"` // "onebot" | "telegram"
	OneBot   OneBotConfig   `yaml:"onebot"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type OneBotConfig struct {
	URL         string `yaml:"url"` // forward websocket endpoint, e.g. ws://127.0.0.1:3001
	AccessToken string `yaml:"access_token"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DefaultConfigDir is where config, prompts, and state live by default.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kanade"
	}
	return filepath.Join(home, ".kanade")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Defaults returns a complete configuration rooted at the default directory.
func Defaults() Config {
	dir := DefaultConfigDir()
	return Config{
		LogLevel: "info",
		AccessControl: AccessControlConfig{
			Group: PolicyConfig{EnableWhitelist: true},
			User:  PolicyConfig{EnableWhitelist: false},
		},
		Session: SessionConfig{
			MaxHistory: 10,
			Dir:        filepath.Join(dir, "sessions"),
		},
		Scheduler: SchedulerConfig{
			PollSeconds:  5,
			QuietSeconds: 3,
		},
		Query: QueryConfig{
			SystemPrompts: SystemPromptPaths{
				GroupChat:   filepath.Join(dir, "prompts", "group_chat.yaml"),
				PrivateChat: filepath.Join(dir, "prompts", "private_chat.yaml"),
			},
			CharacterPath: filepath.Join(dir, "prompts", "character.yaml"),
		},
		LLM: LLMConfig{
			APIURL:         "https://openrouter.ai/api/v1/chat/completions",
			Model:          "google/gemma-3-27b-it",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Hyper: Hyperparameters{
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Channels: ChannelsConfig{
			Driver: "onebot",
			OneBot: OneBotConfig{URL: "ws://127.0.0.1:3001"},
		},
		Audit: AuditConfig{
			Enabled: true,
			DBPath:  filepath.Join(dir, "kanade.db"),
		},
	}
}

// Load reads and validates the config at path. If the main file is missing
// but a .bak exists, the backup is restored first.
func Load(path string) (Config, error) {
	backup := path + ".bak"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if _, berr := os.Stat(backup); berr == nil {
			if cerr := copyFile(backup, path); cerr != nil {
				return Config{}, fmt.Errorf("restore config from backup: %w", cerr)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, keeping the previous contents as path.bak.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("write config backup: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the sections the daemon cannot run without.
func (c Config) Validate() error {
	if c.Session.MaxHistory <= 0 {
		return fmt.Errorf("session.max_history must be a positive integer")
	}
	if c.Session.Dir == "" {
		return fmt.Errorf("session.dir must be set")
	}
	if c.Scheduler.PollSeconds <= 0 {
		return fmt.Errorf("scheduler.poll_seconds must be positive")
	}
	if c.Scheduler.QuietSeconds <= 0 {
		return fmt.Errorf("scheduler.quiet_seconds must be positive")
	}
	if c.LLM.APIURL == "" {
		return fmt.Errorf("llm_api.api_url must be set")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm_api.model must be set")
	}
	switch c.Channels.Driver {
	case "onebot", "telegram", "":
	default:
		return fmt.Errorf("channels.driver must be onebot or telegram, got %q", c.Channels.Driver)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
