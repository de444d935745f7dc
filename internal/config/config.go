// ABOUTME: Configuration loading and parsing for eko
// ABOUTME: Supports YAML files with env var expansion, .env files and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "EKO_CONFIG"

// Config represents the complete eko configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Vector     VectorConfig     `yaml:"vector"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Worker     WorkerConfig     `yaml:"worker"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the model provider
type LLMConfig struct {
	Provider        string `yaml:"provider"` // anthropic, openai
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	ReflectionModel string `yaml:"reflection_model"` // defaults to Model
	MaxTurns        int    `yaml:"max_turns"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// CollectionsConfig names the vector collections
type CollectionsConfig struct {
	Facts string `yaml:"facts"`
	Self  string `yaml:"self"`
	Goals string `yaml:"goals"`
	Live  string `yaml:"live"`
}

// VectorConfig holds Qdrant configuration
type VectorConfig struct {
	URL            string            `yaml:"url"`
	APIKey         string            `yaml:"api_key"`
	Collections    CollectionsConfig `yaml:"collections"`
	DedupThreshold float64           `yaml:"dedup_threshold"`
}

// DedupConfig enables the distributed dedup lock. Empty RedisAddr keeps the
// lock in-process.
type DedupConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// WorkerConfig controls the worker subprocess
type WorkerConfig struct {
	// Command overrides the worker executable; by default the running binary
	// is re-executed with the "worker" subcommand.
	Command []string `yaml:"command"`

	ReadyTimeout   time.Duration `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`

	ReadyTimeoutRaw   string `yaml:"ready_timeout"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// SessionsConfig controls per-user session expiry
type SessionsConfig struct {
	IdleTimeout   time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	IdleTimeoutRaw   string `yaml:"idle_timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ReflectionConfig controls the autonomous reflection scheduler
type ReflectionConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Schedule    string `yaml:"schedule"`
	LobbyRoomID string `yaml:"lobby_room_id"`
	AgentUserID string `yaml:"agent_user_id"`
	MaxPerDay   int    `yaml:"max_per_day"`
	HistorySize int    `yaml:"history_size"`
	MaxTokens   int    `yaml:"max_tokens"`

	Cooldown         time.Duration `yaml:"-"`
	GoalRepeatWindow time.Duration `yaml:"-"`

	CooldownRaw         string `yaml:"cooldown"`
	GoalRepeatWindowRaw string `yaml:"goal_repeat_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8420"},
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTurns:  10,
			MaxTokens: 2048,
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Vector: VectorConfig{
			URL: "http://127.0.0.1:6333",
			Collections: CollectionsConfig{
				Facts: "facts",
				Self:  "self",
				Goals: "goals",
				Live:  "live",
			},
			DedupThreshold: 0.85,
		},
		Worker: WorkerConfig{
			ReadyTimeout:   30 * time.Second,
			RequestTimeout: 2 * time.Minute,
		},
		Sessions: SessionsConfig{
			IdleTimeout:   15 * time.Minute,
			SweepInterval: time.Minute,
		},
		Reflection: ReflectionConfig{
			Enabled:          true,
			Schedule:         "0 */3 * * *",
			LobbyRoomID:      "lobby",
			AgentUserID:      "eko",
			MaxPerDay:        5,
			HistorySize:      50,
			MaxTokens:        500,
			Cooldown:         30 * time.Minute,
			GoalRepeatWindow: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func defaultDatabasePath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".local", "share", "eko", "eko.db")
	}
	return "eko.db"
}

// ResolvePath picks the config file: the explicit flag value, then
// $EKO_CONFIG, then $XDG_CONFIG_HOME/eko/eko.yaml (or ~/.config/eko/eko.yaml).
// It returns "" when nothing is configured and the default file is absent.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, "eko", "eko.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// An empty path yields the defaults. A .env file next to the config file is
// loaded first. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}

	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.MaxTurns < 1 {
		errs = append(errs, errors.New("llm.max_turns must be at least 1"))
	}

	if c.Embedding.Model == "" {
		errs = append(errs, errors.New("embedding.model is required"))
	}
	if c.Vector.URL == "" {
		errs = append(errs, errors.New("vector.url is required"))
	}
	if c.Vector.DedupThreshold <= 0 || c.Vector.DedupThreshold > 1 {
		errs = append(errs, fmt.Errorf("vector.dedup_threshold must be in (0, 1], got %v", c.Vector.DedupThreshold))
	}
	col := c.Vector.Collections
	if col.Facts == "" || col.Self == "" || col.Goals == "" || col.Live == "" {
		errs = append(errs, errors.New("vector.collections must name facts, self, goals and live"))
	}

	if c.Worker.RequestTimeout <= 0 {
		errs = append(errs, errors.New("worker.request_timeout must be positive"))
	}
	if c.Worker.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("worker.ready_timeout must be positive"))
	}
	if c.Sessions.IdleTimeout <= 0 {
		errs = append(errs, errors.New("sessions.idle_timeout must be positive"))
	}

	if _, err := cron.ParseStandard(c.Reflection.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("reflection.schedule %q: %w", c.Reflection.Schedule, err))
	}
	if c.Reflection.MaxPerDay < 1 {
		// Turn reflection off with reflection.enabled instead.
		errs = append(errs, fmt.Errorf("reflection.max_per_day must be at least 1, got %d", c.Reflection.MaxPerDay))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ReflectionModelName returns the model used for single-shot reflection calls.
func (c *LLMConfig) ReflectionModelName() string {
	if c.ReflectionModel != "" {
		return c.ReflectionModel
	}
	return c.Model
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"worker.ready_timeout", cfg.Worker.ReadyTimeoutRaw, &cfg.Worker.ReadyTimeout},
		{"worker.request_timeout", cfg.Worker.RequestTimeoutRaw, &cfg.Worker.RequestTimeout},
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"reflection.cooldown", cfg.Reflection.CooldownRaw, &cfg.Reflection.Cooldown},
		{"reflection.goal_repeat_window", cfg.Reflection.GoalRepeatWindowRaw, &cfg.Reflection.GoalRepeatWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// ParseDuration extends time.ParseDuration with a whole-day unit ("30d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", days)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
