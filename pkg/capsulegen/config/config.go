// Package config loads generation settings from YAML or JSON files.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caplearn/capsulegen/pkg/capsulegen/breaker"
)

// Snapshot store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Settings is the full configuration for a generation service.
// Zero values select defaults; see Defaults.
type Settings struct {
	// Provider is the name of the LLM provider to call.
	Provider string `yaml:"provider" json:"provider"`

	// Difficulty is the default difficulty label for new runs.
	Difficulty string `yaml:"difficulty" json:"difficulty"`

	Breaker       BreakerSettings       `yaml:"breaker" json:"breaker"`
	Timeouts      TimeoutSettings       `yaml:"timeouts" json:"timeouts"`
	Orchestration OrchestrationSettings `yaml:"orchestration" json:"orchestration"`
	Snapshots     SnapshotSettings      `yaml:"snapshots" json:"snapshots"`
	Logging       LoggingSettings       `yaml:"logging" json:"logging"`
	Redis         RedisSettings         `yaml:"redis" json:"redis"`
}

// BreakerSettings configures the per-provider circuit breaker.
type BreakerSettings struct {
	FailureThreshold int      `yaml:"failure_threshold" json:"failure_threshold"`
	FailureWindow    Duration `yaml:"failure_window" json:"failure_window"`
	ResetTimeout     Duration `yaml:"reset_timeout" json:"reset_timeout"`
	SuccessThreshold int      `yaml:"success_threshold" json:"success_threshold"`
}

// TimeoutSettings configures per-attempt provider deadlines.
type TimeoutSettings struct {
	Call           Duration `yaml:"call" json:"call"`
	AttachmentCall Duration `yaml:"attachment_call" json:"attachment_call"`
}

// OrchestrationSettings configures stage-level retry behavior.
type OrchestrationSettings struct {
	// StageRetries is how many times a retriable stage failure is re-run.
	StageRetries int `yaml:"stage_retries" json:"stage_retries"`

	// RetryDelay is the base delay between stage retries; the actual delay
	// scales linearly with the attempt number.
	RetryDelay Duration `yaml:"retry_delay" json:"retry_delay"`
}

// SnapshotSettings configures run snapshot persistence.
type SnapshotSettings struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend" json:"backend"`

	// Path is the SQLite database path. Ignored for the memory backend.
	Path string `yaml:"path" json:"path"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
}

// RedisSettings configures the optional shared breaker state store.
type RedisSettings struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// Defaults returns the settings used when no file is provided.
func Defaults() Settings {
	return Settings{
		Provider:   "default",
		Difficulty: "intermediate",
		Breaker: BreakerSettings{
			FailureThreshold: breaker.DefaultConfig.FailureThreshold,
			FailureWindow:    Duration(breaker.DefaultConfig.FailureWindow),
			ResetTimeout:     Duration(breaker.DefaultConfig.ResetTimeout),
			SuccessThreshold: breaker.DefaultConfig.SuccessThreshold,
		},
		Timeouts: TimeoutSettings{
			Call:           Duration(90 * time.Second),
			AttachmentCall: Duration(120 * time.Second),
		},
		Orchestration: OrchestrationSettings{
			StageRetries: 2,
			RetryDelay:   Duration(time.Second),
		},
		Snapshots: SnapshotSettings{Backend: BackendMemory},
		Logging:   LoggingSettings{Level: "info"},
	}
}

// Validate checks settings for internal consistency.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Provider) == "" {
		return fmt.Errorf("provider must not be empty")
	}
	switch s.Snapshots.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(s.Snapshots.Path) == "" {
			return fmt.Errorf("sqlite snapshot backend requires a path")
		}
	default:
		return fmt.Errorf("unknown snapshot backend %q", s.Snapshots.Backend)
	}
	if s.Redis.Enabled && strings.TrimSpace(s.Redis.Addr) == "" {
		return fmt.Errorf("redis enabled without an address")
	}
	if _, err := parseLevel(s.Logging.Level); err != nil {
		return err
	}
	return nil
}

// BreakerConfig converts breaker settings to a breaker.Config.
func (s Settings) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: s.Breaker.FailureThreshold,
		FailureWindow:    time.Duration(s.Breaker.FailureWindow),
		ResetTimeout:     time.Duration(s.Breaker.ResetTimeout),
		SuccessThreshold: s.Breaker.SuccessThreshold,
	}
}

// SlogLevel converts the configured level name to a slog.Level.
func (s Settings) SlogLevel() slog.Level {
	level, err := parseLevel(s.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// Duration is a time.Duration that unmarshals from duration strings
// ("90s", "2m") or bare numbers interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if err := d.parse(s); err == nil {
			return nil
		}
	}
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("cannot parse %q as duration", value.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if err := d.parse(s); err == nil {
		return nil
	}
	var secs float64
	if _, scanErr := fmt.Sscanf(s, "%g", &secs); scanErr == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("cannot parse %q as duration", s)
}

func (d *Duration) parse(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// String formats the duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}
