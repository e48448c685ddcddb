package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caplearn/capsulegen/pkg/capsulegen/config"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, config.Defaults().Validate())
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
provider: anthropic
difficulty: advanced
breaker:
  failure_threshold: 3
  failure_window: 30s
  reset_timeout: 2m
  success_threshold: 1
timeouts:
  call: 45s
orchestration:
  stage_retries: 5
  retry_delay: 500ms
snapshots:
  backend: sqlite
  path: ./runs.db
logging:
  level: debug
`)
	s, err := config.FromYAML(data)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", s.Provider)
	assert.Equal(t, "advanced", s.Difficulty)

	bc := s.BreakerConfig()
	assert.Equal(t, 3, bc.FailureThreshold)
	assert.Equal(t, 30*time.Second, bc.FailureWindow)
	assert.Equal(t, 2*time.Minute, bc.ResetTimeout)
	assert.Equal(t, 1, bc.SuccessThreshold)

	assert.Equal(t, 45*time.Second, time.Duration(s.Timeouts.Call))
	// Unset fields keep defaults.
	assert.Equal(t, 120*time.Second, time.Duration(s.Timeouts.AttachmentCall))

	assert.Equal(t, 5, s.Orchestration.StageRetries)
	assert.Equal(t, 500*time.Millisecond, time.Duration(s.Orchestration.RetryDelay))

	assert.Equal(t, config.BackendSQLite, s.Snapshots.Backend)
	assert.Equal(t, slog.LevelDebug, s.SlogLevel())
}

func TestFromYAMLNumericDuration(t *testing.T) {
	s, err := config.FromYAML([]byte("provider: p\ntimeouts:\n  call: 60\n"))
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, time.Duration(s.Timeouts.Call))
}

func TestFromJSON(t *testing.T) {
	data := []byte(`{
		"provider": "openai",
		"orchestration": {"retry_delay": "1500ms"},
		"redis": {"enabled": true, "addr": "localhost:6379"}
	}`)
	s, err := config.FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, 1500*time.Millisecond, time.Duration(s.Orchestration.RetryDelay))
	assert.True(t, s.Redis.Enabled)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capsulegen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: test\n"), 0o644))

	s, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test", s.Provider)

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(bad, []byte(""), 0o644))
	_, err = config.FromFile(bad)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Settings)
	}{
		{"empty provider", func(s *config.Settings) { s.Provider = " " }},
		{"unknown backend", func(s *config.Settings) { s.Snapshots.Backend = "s3" }},
		{"sqlite without path", func(s *config.Settings) {
			s.Snapshots.Backend = config.BackendSQLite
			s.Snapshots.Path = ""
		}},
		{"redis without addr", func(s *config.Settings) { s.Redis.Enabled = true }},
		{"bad log level", func(s *config.Settings) { s.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.Defaults()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
