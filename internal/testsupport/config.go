package testsupport

import (
	"path/filepath"
	"testing"

	"kiln/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Polling and retry knobs are tightened so bounded waits expire quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Cloud.APIKey = "test"
	cfg.Cloud.BaseURL = "http://cloud.invalid"
	cfg.Cloud.CreateAttempts = 1
	cfg.Cloud.CreateRetrySeconds = 0
	cfg.Cloud.ReadyAttempts = 3
	cfg.Cloud.ReadyIntervalSeconds = 0
	cfg.Cloud.ReadyConfirmations = 1
	cfg.Backend.PollAttempts = 3
	cfg.Backend.PollIntervalSeconds = 0
	cfg.Scheduler.TickIntervalSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkflow overrides the scheduling policy of one workflow kind.
func WithWorkflow(kind string, wf config.Workflow) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflows[kind] = wf
	}
}

// WithGPUPriority replaces the secure-tier GPU type list.
func WithGPUPriority(types ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Cloud.Tier = "secure"
		cfg.Cloud.SecureGPUPriority = types
	}
}
