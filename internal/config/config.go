package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Cloud contains configuration for the GPU cloud provider API.
type Cloud struct {
	APIKey      string `toml:"api_key"`
	BaseURL     string `toml:"base_url"`
	ProxyDomain string `toml:"proxy_domain"`
	// Tier selects which GPU priority list applies: "secure" or "community".
	Tier                 string   `toml:"tier"`
	SecureGPUPriority    []string `toml:"secure_gpu_priority"`
	CommunityGPUPriority []string `toml:"community_gpu_priority"`
	CreateAttempts       int      `toml:"create_attempts"`
	CreateRetrySeconds   int      `toml:"create_retry_seconds"`
	ReadyAttempts        int      `toml:"ready_attempts"`
	ReadyIntervalSeconds int      `toml:"ready_interval_seconds"`
	ReadyConfirmations   int      `toml:"ready_confirmations"`
	RequestTimeout       int      `toml:"request_timeout"`
}

// Backend contains configuration for the per-pod generation backend.
type Backend struct {
	Port                int `toml:"port"`
	RequestTimeout      int `toml:"request_timeout"`
	PollAttempts        int `toml:"poll_attempts"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// Scheduler contains configuration for the dispatch loop.
type Scheduler struct {
	TickIntervalSeconds int `toml:"tick_interval_seconds"`
	ErrorRetrySeconds   int `toml:"error_retry_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Workflow contains the per-kind scheduling policy. Zero values fall back to
// repository defaults at resolution time.
type Workflow struct {
	MaxPods                 int    `toml:"max_pods"`
	MaxRequestsPerPod       int    `toml:"max_requests_per_pod"`
	PauseTimeoutSeconds     int    `toml:"pause_timeout_seconds"`
	TerminateTimeoutSeconds int    `toml:"terminate_timeout_seconds"`
	VolumeID                string `toml:"volume_id"`
	TemplateID              string `toml:"template_id"`
}

// Config is the root configuration document.
type Config struct {
	Paths     Paths               `toml:"paths"`
	Cloud     Cloud               `toml:"cloud"`
	Backend   Backend             `toml:"backend"`
	Scheduler Scheduler           `toml:"scheduler"`
	Logging   Logging             `toml:"logging"`
	Workflows map[string]Workflow `toml:"workflows"`
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	return expandHome("~/.config/kiln/config.toml")
}

// Load reads configuration from path, or the default location when path is
// empty. A missing file yields defaults. The resolved path is returned for
// diagnostics.
func Load(path string) (*Config, string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultPath()
	}
	resolved = expandHome(resolved)

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply when no config file exists yet.
	case err != nil:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// WriteSample writes the annotated sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	path = expandHome(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ResolveWorkflow returns the scheduling policy for a workflow kind with
// defaults applied. The second result reports whether the kind is configured.
func (c *Config) ResolveWorkflow(kind string) (Workflow, bool) {
	wf, ok := c.Workflows[kind]
	if !ok {
		return Workflow{}, false
	}
	if wf.MaxPods <= 0 {
		wf.MaxPods = defaultWorkflowMaxPods
	}
	if wf.MaxRequestsPerPod <= 0 {
		wf.MaxRequestsPerPod = defaultWorkflowMaxRequestsPerPod
	}
	if wf.PauseTimeoutSeconds <= 0 {
		wf.PauseTimeoutSeconds = defaultWorkflowPauseTimeout
	}
	if wf.TerminateTimeoutSeconds <= 0 {
		wf.TerminateTimeoutSeconds = defaultWorkflowTerminateTimeout
	}
	return wf, true
}

// GPUPriority returns the GPU type list for the configured cloud tier.
func (c *Config) GPUPriority() []string {
	if strings.EqualFold(c.Cloud.Tier, "community") {
		return c.Cloud.CommunityGPUPriority
	}
	return c.Cloud.SecureGPUPriority
}

// TickInterval returns the scheduling loop interval as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSeconds) * time.Second
}

func (c *Config) normalize() {
	c.Paths.DataDir = expandHome(strings.TrimSpace(c.Paths.DataDir))
	c.Paths.LogDir = expandHome(strings.TrimSpace(c.Paths.LogDir))
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Cloud.BaseURL = strings.TrimRight(strings.TrimSpace(c.Cloud.BaseURL), "/")
	c.Cloud.ProxyDomain = strings.TrimSpace(c.Cloud.ProxyDomain)
	c.Cloud.Tier = strings.ToLower(strings.TrimSpace(c.Cloud.Tier))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
