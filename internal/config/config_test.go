package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kiln/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, resolved, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path for diagnostics")
	}
	if cfg.Backend.Port != 8188 {
		t.Fatalf("expected default backend port, got %d", cfg.Backend.Port)
	}
	if cfg.TickInterval() != 2*time.Second {
		t.Fatalf("expected 2s tick interval, got %s", cfg.TickInterval())
	}
	if _, ok := cfg.Workflows["image"]; !ok {
		t.Fatal("expected default image workflow")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[cloud]
tier = "community"
community_gpu_priority = ["NVIDIA GeForce RTX 3090"]

[scheduler]
tick_interval_seconds = 7

[workflows.image]
max_pods = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cloud.Tier != "community" {
		t.Fatalf("expected community tier, got %q", cfg.Cloud.Tier)
	}
	if got := cfg.GPUPriority(); len(got) != 1 || got[0] != "NVIDIA GeForce RTX 3090" {
		t.Fatalf("unexpected gpu priority %v", got)
	}
	if cfg.Scheduler.TickIntervalSeconds != 7 {
		t.Fatalf("expected tick override, got %d", cfg.Scheduler.TickIntervalSeconds)
	}
	wf, ok := cfg.ResolveWorkflow("image")
	if !ok {
		t.Fatal("image workflow should be configured")
	}
	if wf.MaxPods != 5 {
		t.Fatalf("expected max_pods override, got %d", wf.MaxPods)
	}
	// Fields left at zero fall back to defaults at resolution time.
	if wf.MaxRequestsPerPod != 3 {
		t.Fatalf("expected default per-pod capacity, got %d", wf.MaxRequestsPerPod)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[cloud]
tier = "budget"

[backend]
port = 99999
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, fragment := range []string{"cloud.tier", "backend.port"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected error to mention %s, got %v", fragment, err)
		}
	}
}

func TestResolveWorkflowUnknownKind(t *testing.T) {
	cfg := config.Default()
	if _, ok := cfg.ResolveWorkflow("hologram"); ok {
		t.Fatal("unknown workflow kind should not resolve")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[cloud]") {
		t.Fatal("sample config should contain a [cloud] section")
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected refusal to overwrite existing file")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs", "nested")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
}
