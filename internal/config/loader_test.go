package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "service:\n  name: herald\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Service.LogLevel != "info" {
		t.Errorf("log_level = %q, want info", cfg.Service.LogLevel)
	}
	if cfg.Pool.Workers != 2 {
		t.Errorf("pool.workers = %d, want 2", cfg.Pool.Workers)
	}
	if cfg.Pool.JobTimeout != 30*time.Second {
		t.Errorf("pool.job_timeout = %s, want 30s", cfg.Pool.JobTimeout)
	}
	if cfg.Brain.Mode != "inproc" {
		t.Errorf("brain.mode = %q, want inproc", cfg.Brain.Mode)
	}
	if !cfg.LLM.Enabled {
		t.Error("llm should be enabled by default")
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: herald
  log_level: debug
  location: Perth
llm:
  enabled: true
  base_url: http://127.0.0.1:11434
  model: llama3.1:latest
  timeout: 20s
pool:
  workers: 4
  queue_size: 32
  job_timeout: 10s
followup:
  timeout: 2s
  grace: 1s
  max_chain: 3
history:
  path: /tmp/herald.db
api:
  enabled: true
  listen: 127.0.0.1:9000
brain:
  mode: subprocess
monitors:
  - index: 1
    name: eDP-1
    width: 1920
    height: 1080
    primary: true
  - index: 2
    name: HDMI-1
    width: 2560
    height: 1440
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Service.Location != "Perth" {
		t.Errorf("location = %q", cfg.Service.Location)
	}
	if cfg.Pool.Workers != 4 {
		t.Errorf("workers = %d", cfg.Pool.Workers)
	}
	if cfg.Followup.MaxChain != 3 {
		t.Errorf("max_chain = %d", cfg.Followup.MaxChain)
	}
	if cfg.Brain.Mode != "subprocess" {
		t.Errorf("brain.mode = %q", cfg.Brain.Mode)
	}
	if len(cfg.Monitors) != 2 || cfg.Monitors[1].Width != 2560 {
		t.Errorf("monitors = %+v", cfg.Monitors)
	}
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("HERALD_TEST_MODEL", "qwen2.5:7b")
	path := writeConfig(t, "llm:\n  model: ${HERALD_TEST_MODEL}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LLM.Model != "qwen2.5:7b" {
		t.Errorf("model = %q, want qwen2.5:7b", cfg.LLM.Model)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad log level":    "service:\n  log_level: loud\n",
		"too many workers": "pool:\n  workers: 99\n",
		"bad brain mode":   "brain:\n  mode: telepathy\n",
		"bad llm url":      "llm:\n  enabled: true\n  base_url: not-a-url\n",
		"dup monitor": `monitors:
  - {index: 1, name: a, width: 100, height: 100}
  - {index: 1, name: b, width: 100, height: 100}
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("Load() should have failed")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should fail for missing file")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: herald\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) failed: %v", err)
	}
	if cfg.Service.Name != "herald" {
		t.Errorf("name = %q", cfg.Service.Name)
	}
}
