package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. ${VAR} references are
// interpolated from the environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", absPath, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $HERALD_CONFIG, ~/.config/herald/config.yaml,
// /etc/herald/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("HERALD_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".config", "herald", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}

	systemPath := "/etc/herald/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}

	legacyPath := "./config.yaml"
	if _, err := os.Stat(legacyPath); err == nil {
		return legacyPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $HERALD_CONFIG, ~/.config/herald, /etc/herald, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} references with environment values. An
// unset variable interpolates to the empty string.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults backfills zero values that yaml.Unmarshal may have cleared
// when a section was present but partial.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = d.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = d.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = d.Service.LogFormat
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = d.LLM.BaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = d.LLM.Model
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = d.LLM.Timeout
	}
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = d.Pool.Workers
	}
	if cfg.Pool.QueueSize <= 0 {
		cfg.Pool.QueueSize = d.Pool.QueueSize
	}
	if cfg.Pool.JobTimeout <= 0 {
		cfg.Pool.JobTimeout = d.Pool.JobTimeout
	}
	if cfg.Followup.Timeout <= 0 {
		cfg.Followup.Timeout = d.Followup.Timeout
	}
	if cfg.Followup.Grace <= 0 {
		cfg.Followup.Grace = d.Followup.Grace
	}
	if cfg.Followup.MaxChain <= 0 {
		cfg.Followup.MaxChain = d.Followup.MaxChain
	}
	if cfg.History.Path == "" {
		cfg.History.Path = d.History.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	if cfg.Brain.Mode == "" {
		cfg.Brain.Mode = d.Brain.Mode
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Service.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("service.log_level must be debug, info, warn, or error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Pool.Workers < 1 || cfg.Pool.Workers > 16 {
		return fmt.Errorf("pool.workers must be 1..16 (got %d)", cfg.Pool.Workers)
	}
	if cfg.Pool.JobTimeout < time.Second {
		return fmt.Errorf("pool.job_timeout must be at least 1s (got %s)", cfg.Pool.JobTimeout)
	}

	if cfg.LLM.Enabled {
		if !strings.HasPrefix(cfg.LLM.BaseURL, "http://") && !strings.HasPrefix(cfg.LLM.BaseURL, "https://") {
			return fmt.Errorf("llm.base_url must be an http(s) URL (got %q)", cfg.LLM.BaseURL)
		}
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm is enabled")
		}
	}

	switch cfg.Brain.Mode {
	case "inproc", "subprocess":
	default:
		return fmt.Errorf("brain.mode must be inproc or subprocess (got %q)", cfg.Brain.Mode)
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api is enabled")
	}

	seen := make(map[int]bool)
	for _, m := range cfg.Monitors {
		if m.Index < 1 {
			return fmt.Errorf("monitors[].index must be 1-based (got %d)", m.Index)
		}
		if seen[m.Index] {
			return fmt.Errorf("duplicate monitor index %d", m.Index)
		}
		seen[m.Index] = true
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("monitor %d needs positive width and height", m.Index)
		}
	}

	return nil
}
