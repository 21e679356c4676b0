package config

import "time"

// Config represents the complete herald configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	LLM      LLMConfig      `yaml:"llm"`
	Pool     PoolConfig     `yaml:"pool"`
	Speech   SpeechConfig   `yaml:"speech,omitempty"`
	Followup FollowupConfig `yaml:"followup,omitempty"`
	History  HistoryConfig  `yaml:"history"`
	API      APIConfig      `yaml:"api,omitempty"`
	Brain    BrainConfig    `yaml:"brain,omitempty"`
	Monitors []MonitorConf  `yaml:"monitors,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Location  string `yaml:"location,omitempty"`
}

// LLMConfig defines the language-model fallback.
type LLMConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// PoolConfig defines the tool worker pool.
type PoolConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// SpeechConfig defines speech output. An empty command logs replies instead
// of speaking them.
type SpeechConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// FollowupConfig defines the post-reply listening window.
type FollowupConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Grace    time.Duration `yaml:"grace"`
	MaxChain int           `yaml:"max_chain"`
}

// HistoryConfig defines the dispatch log storage.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the local control API server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// BrainConfig selects the brain transport: in-process channel or a
// subprocess over pipes.
type BrainConfig struct {
	Mode string `yaml:"mode"` // inproc | subprocess
}

// MonitorConf describes one display in the user's layout, left to right.
type MonitorConf struct {
	Index   int    `yaml:"index"`
	Name    string `yaml:"name"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Primary bool   `yaml:"primary,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "herald",
			LogLevel:  "info",
			LogFormat: "json",
		},
		LLM: LLMConfig{
			Enabled: true,
			BaseURL: "http://127.0.0.1:11434",
			Model:   "llama3.1:latest",
			Timeout: 30 * time.Second,
		},
		Pool: PoolConfig{
			Workers:    2,
			QueueSize:  16,
			JobTimeout: 30 * time.Second,
		},
		Followup: FollowupConfig{
			Timeout:  3 * time.Second,
			Grace:    1500 * time.Millisecond,
			MaxChain: 5,
		},
		History: HistoryConfig{
			Path: "./data/history.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8264",
		},
		Brain: BrainConfig{
			Mode: "inproc",
		},
	}
}
