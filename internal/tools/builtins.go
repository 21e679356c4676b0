package tools

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/herald/internal/intent"
)

// Monitor describes one display as declared in config. Index is 1-based in
// user-facing ordinals ("second monitor").
type Monitor struct {
	Index   int    `yaml:"index" json:"index"`
	Name    string `yaml:"name" json:"name"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
	Primary bool   `yaml:"primary" json:"primary"`
}

// Options carries the host facts builtins need.
type Options struct {
	Location       string
	WeatherBaseURL string // defaults to https://wttr.in
	Monitors       []Monitor
	HTTPClient     *http.Client
	Exec           CommandRunner
}

// NewBuiltinRegistry returns a registry populated with the builtin tool set.
func NewBuiltinRegistry(opts Options) *Registry {
	if opts.Exec == nil {
		opts.Exec = execRunner{}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.WeatherBaseURL == "" {
		opts.WeatherBaseURL = "https://wttr.in"
	}
	if len(opts.Monitors) == 0 {
		opts.Monitors = []Monitor{{Index: 1, Name: "primary", Width: 1920, Height: 1080, Primary: true}}
	}

	r := NewRegistry()
	for _, t := range builtinTools(opts) {
		// Names are unique by construction.
		_ = r.Register(t)
	}
	return r
}

func builtinTools(opts Options) []Tool {
	return []Tool{
		timeTool(),
		locationTool(opts),
		weatherTool(opts),
		systemInfoTool(),
		monitorInfoTool(opts),
		openTargetTool(opts),
		openWebsiteTool(opts),
		closeWindowTool(opts),
		focusWindowTool(opts),
		minimizeWindowTool(opts),
		maximizeWindowTool(opts),
		moveWindowTool(opts),
		volumeTool(opts),
		mediaTool(opts, "media_play_pause", "play-pause", "toggled playback"),
		mediaTool(opts, "media_next", "next", "skipped to the next track"),
		mediaTool(opts, "media_previous", "previous", "went back a track"),
		setTimerTool(),
	}
}

func timeTool() Tool {
	return Tool{
		Name:        "get_time",
		Description: "Current local time and date",
		ArgSchema:   map[string]any{},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			now := time.Now()
			return map[string]any{
				"time":    now.Format("3:04 PM"),
				"date":    now.Format("Monday, January 2"),
				"iso":     now.Format(time.RFC3339),
				"weekday": now.Weekday().String(),
			}, nil
		},
	}
}

func locationTool(opts Options) Tool {
	return Tool{
		Name:        "get_location",
		Description: "Configured assistant location",
		ArgSchema:   map[string]any{},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			loc := opts.Location
			if loc == "" {
				loc = os.Getenv("HERALD_LOCATION")
			}
			if loc == "" {
				return nil, Errf(intent.ErrUnavailable, "no location configured")
			}
			return map[string]any{"location": loc}, nil
		},
	}
}

func weatherTool(opts Options) Tool {
	return Tool{
		Name:        "get_weather_forecast",
		Description: "Short weather summary for a location",
		ArgSchema:   map[string]any{"location": "string"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			loc := strArg(args, "location")
			if loc == "" {
				loc = opts.Location
			}

			url := fmt.Sprintf("%s/%s?format=3", strings.TrimRight(opts.WeatherBaseURL, "/"), strings.ReplaceAll(loc, " ", "+"))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, Errf(intent.ErrExecution, "build weather request: %v", err)
			}
			resp, err := opts.HTTPClient.Do(req)
			if err != nil {
				return nil, Errf(intent.ErrUnavailable, "weather service unreachable: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, Errf(intent.ErrUnavailable, "weather service returned %d", resp.StatusCode)
			}

			buf := make([]byte, 512)
			n, _ := resp.Body.Read(buf)
			summary := strings.TrimSpace(string(buf[:n]))
			if summary == "" {
				return nil, Errf(intent.ErrExecution, "empty weather response")
			}
			return map[string]any{"summary": summary, "location": loc}, nil
		},
	}
}

func systemInfoTool() Tool {
	return Tool{
		Name:        "get_system_info",
		Description: "Host and runtime facts",
		ArgSchema:   map[string]any{},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			host, _ := os.Hostname()
			out := map[string]any{
				"hostname": host,
				"os":       runtime.GOOS,
				"arch":     runtime.GOARCH,
				"cpus":     runtime.NumCPU(),
			}
			if up, ok := readUptime(); ok {
				out["uptime"] = up.Round(time.Minute).String()
			}
			return out, nil
		},
	}
}

func readUptime() (time.Duration, bool) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func monitorInfoTool(opts Options) Tool {
	return Tool{
		Name:        "monitor_info",
		Description: "Configured display layout",
		ArgSchema:   map[string]any{},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			return map[string]any{
				"count":    len(opts.Monitors),
				"monitors": opts.Monitors,
			}, nil
		},
	}
}

// setTimerTool only declares the schema; the orchestrator intercepts
// set_timer and hands it to the timer service instead of the pool.
func setTimerTool() Tool {
	return Tool{
		Name:        "set_timer",
		Description: "One-shot timer",
		ArgSchema:   map[string]any{"seconds": "number", "label": "string"},
		Required:    []string{"seconds"},
		Validate: func(args map[string]any) error {
			secs, ok := numArg(args, "seconds")
			if !ok || secs <= 0 {
				return fmt.Errorf("seconds must be a positive number")
			}
			if secs > 24*60*60 {
				return fmt.Errorf("timer longer than 24 hours")
			}
			return nil
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			secs, _ := numArg(args, "seconds")
			return map[string]any{
				"seconds": secs,
				"label":   strArg(args, "label"),
			}, nil
		},
	}
}
