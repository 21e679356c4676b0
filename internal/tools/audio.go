package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

const defaultVolumeStep = 10

var volumeActions = map[string]bool{
	"set": true, "up": true, "down": true, "mute": true, "unmute": true, "toggle_mute": true,
}

func volumeTool(opts Options) Tool {
	return Tool{
		Name:        "volume_control",
		Description: "System or per-application volume and mute",
		ArgSchema: map[string]any{
			"action": "string", // set | up | down | mute | unmute | toggle_mute
			"scope":  "string", // system | app
			"app":    "string",
			"level":  "number", // for set, 0..100
			"delta":  "number", // for up/down, percent
		},
		Required: []string{"action"},
		Validate: func(args map[string]any) error {
			action := strArg(args, "action")
			if !volumeActions[action] {
				return fmt.Errorf("unknown volume action %q", action)
			}
			if scope := strArg(args, "scope"); scope != "" && scope != "system" && scope != "app" {
				return fmt.Errorf("scope must be system or app")
			}
			if strArg(args, "scope") == "app" && strArg(args, "app") == "" {
				return fmt.Errorf("app scope needs an app name")
			}
			if action == "set" {
				level, ok := numArg(args, "level")
				if !ok {
					return fmt.Errorf("set needs a level")
				}
				if level < 0 || level > 100 {
					return fmt.Errorf("level must be 0..100")
				}
			}
			if delta, ok := numArg(args, "delta"); ok && (delta <= 0 || delta > 100) {
				return fmt.Errorf("delta must be 1..100")
			}
			return nil
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			action := strArg(args, "action")
			scope := strArg(args, "scope")
			if scope == "" {
				scope = "system"
			}

			sink := "@DEFAULT_SINK@"
			if scope == "app" {
				id, terr := findSinkInput(ctx, opts, strArg(args, "app"))
				if terr != nil {
					return nil, terr
				}
				sink = id
			}

			var out string
			var err error
			result := map[string]any{"action": action, "scope": scope}

			switch action {
			case "set":
				level, _ := numArg(args, "level")
				out, err = pactl(ctx, opts, scope, "volume", sink, fmt.Sprintf("%d%%", int(level)))
				result["level"] = int(level)
			case "up", "down":
				delta, ok := numArg(args, "delta")
				if !ok {
					delta = defaultVolumeStep
				}
				sign := "+"
				if action == "down" {
					sign = "-"
				}
				out, err = pactl(ctx, opts, scope, "volume", sink, fmt.Sprintf("%s%d%%", sign, int(delta)))
				result["delta"] = int(delta)
			case "mute":
				out, err = pactl(ctx, opts, scope, "mute", sink, "1")
			case "unmute":
				out, err = pactl(ctx, opts, scope, "mute", sink, "0")
			case "toggle_mute":
				out, err = pactl(ctx, opts, scope, "mute", sink, "toggle")
			}

			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return result, nil
		},
	}
}

func pactl(ctx context.Context, opts Options, scope, kind, sink, value string) (string, error) {
	verb := "set-sink-" + kind
	if scope == "app" {
		verb = "set-sink-input-" + kind
	}
	return opts.Exec.Run(ctx, "pactl", verb, sink, value)
}

// findSinkInput locates the PulseAudio sink input whose application name
// contains app, case-insensitively.
func findSinkInput(ctx context.Context, opts Options, app string) (string, *Error) {
	out, err := opts.Exec.Run(ctx, "pactl", "list", "sink-inputs")
	if err != nil {
		return "", classifyExecErr(err, out)
	}

	want := strings.ToLower(app)
	var current string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Sink Input #"); ok {
			current = rest
			continue
		}
		if !strings.HasPrefix(line, "application.name") {
			continue
		}
		if strings.Contains(strings.ToLower(line), want) && current != "" {
			return current, nil
		}
	}
	return "", Errf(intent.ErrExecution, "no audio stream for %q", app)
}

func mediaTool(opts Options, name, playerctlCmd, did string) Tool {
	return Tool{
		Name:        name,
		Description: "Media player " + playerctlCmd,
		ArgSchema:   map[string]any{"player": "string"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			cmdArgs := []string{playerctlCmd}
			if player := strArg(args, "player"); player != "" {
				cmdArgs = append([]string{"--player=" + player}, cmdArgs...)
			}
			out, err := opts.Exec.Run(ctx, "playerctl", cmdArgs...)
			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return map[string]any{"did": did}, nil
		},
	}
}
