package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

// formatReply renders one successful tool result as a short spoken sentence.
// Unknown tools get a generic acknowledgement.
func formatReply(tool string, args, payload map[string]any) string {
	switch tool {
	case "get_time":
		if t, ok := payload["time"].(string); ok && t != "" {
			return fmt.Sprintf("It is %s.", t)
		}
		return "Here's the current time."

	case "get_location":
		if loc, ok := payload["location"].(string); ok && loc != "" {
			return fmt.Sprintf("You're set up in %s.", loc)
		}
		return "Here's your location."

	case "get_weather_forecast":
		if s, ok := payload["summary"].(string); ok && s != "" {
			if !strings.HasSuffix(s, ".") {
				s += "."
			}
			return s
		}
		return "Here's the forecast."

	case "get_system_info":
		osName, _ := payload["os"].(string)
		arch, _ := payload["arch"].(string)
		if cpus, ok := payload["cpus"].(float64); ok && osName != "" {
			return fmt.Sprintf("%s (%s), %d CPU cores.", osName, arch, int(cpus))
		}
		if cpus, ok := payload["cpus"].(int); ok && osName != "" {
			return fmt.Sprintf("%s (%s), %d CPU cores.", osName, arch, cpus)
		}
		return "Here's your system information."

	case "monitor_info":
		switch count := payload["count"].(type) {
		case float64:
			return fmt.Sprintf("You have %s.", plural(int(count), "monitor"))
		case int:
			return fmt.Sprintf("You have %s.", plural(count, "monitor"))
		}
		return "Here's your monitor layout."

	case "set_timer":
		var secs float64
		switch v := payload["seconds"].(type) {
		case float64:
			secs = v
		case int:
			secs = float64(v)
		}
		if secs > 0 {
			return fmt.Sprintf("Timer set for %s.", speakDuration(int(secs)))
		}
		return "Timer set."

	case "open_target":
		if t, ok := anyString(args["target"]); ok {
			return fmt.Sprintf("Opening %s.", t)
		}
		return "Opening."

	case "open_website":
		if u, ok := anyString(payload["url"]); ok {
			return fmt.Sprintf("Opening %s.", speakURL(u))
		}
		return "Opening."

	case "close_window":
		return windowReply("Closed", args)
	case "focus_window":
		return windowReply("Focused", args)
	case "minimize_window":
		return windowReply("Minimized", args)
	case "maximize_window":
		return windowReply("Maximized", args)

	case "move_window_to_monitor":
		title, _ := anyString(args["title"])
		if mon, ok := anyInt(payload["monitor"]); ok && title != "" {
			return fmt.Sprintf("Moved %s to monitor %d.", title, mon)
		}
		return "Window moved."

	case "volume_control":
		return volumeReply(args, payload)

	case "media_play_pause", "media_next", "media_previous":
		return "OK."
	}
	return "Done."
}

func windowReply(did string, args map[string]any) string {
	if title, ok := anyString(args["title"]); ok {
		return fmt.Sprintf("%s %s.", did, title)
	}
	return did + "."
}

func volumeReply(args, payload map[string]any) string {
	action, _ := anyString(payload["action"])
	target := "volume"
	if scope, _ := anyString(payload["scope"]); scope == "app" {
		if app, ok := anyString(args["app"]); ok {
			target = app + " volume"
		} else {
			target = "app volume"
		}
	}

	switch action {
	case "set":
		if level, ok := anyInt(payload["level"]); ok {
			return fmt.Sprintf("Set %s to %d%%.", target, level)
		}
		return "Volume set."
	case "up":
		return capitalize(target) + " up."
	case "down":
		return capitalize(target) + " down."
	case "mute":
		if target != "volume" {
			return capitalize(strings.TrimSuffix(target, " volume")) + " muted."
		}
		return "Muted."
	case "unmute":
		if target != "volume" {
			return capitalize(strings.TrimSuffix(target, " volume")) + " unmuted."
		}
		return "Unmuted."
	case "toggle_mute":
		return "OK."
	}
	return "OK."
}

// apologyFor maps a failure code to the one sentence the user hears.
func apologyFor(code intent.ErrCode) string {
	switch code {
	case intent.ErrInvalidArgument:
		return "Sorry, I didn't catch the details of that."
	case intent.ErrWorkerCrash:
		return "Sorry, something went wrong while doing that."
	case intent.ErrTimeout:
		return "Sorry, that took too long."
	case intent.ErrUnavailable:
		return "Sorry, I can't do that right now."
	case intent.ErrOverflow:
		return "Sorry, I'm doing too many things at once. Try again in a moment."
	default:
		return "Sorry, that didn't work."
	}
}

// speakDuration renders seconds the way a person would say them.
func speakDuration(secs int) string {
	if secs >= 3600 {
		h := secs / 3600
		m := (secs % 3600) / 60
		if m > 0 {
			return plural(h, "hour") + " and " + plural(m, "minute")
		}
		return plural(h, "hour")
	}
	if secs >= 60 {
		m := secs / 60
		s := secs % 60
		if s > 0 {
			return plural(m, "minute") + " and " + plural(s, "second")
		}
		return plural(m, "minute")
	}
	return plural(secs, "second")
}

// speakURL drops the scheme and any trailing slash for speech.
func speakURL(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	return strings.TrimSuffix(u, "/")
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func anyString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && strings.TrimSpace(s) != ""
}

func anyInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}
