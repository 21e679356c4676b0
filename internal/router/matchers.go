package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

// Confidence levels for the deterministic tier. Anything below
// DispatchFloor falls through to the language model.
const (
	DispatchFloor = 0.75
	ClauseFloor   = 0.70
)

// ambiguousReferents never match deterministically; "open it" means nothing
// without conversational context.
var ambiguousReferents = map[string]bool{
	"it": true, "this": true, "that": true, "something": true, "anything": true,
}

var (
	urlSchemeRe = regexp.MustCompile(`(?i)\bhttps?://`)
	wwwRe       = regexp.MustCompile(`(?i)\bwww\.`)
	domainRe    = regexp.MustCompile(`(?i)\b[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.(?:[a-z]{2,})(?:/\S*)?\b`)
)

func looksLikeURL(text string) bool {
	t := strings.TrimSpace(strings.ToLower(text))
	if t == "" {
		return false
	}
	return urlSchemeRe.MatchString(t) || wwwRe.MatchString(t) || domainRe.MatchString(t)
}

// fillerPrefixes are stripped from the front of a clause before matching.
var fillerPrefixes = []string{
	"please ",
	"can you ",
	"could you ",
	"would you ",
	"hey ",
	"okay ",
	"ok ",
}

func stripFiller(clause string) string {
	c := strings.TrimSpace(clause)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(c)
		for _, p := range fillerPrefixes {
			if strings.HasPrefix(lower, p) {
				c = strings.TrimSpace(c[len(p):])
				changed = true
				break
			}
		}
	}
	return c
}

var ordinals = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4,
	"fifth": 5, "sixth": 6, "seventh": 7,
	"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5, "6th": 6, "7th": 7,
}

// matcher is one row of the deterministic tier: an anchored pattern plus a
// builder that turns submatches into a decision.
type matcher struct {
	name  string
	re    *regexp.Regexp
	conf  float64
	build func(m []string) (intent.RoutingDecision, bool)
}

func plan(conf float64, intents ...intent.ActionIntent) (intent.RoutingDecision, bool) {
	return intent.RoutingDecision{
		Mode:       intent.ModeToolPlan,
		Intents:    intents,
		Confidence: conf,
		Source:     "pattern",
	}, true
}

func one(tool string, args map[string]any) intent.ActionIntent {
	if args == nil {
		args = map[string]any{}
	}
	return intent.ActionIntent{Tool: tool, Args: args}
}

var matchers = []matcher{
	{
		name: "time",
		re:   regexp.MustCompile(`(?i)^(?:what(?:'s| is)? ?(?:the )?time(?: is it)?|what time is it|time is it|current time)\??$`),
		conf: 0.95,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.95, one("get_time", nil))
		},
	},
	{
		name: "date",
		re:   regexp.MustCompile(`(?i)^(?:what(?:'s| is) the date(?: today)?|what day is it(?: today)?)\??$`),
		conf: 0.90,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.90, one("get_time", nil))
		},
	},
	{
		name: "location",
		re:   regexp.MustCompile(`(?i)^(?:where am i|what(?:'s| is) my location)\??$`),
		conf: 0.90,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.90, one("get_location", nil))
		},
	},
	{
		name: "weather",
		re:   regexp.MustCompile(`(?i)^(?:what(?:'s| is) the weather(?: like)?|how(?:'s| is) the weather|weather(?: forecast)?)(?:\s+(?:in|for)\s+(.+?))?\??$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			args := map[string]any{}
			if loc := strings.TrimSpace(m[1]); loc != "" {
				args["location"] = loc
			}
			return plan(0.85, one("get_weather_forecast", args))
		},
	},
	{
		name: "system info",
		re:   regexp.MustCompile(`(?i)^(?:system (?:info|information)|what are your specs|tell me about this (?:machine|computer))\??$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.85, one("get_system_info", nil))
		},
	},
	{
		name: "monitor info",
		re:   regexp.MustCompile(`(?i)^(?:monitor info|display info|how many (?:monitors|displays|screens)(?: do i have)?)\??$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.85, one("monitor_info", nil))
		},
	},
	{
		name: "go to site",
		re:   regexp.MustCompile(`(?i)^go to\s+(.+)$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			target := cleanTarget(m[1])
			if target == "" || ambiguousReferents[strings.ToLower(target)] {
				return intent.RoutingDecision{}, false
			}
			return plan(0.85, one("open_website", map[string]any{"url": target}))
		},
	},
	{
		name: "open",
		re:   regexp.MustCompile(`(?i)^(?:open|launch|start)\s+(.+)$`),
		conf: 0.90,
		build: func(m []string) (intent.RoutingDecision, bool) {
			target := cleanTarget(m[1])
			if target == "" || ambiguousReferents[strings.ToLower(target)] {
				return intent.RoutingDecision{}, false
			}
			if containsActionVerb(target) {
				return intent.RoutingDecision{}, false
			}
			// URL-shaped targets go to the browser, everything else is
			// an application launch.
			if looksLikeURL(target) {
				return plan(0.90, one("open_website", map[string]any{"url": target}))
			}
			return plan(0.90, one("open_target", map[string]any{"target": target}))
		},
	},
	{
		name: "mute",
		re:   regexp.MustCompile(`(?i)^(?:mute|unmute)(?:\s+(?:the\s+)?(?:volume|sound|audio))?$`),
		conf: 0.90,
		build: func(m []string) (intent.RoutingDecision, bool) {
			action := "mute"
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(m[0])), "unmute") {
				action = "unmute"
			}
			return plan(0.90, one("volume_control", map[string]any{"action": action}))
		},
	},
	{
		name: "volume up",
		re:   regexp.MustCompile(`(?i)^(?:volume up|turn (?:up|it up)(?: the)?(?: volume)?|louder)(?:\s+by\s+(\d{1,3})(?:\s*(?:percent|%))?)?$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return volumeStep("up", m[1])
		},
	},
	{
		name: "volume down",
		re:   regexp.MustCompile(`(?i)^(?:volume down|turn (?:down|it down)(?: the)?(?: volume)?|quieter)(?:\s+by\s+(\d{1,3})(?:\s*(?:percent|%))?)?$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return volumeStep("down", m[1])
		},
	},
	{
		name: "volume set",
		re:   regexp.MustCompile(`(?i)^set (?:the )?volume to\s+(\d{1,3})(?:\s*(?:percent|%))?$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			level, err := strconv.Atoi(m[1])
			if err != nil || level < 0 || level > 100 {
				return intent.RoutingDecision{}, false
			}
			return plan(0.85, one("volume_control", map[string]any{"action": "set", "level": float64(level)}))
		},
	},
	{
		name: "play pause",
		re:   regexp.MustCompile(`(?i)^(?:play|pause|resume|unpause)(?:\s+(?:the\s+|my\s+)?(?:music|media|it|song))?$`),
		conf: 0.80,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.80, one("media_play_pause", nil))
		},
	},
	{
		name: "next track",
		re:   regexp.MustCompile(`(?i)^(?:next|skip)(?:\s+(?:track|song))?$`),
		conf: 0.80,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.80, one("media_next", nil))
		},
	},
	{
		name: "previous track",
		re:   regexp.MustCompile(`(?i)^(?:previous|prev|go back)(?:\s+(?:track|song))?$`),
		conf: 0.80,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return plan(0.80, one("media_previous", nil))
		},
	},
	{
		name: "close window",
		re:   regexp.MustCompile(`(?i)^(?:close|quit|exit)\s+(.+)$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return windowAction("close_window", m[1], 0.85)
		},
	},
	{
		name: "focus window",
		re:   regexp.MustCompile(`(?i)^(?:focus(?: on)?|switch to)\s+(.+)$`),
		conf: 0.80,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return windowAction("focus_window", m[1], 0.80)
		},
	},
	{
		name: "minimize window",
		re:   regexp.MustCompile(`(?i)^minimi[sz]e\s+(.+)$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return windowAction("minimize_window", m[1], 0.85)
		},
	},
	{
		name: "maximize window",
		re:   regexp.MustCompile(`(?i)^maximi[sz]e\s+(.+)$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			return windowAction("maximize_window", m[1], 0.85)
		},
	},
	{
		name: "move window",
		re:   regexp.MustCompile(`(?i)^move\s+(.+?)\s+to (?:the )?(\w+) (?:monitor|screen|display)$`),
		conf: 0.85,
		build: func(m []string) (intent.RoutingDecision, bool) {
			title := cleanTarget(m[1])
			if title == "" || ambiguousReferents[strings.ToLower(title)] {
				return intent.RoutingDecision{}, false
			}
			word := strings.ToLower(m[2])
			idx, ok := ordinals[word]
			if !ok {
				n, err := strconv.Atoi(word)
				if err != nil || n < 1 {
					return intent.RoutingDecision{}, false
				}
				idx = n
			}
			return plan(0.85, one("move_window_to_monitor", map[string]any{
				"title": title, "monitor": float64(idx),
			}))
		},
	},
	{
		name: "set timer",
		re:   regexp.MustCompile(`(?i)^set (?:a )?timer for\s+(\d+)\s*(seconds?|minutes?|hours?)$`),
		conf: 0.90,
		build: func(m []string) (intent.RoutingDecision, bool) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				return intent.RoutingDecision{}, false
			}
			secs := n
			switch {
			case strings.HasPrefix(strings.ToLower(m[2]), "minute"):
				secs = n * 60
			case strings.HasPrefix(strings.ToLower(m[2]), "hour"):
				secs = n * 3600
			}
			return plan(0.90, one("set_timer", map[string]any{"seconds": float64(secs)}))
		},
	},
}

func volumeStep(action, deltaStr string) (intent.RoutingDecision, bool) {
	args := map[string]any{"action": action}
	if deltaStr != "" {
		delta, err := strconv.Atoi(deltaStr)
		if err != nil || delta <= 0 || delta > 100 {
			return intent.RoutingDecision{}, false
		}
		args["delta"] = float64(delta)
	}
	return plan(0.85, one("volume_control", args))
}

func windowAction(tool, rawTitle string, conf float64) (intent.RoutingDecision, bool) {
	title := cleanTarget(rawTitle)
	if title == "" || ambiguousReferents[strings.ToLower(title)] {
		return intent.RoutingDecision{}, false
	}
	if containsActionVerb(title) {
		return intent.RoutingDecision{}, false
	}
	return plan(conf, one(tool, map[string]any{"title": title}))
}

func cleanTarget(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSuffix(s, ".")
	s = strings.TrimSuffix(s, "?")
	return strings.TrimSpace(s)
}

// containsActionVerb guards extracted objects against swallowed commands
// ("open chrome and play music" must never become one open_target).
func containsActionVerb(target string) bool {
	for _, w := range strings.Fields(strings.ToLower(target)) {
		switch w {
		case "play", "pause", "resume", "then", "and", "also", "plus":
			return true
		}
	}
	return false
}

// matchSingle runs a clause through the matcher table. ok is false when no
// pattern matched or the match was rejected by its builder.
func matchSingle(clause string) (intent.RoutingDecision, bool) {
	c := stripFiller(clause)
	if c == "" {
		return intent.RoutingDecision{}, false
	}

	for _, m := range matchers {
		sub := m.re.FindStringSubmatch(c)
		if sub == nil {
			continue
		}
		d, ok := m.build(sub)
		if !ok {
			continue
		}
		return d, true
	}
	return intent.RoutingDecision{}, false
}
