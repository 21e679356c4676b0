package router

import (
	"regexp"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

// Composite plans carry a confidence penalty: composing pattern matches is
// slightly less reliable than one match.
const compositePenalty = 0.95

// separators in precedence order. The first class found splits the whole
// utterance; sequential separators order the plan, parallel ones don't.
var separators = []struct {
	re         *regexp.Regexp
	sequential bool
}{
	{regexp.MustCompile(`(?i)\s+and\s+then\s+`), true},
	{regexp.MustCompile(`(?i)\s+then\s+`), true},
	{regexp.MustCompile(`\s*;\s*`), true},
	{regexp.MustCompile(`(?i)\s+and\s+`), false},
	{regexp.MustCompile(`\s*,\s*`), false},
}

func hasSeparator(text string) bool {
	for _, s := range separators {
		if s.re.MatchString(text) {
			return true
		}
	}
	return false
}

// verbRe recognizes clauses that already carry a verb; only verbless clauses
// inherit one from their predecessor.
var verbRe = regexp.MustCompile(`(?i)^(open|launch|start|close|quit|exit|play|pause|resume|mute|unmute|turn|volume|set|get|go|focus|switch|minimi[sz]e|maximi[sz]e|move|next|skip|previous|what|where|how|weather|louder|quieter)\b`)

// inheritableVerbRe extracts a verb worth carrying forward. Only open-class
// verbs compose ("open chrome and spotify"); media and volume verbs don't.
var inheritableVerbRe = regexp.MustCompile(`(?i)^(open|launch|start|close|quit|exit)\s+`)

func inferVerb(clause string, previous []string) string {
	clause = strings.TrimSpace(clause)
	if verbRe.MatchString(clause) {
		return clause
	}
	for i := len(previous) - 1; i >= 0; i-- {
		if m := inheritableVerbRe.FindStringSubmatch(strings.ToLower(previous[i])); m != nil {
			return m[1] + " " + clause
		}
	}
	return clause
}

// referentObjectRe recognizes a clause whose object is a vague referent
// after an app or window verb ("maximize it", "close that", "move it to the
// second monitor").
var referentObjectRe = regexp.MustCompile(`(?i)^((?:open|launch|start|close|quit|exit|focus(?: on)?|switch to|minimi[sz]e|maximi[sz]e|move)\s+)(?:it|that|this|the\s+(?:app|window|application))\b(.*)$`)

// resolveReferent rewrites "maximize it" to "maximize <lastTarget>" when an
// earlier clause named a target. With no prior target the clause is left
// unchanged and the matcher's referent denylist rejects it.
func resolveReferent(clause, lastTarget string) string {
	if lastTarget == "" {
		return clause
	}
	m := referentObjectRe.FindStringSubmatch(clause)
	if m == nil {
		return clause
	}
	rest := strings.TrimSpace(m[2])
	if rest == "again" {
		rest = ""
	}
	out := strings.TrimSpace(m[1]) + " " + lastTarget
	if rest != "" {
		out += " " + rest
	}
	return out
}

// planTarget extracts the most recent concrete target a plan named, for
// referent resolution in later clauses.
func planTarget(intents []intent.ActionIntent) string {
	for i := len(intents) - 1; i >= 0; i-- {
		for _, k := range []string{"target", "title", "url"} {
			if v, ok := intents[i].Args[k].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

// trySplit attempts a deterministic multi-intent parse. ok is false when no
// separator yields 2..MaxIntents clauses that all match above ClauseFloor
// with a composite confidence at or above DispatchFloor.
func trySplit(text string) (intent.RoutingDecision, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return intent.RoutingDecision{}, false
	}

	for _, sep := range separators {
		clauses := splitClauses(raw, sep.re)
		if len(clauses) < 2 {
			continue
		}

		// A parallel split may still hide a comma list inside one
		// clause ("open spotify, chrome and notepad" splits on "and"
		// into two; the first needs a second pass).
		if !sep.re.MatchString(",") {
			clauses = expandCommaLists(clauses)
		}
		if len(clauses) < 2 || len(clauses) > intent.MaxIntents {
			continue
		}

		intents := make([]intent.ActionIntent, 0, len(clauses))
		minConf := 1.0
		var processed []string
		var lastTarget string
		allMatched := true

		for _, clause := range clauses {
			clause = stripFiller(clause)
			if clause == "" {
				allMatched = false
				break
			}
			enhanced := inferVerb(clause, processed)
			enhanced = resolveReferent(enhanced, lastTarget)
			processed = append(processed, enhanced)

			d, ok := matchSingle(enhanced)
			if !ok || d.Confidence < ClauseFloor {
				allMatched = false
				break
			}
			intents = append(intents, d.Intents...)
			if t := planTarget(d.Intents); t != "" {
				lastTarget = t
			}
			if d.Confidence < minConf {
				minConf = d.Confidence
			}
		}

		if !allMatched || len(intents) == 0 || len(intents) > intent.MaxIntents {
			continue
		}

		composite := minConf * compositePenalty
		if composite < DispatchFloor {
			continue
		}

		return intent.RoutingDecision{
			Mode:       intent.ModeToolPlan,
			Intents:    intents,
			Parallel:   !sep.sequential,
			Confidence: composite,
			Source:     "splitter",
		}, true
	}

	return intent.RoutingDecision{}, false
}

func splitClauses(text string, re *regexp.Regexp) []string {
	parts := re.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(strings.TrimSpace(p), ",.;!?")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var commaListRe = regexp.MustCompile(`\s*,\s*(?:and\s+)?|\s+and\s+`)

func expandCommaLists(clauses []string) []string {
	out := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if strings.Contains(c, ",") {
			for _, p := range commaListRe.Split(c, -1) {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			continue
		}
		out = append(out, c)
	}
	return out
}
