package intent

import (
	"fmt"
	"strings"
)

// ToolChecker is the slice of the tool registry the normalizer needs.
type ToolChecker interface {
	Known(tool string) bool
	ValidateArgs(tool string, args map[string]any) error
}

// NormalizePlan validates and coerces a model-produced plan into a
// RoutingDecision the orchestrator can execute. Rules:
//
//   - an empty plan with a reply becomes direct_reply
//   - an empty plan without a reply is an error
//   - unknown tools reject the whole plan
//   - args are validated against the tool's schema
//   - more than MaxIntents actions reject the plan
func NormalizePlan(reg ToolChecker, intents []ActionIntent, parallel bool, reply string) (RoutingDecision, error) {
	if len(intents) == 0 {
		reply = strings.TrimSpace(reply)
		if reply == "" {
			return RoutingDecision{}, fmt.Errorf("plan has no intents and no reply")
		}
		return RoutingDecision{
			Mode:       ModeDirectReply,
			Reply:      reply,
			Confidence: 1.0,
			Source:     "llm",
		}, nil
	}

	if len(intents) > MaxIntents {
		return RoutingDecision{}, fmt.Errorf("plan has %d intents, max is %d", len(intents), MaxIntents)
	}

	out := make([]ActionIntent, 0, len(intents))
	for i, in := range intents {
		name := strings.TrimSpace(in.Tool)
		if name == "" {
			return RoutingDecision{}, fmt.Errorf("intent %d has empty tool name", i)
		}
		if !reg.Known(name) {
			return RoutingDecision{}, fmt.Errorf("intent %d names unknown tool %q", i, name)
		}
		args := in.Args
		if args == nil {
			args = map[string]any{}
		}
		if err := reg.ValidateArgs(name, args); err != nil {
			return RoutingDecision{}, fmt.Errorf("intent %d (%s): %w", i, name, err)
		}
		out = append(out, ActionIntent{
			Tool:            name,
			Args:            args,
			ContinueOnError: in.ContinueOnError,
		})
	}

	// A single intent is never a parallel plan.
	if len(out) == 1 {
		parallel = false
	}

	return RoutingDecision{
		Mode:       ModeToolPlan,
		Intents:    out,
		Parallel:   parallel,
		Confidence: 1.0,
		Source:     "llm",
	}, nil
}
