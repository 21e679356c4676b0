package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

// SchemaSource exposes the tool surface the planner advertises to the model.
type SchemaSource interface {
	intent.ToolChecker
	Names() []string
	Describe(name string) (desc string, schema any, ok bool)
}

// Planner asks the model for a structured plan and normalizes the answer.
type Planner struct {
	completer Completer
	tools     SchemaSource
}

// NewPlanner wires a completer to the tool surface.
func NewPlanner(completer Completer, tools SchemaSource) *Planner {
	return &Planner{completer: completer, tools: tools}
}

const plannerSystemPrompt = `You are the command planner of a desktop voice assistant.
Given the user's utterance, reply with ONE JSON object and nothing else:
{"intents":[{"tool":"...","args":{...},"continue_on_error":false}],"parallel":false,"reply":""}
Rules:
- use only the tools listed below, with their declared args
- at most %d intents
- if no tool applies, return an empty intents array and put a short spoken answer in "reply"
- "parallel" true only when the actions are independent
Tools:
%s`

// planEnvelope mirrors the JSON the model is asked to produce.
type planEnvelope struct {
	Intents  []intent.ActionIntent `json:"intents"`
	Parallel bool                  `json:"parallel"`
	Reply    string                `json:"reply"`
}

// Plan turns one utterance into a RoutingDecision via the model.
func (p *Planner) Plan(ctx context.Context, text string) (intent.RoutingDecision, error) {
	content, err := p.completer.Complete(ctx, p.systemPrompt(), text)
	if err != nil {
		return intent.RoutingDecision{}, err
	}

	raw := extractJSON(content)
	var env planEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Not a plan at all: treat the content as a spoken answer.
		reply := strings.TrimSpace(content)
		if reply == "" {
			return intent.RoutingDecision{}, fmt.Errorf("model produced no usable plan")
		}
		return intent.RoutingDecision{
			Mode: intent.ModeDirectReply, Reply: reply, Confidence: 1.0, Source: "llm",
		}, nil
	}

	d, err := intent.NormalizePlan(p.tools, env.Intents, env.Parallel, env.Reply)
	if err != nil {
		return intent.RoutingDecision{}, fmt.Errorf("normalize plan: %w", err)
	}
	return d, nil
}

// Answer produces a short conversational reply with no tool use.
func (p *Planner) Answer(ctx context.Context, text string) (string, error) {
	const system = "You are a desktop voice assistant. Answer in one or two short spoken sentences."
	reply, err := p.completer.Complete(ctx, system, text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	for _, name := range p.tools.Names() {
		desc, schema, ok := p.tools.Describe(name)
		if !ok {
			continue
		}
		raw, _ := json.Marshal(schema)
		fmt.Fprintf(&b, "- %s: %s args=%s\n", name, desc, raw)
	}
	return fmt.Sprintf(plannerSystemPrompt, intent.MaxIntents, b.String())
}

// extractJSON tolerates markdown fences and prose around the object.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}
