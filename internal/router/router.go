// Package router turns raw user text into a routing decision: a
// deterministic tool plan when the utterance is an obvious command, a
// language-model plan otherwise. The deterministic tier is intentionally
// conservative.
package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/log"
)

// Planner is the language-model fallback tier.
type Planner interface {
	Plan(ctx context.Context, text string) (intent.RoutingDecision, error)
}

// Hybrid routes with patterns first and the Planner second.
type Hybrid struct {
	checker  intent.ToolChecker
	fallback Planner
}

// NewHybrid builds a router. fallback may be nil; utterances the
// deterministic tier rejects then fail with an error the caller maps to an
// unavailable reply.
func NewHybrid(checker intent.ToolChecker, fallback Planner) *Hybrid {
	return &Hybrid{checker: checker, fallback: fallback}
}

var spaceRe = regexp.MustCompile(`\s+`)

// Decide routes one final transcript.
func (h *Hybrid) Decide(ctx context.Context, text string) (intent.RoutingDecision, error) {
	raw := spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	if raw == "" {
		return intent.RoutingDecision{}, fmt.Errorf("empty utterance")
	}

	logger := log.WithComponent("router")

	// Multi-intent first: a separator means the single-clause patterns
	// must never swallow the whole utterance.
	if hasSeparator(raw) {
		if d, ok := trySplit(raw); ok {
			d = h.filterKnown(d)
			if d.Mode == intent.ModeToolPlan {
				logger.Debug("split accepted", "clauses", len(d.Intents), "confidence", d.Confidence)
				return d, nil
			}
		}
		return h.deferToLLM(ctx, raw)
	}

	if d, ok := matchSingle(raw); ok && d.Confidence >= DispatchFloor {
		d = h.filterKnown(d)
		if d.Mode == intent.ModeToolPlan {
			logger.Debug("pattern matched", "tool", d.Intents[0].Tool, "confidence", d.Confidence)
			return d, nil
		}
	}

	return h.deferToLLM(ctx, raw)
}

func (h *Hybrid) deferToLLM(ctx context.Context, text string) (intent.RoutingDecision, error) {
	if h.fallback == nil {
		return intent.RoutingDecision{}, fmt.Errorf("no deterministic match and no language model configured")
	}
	d, err := h.fallback.Plan(ctx, text)
	if err != nil {
		return intent.RoutingDecision{}, fmt.Errorf("language model plan: %w", err)
	}
	return d, nil
}

// filterKnown downgrades a plan naming unregistered tools. The matcher table
// is static; the registry decides what this host can actually do.
func (h *Hybrid) filterKnown(d intent.RoutingDecision) intent.RoutingDecision {
	if h.checker == nil {
		return d
	}
	for _, in := range d.Intents {
		if !h.checker.Known(in.Tool) {
			return intent.RoutingDecision{Mode: intent.ModeLLM, Confidence: d.Confidence, Source: d.Source}
		}
	}
	return d
}
