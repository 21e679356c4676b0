package llm

import "context"

// Completer is the minimal language-model surface the runtime depends on.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

//go:generate mockgen -destination=mocks/mock_completer.go -package=mocks github.com/mattjoyce/herald/internal/llm Completer
