package intent

// Mode says how an utterance should be handled downstream.
type Mode string

const (
	// ModeToolPlan carries one or more ActionIntents for the worker pool.
	ModeToolPlan Mode = "tool_plan"
	// ModeLLM defers the whole utterance to the language model for a
	// free-form answer.
	ModeLLM Mode = "llm"
	// ModeDirectReply carries a ready reply that needs no tool work.
	ModeDirectReply Mode = "direct_reply"
)

// MaxIntents caps the number of actions a single utterance may produce.
const MaxIntents = 7

// ActionIntent is one resolved action: a tool name plus validated arguments.
type ActionIntent struct {
	Tool            string         `json:"tool"`
	Args            map[string]any `json:"args"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// RoutingDecision is the router's verdict for one utterance.
type RoutingDecision struct {
	Mode       Mode           `json:"mode"`
	Intents    []ActionIntent `json:"intents,omitempty"`
	Parallel   bool           `json:"parallel,omitempty"`
	Reply      string         `json:"reply,omitempty"`
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"` // pattern | splitter | llm
}

// ErrCode classifies a failed tool execution. The set is closed; anything a
// worker reports outside it is coerced to execution_error.
type ErrCode string

const (
	ErrInvalidArgument ErrCode = "invalid_argument"
	ErrExecution       ErrCode = "execution_error"
	ErrWorkerCrash     ErrCode = "worker_crash"
	ErrTimeout         ErrCode = "timeout"
	ErrUnavailable     ErrCode = "unavailable"
	ErrOverflow        ErrCode = "overflow"
)

// KnownErrCode reports whether code belongs to the closed taxonomy.
func KnownErrCode(code ErrCode) bool {
	switch code {
	case ErrInvalidArgument, ErrExecution, ErrWorkerCrash, ErrTimeout, ErrUnavailable, ErrOverflow:
		return true
	}
	return false
}

// CoerceErrCode maps an arbitrary reported code into the taxonomy.
func CoerceErrCode(code string) ErrCode {
	c := ErrCode(code)
	if KnownErrCode(c) {
		return c
	}
	return ErrExecution
}

// ExecutionResult is the outcome of one ActionIntent.
type ExecutionResult struct {
	Intent  ActionIntent   `json:"intent"`
	OK      bool           `json:"ok"`
	Payload map[string]any `json:"payload,omitempty"`
	ErrCode ErrCode        `json:"err_code,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ExecutionSummary aggregates the results of one plan.
type ExecutionSummary struct {
	Results []ExecutionResult `json:"results"`
	OK      bool              `json:"ok"`
	Reply   string            `json:"reply"`
}
