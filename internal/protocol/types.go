package protocol

import (
	"encoding/json"
	"time"
)

// FrameType discriminates the tagged-union envelope exchanged between the
// front end and the brain process.
type FrameType string

const (
	FrameTranscript   FrameType = "TRANSCRIPT"
	FrameInterrupt    FrameType = "INTERRUPT"
	FrameShutdown     FrameType = "SHUTDOWN"
	FrameResult       FrameType = "RESULT"
	FrameInterruptAck FrameType = "INTERRUPT_ACK"
)

func (t FrameType) Valid() bool {
	switch t {
	case FrameTranscript, FrameInterrupt, FrameShutdown, FrameResult, FrameInterruptAck:
		return true
	}
	return false
}

// Frame is the envelope carried on the front-end/brain channel. Payload is
// the raw JSON of the type-specific body; Gen is the interrupt generation
// the frame was produced under.
type Frame struct {
	Type    FrameType       `json:"type"`
	Gen     uint64          `json:"gen"`
	TurnID  string          `json:"turn_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TranscriptPayload is the body of a TRANSCRIPT frame.
type TranscriptPayload struct {
	Text     string    `json:"text"`
	Final    bool      `json:"final"`
	HeardAt  time.Time `json:"heard_at"`
	Followup bool      `json:"followup,omitempty"`
}

// ResultPayload is the body of a RESULT frame: the brain's finished reply
// for one turn, ready for speech.
type ResultPayload struct {
	Reply   string `json:"reply"`
	OK      bool   `json:"ok"`
	ErrCode string `json:"err_code,omitempty"`
}

// InterruptAckPayload is the body of an INTERRUPT_ACK frame. Gen on the
// envelope carries the generation the brain has advanced to.
type InterruptAckPayload struct {
	AbandonedJobs int `json:"abandoned_jobs"`
}

// JobRequest is the envelope sent to a worker process via stdin, one JSON
// object per line.
type JobRequest struct {
	Protocol   int            `json:"protocol"`
	JobID      string         `json:"job_id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	Gen        uint64         `json:"gen"`
	DeadlineAt time.Time      `json:"deadline_at"`
}

// JobResponse is the envelope received from a worker via stdout.
type JobResponse struct {
	Status  string         `json:"status"` // ok | error
	JobID   string         `json:"job_id"`
	Tool    string         `json:"tool,omitempty"`
	Gen     uint64         `json:"gen,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	ErrCode string         `json:"err_code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Logs    []LogEntry     `json:"logs,omitempty"`
}

// Heartbeat is the liveness frame a worker emits between jobs. It shares the
// stdout line stream with JobResponse and is distinguished by kind.
type Heartbeat struct {
	Kind     string    `json:"kind"` // always "heartbeat"
	WorkerID int       `json:"worker_id"`
	At       time.Time `json:"at"`
}

// LogEntry represents a log message forwarded from a worker.
type LogEntry struct {
	Level   string `json:"level"` // info | warn | error | debug
	Message string `json:"message"`
}

// PoisonJobID is the reserved job id that tells a worker to drain and exit.
const PoisonJobID = "__poison__"

// IsPoison reports whether the request is the shutdown pill.
func (r *JobRequest) IsPoison() bool {
	return r.JobID == PoisonJobID
}
