package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// WorkerProtocolVersion is the only job protocol version this build speaks.
const WorkerProtocolVersion = 1

// EncodeJobRequest serializes a JobRequest to JSON and writes it to w,
// newline-terminated. Returns an error if marshaling or writing fails.
func EncodeJobRequest(w io.Writer, req *JobRequest) error {
	if req.Protocol != WorkerProtocolVersion {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode job request: %w", err)
	}

	return nil
}

// DecodeJobResponse deserializes a JobResponse from one JSON document.
// Returns an error if unmarshaling fails, or if the response is invalid.
func DecodeJobResponse(data []byte) (*JobResponse, error) {
	var resp JobResponse

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode job response: %w", err)
	}

	// Validate required fields
	if resp.Status == "" {
		return nil, fmt.Errorf("response missing required field: status")
	}

	if resp.Status != "ok" && resp.Status != "error" {
		return nil, fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}

	if resp.JobID == "" {
		return nil, fmt.Errorf("response missing required field: job_id")
	}

	// If status is error, an error code must be present
	if resp.Status == "error" && resp.ErrCode == "" {
		return nil, fmt.Errorf("response has status=error but no err_code")
	}

	return &resp, nil
}

// EncodeFrame serializes a Frame to w, newline-terminated.
func EncodeFrame(w io.Writer, f *Frame) error {
	if !f.Type.Valid() {
		return fmt.Errorf("invalid frame type: %q", f.Type)
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(f); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	return nil
}

// DecodeFrame deserializes one Frame from data. Unknown envelope fields and
// unknown frame types are rejected.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	if f.Type == "" {
		return nil, fmt.Errorf("frame missing required field: type")
	}
	if !f.Type.Valid() {
		return nil, fmt.Errorf("unknown frame type: %q", f.Type)
	}

	return &f, nil
}

// NewFrame marshals body into a Frame of the given type. A nil body yields
// an empty payload.
func NewFrame(t FrameType, gen uint64, turnID string, body any) (*Frame, error) {
	f := &Frame{Type: t, Gen: gen, TurnID: turnID}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		f.Payload = raw
	}
	return f, nil
}

// DecodeWorkerLine interprets one stdout line from a worker as either a
// heartbeat or a job response. Heartbeats return (nil, hb, nil).
func DecodeWorkerLine(data []byte) (*JobResponse, *Heartbeat, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("worker output is not valid JSON: %w", err)
	}

	if probe.Kind == "heartbeat" {
		var hb Heartbeat
		if err := json.Unmarshal(data, &hb); err != nil {
			return nil, nil, fmt.Errorf("failed to decode heartbeat: %w", err)
		}
		return nil, &hb, nil
	}

	resp, err := DecodeJobResponse(data)
	if err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}
