package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type transcriptRequest struct {
	Text string `json:"text"`
}

type statusResponse struct {
	Phase  string `json:"phase"`
	Gen    uint64 `json:"gen"`
	Uptime string `json:"uptime"`
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ArgSchema   any    `json:"arg_schema"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTranscript injects text into the interaction loop as if it had been
// heard and finalized.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	s.transcripts.Push(text)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.interrupter.Interrupt(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "interrupted",
		"gen":    s.status.Gen(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Phase:  string(s.status.Phase()),
		Gen:    s.status.Gen(),
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	out := make([]toolInfo, 0, len(names))
	for _, name := range names {
		desc, schema, ok := s.registry.Describe(name)
		if !ok {
			continue
		}
		out = append(out, toolInfo{Name: name, Description: desc, ArgSchema: schema})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
