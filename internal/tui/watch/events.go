package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/herald/internal/events"
)

// applyEvent folds one event into the model's headline state.
func applyEvent(m *Model, e events.Event) {
	switch e.Type {
	case events.TypeStateChanged:
		var p struct {
			To string `json:"to"`
		}
		if json.Unmarshal(e.Data, &p) == nil && p.To != "" {
			m.phase = p.To
		}
		m.gen = e.Gen

	case events.TypeInterrupt:
		m.gen = e.Gen

	case events.TypeReply:
		var p struct {
			Reply string `json:"reply"`
		}
		if json.Unmarshal(e.Data, &p) == nil {
			m.lastReply = p.Reply
		}
	}
}

func (m Model) renderHeader() string {
	phaseStyle := m.theme.PhaseIdle
	busy := ""
	switch m.phase {
	case "THINKING", "TRANSCRIBING", "LISTENING":
		phaseStyle = m.theme.PhaseActive
		busy = " " + m.spinner.View()
	case "SPEAKING":
		phaseStyle = m.theme.PhaseSpeaking
	case "FOLLOWUP":
		phaseStyle = m.theme.PhaseFollowup
	}

	conn := m.theme.EventError.Render("●")
	if m.connected {
		conn = m.theme.EventOK.Render("●")
	}

	line := fmt.Sprintf("%s  phase %s%s  gen %d  up %s",
		conn,
		phaseStyle.Render(m.phase),
		busy,
		m.gen,
		m.uptime,
	)
	return m.theme.Border.Width(m.width - 6).Render(
		m.theme.Title.Render("herald") + "  " + line,
	)
}

func (m Model) renderLastReply() string {
	reply := m.lastReply
	if reply == "" {
		reply = m.theme.Dim.Render("(no reply yet)")
	}
	return m.theme.Border.Width(m.width - 6).Render(
		m.theme.Header.Render("Last reply") + "\n" + reply,
	)
}

func (m Model) renderEventStream() string {
	var b strings.Builder
	b.WriteString(m.theme.Header.Render("Events") + "\n")

	rows := len(m.eventLog)
	if max := m.height - 14; max > 0 && rows > max {
		rows = max
	}
	if rows == 0 {
		b.WriteString(m.theme.Dim.Render("waiting for events..."))
	}
	for i := 0; i < rows; i++ {
		e := m.eventLog[i]
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			m.theme.Dim.Render(e.At.Format("15:04:05")),
			styleFor(e, m.theme).Render(fmt.Sprintf("%-14s", e.Type)),
			summarize(e),
		))
	}
	return m.theme.Border.Width(m.width - 6).Render(strings.TrimRight(b.String(), "\n"))
}

func styleFor(e events.Event, t Theme) lipgloss.Style {
	switch e.Type {
	case events.TypeInterrupt:
		return t.EventError
	case events.TypeReply, events.TypeJobDone:
		return t.EventOK
	default:
		return t.EventNotice
	}
}

// summarize renders a short one-line description of the event payload.
func summarize(e events.Event) string {
	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := data[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	switch e.Type {
	case events.TypeTranscript:
		return quoteTrim(pick("text"))
	case events.TypeReply:
		return quoteTrim(pick("reply"))
	case events.TypeDecision:
		return fmt.Sprintf("mode=%s source=%s", pick("mode"), pick("source"))
	case events.TypeStateChanged:
		return fmt.Sprintf("%s → %s", pick("from"), pick("to"))
	case events.TypeJobDone:
		if in, ok := data["intent"].(map[string]any); ok {
			if tool, ok := in["tool"].(string); ok {
				return tool
			}
		}
		return ""
	default:
		return quoteTrim(pick("text", "reply", "label"))
	}
}

func quoteTrim(s string) string {
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	if s == "" {
		return ""
	}
	return fmt.Sprintf("%q", s)
}
