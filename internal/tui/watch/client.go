package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/herald/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type statusMsg struct {
	Phase  string `json:"phase"`
	Gen    uint64 `json:"gen"`
	Uptime string `json:"uptime"`
}

type tickMsg time.Time

type errMsg error

type wsDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the /v1/events websocket and feeds events
// into the provided channel. Returns wsDisconnectedMsg when the connection
// drops.
func subscribeToEvents(apiURL string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		wsURL := "ws" + strings.TrimPrefix(apiURL, "http")

		conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/v1/events?since=%d", wsURL, lastID), nil)
		if err != nil {
			return wsDisconnectedMsg{}
		}
		defer conn.Close()

		for {
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return wsDisconnectedMsg{}
			}
			if ev.ID <= lastID {
				continue
			}
			ch <- ev
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchStatus queries the /v1/status endpoint.
func fetchStatus(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(apiURL + "/v1/status")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var s statusMsg
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return errMsg(err)
	}
	return s
}
