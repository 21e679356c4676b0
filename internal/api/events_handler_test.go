package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/events"
)

func TestEventsWebsocketFeed(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Publish before connecting: the snapshot replay should deliver it.
	s.hub.Publish(events.TypeDecision, 1, map[string]any{"mode": "tool_plan"})

	ts := httptest.NewServer(s.setupRoutes())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events?since=0"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeDecision, ev.Type)
	assert.Equal(t, uint64(1), ev.Gen)

	// Live events arrive after the snapshot.
	s.hub.Publish(events.TypeReply, 1, map[string]any{"reply": "Done."})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeReply, ev.Type)
}
