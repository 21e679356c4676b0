package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/herald/internal/intent"
	"github.com/mattjoyce/herald/internal/llm"
	"github.com/mattjoyce/herald/internal/llm/mocks"
	"github.com/mattjoyce/herald/internal/tools"
)

func testTools(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(tools.Tool{
		Name:        "open_target",
		Description: "Launch an application",
		ArgSchema:   map[string]any{"target": "string"},
		Required:    []string{"target"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *tools.Error) {
			return map[string]any{}, nil
		},
	})
	require.NoError(t, err)
	return r
}

func TestPlannerStructuredPlan(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	completer := mocks.NewMockCompleter(ctrl)
	completer.EXPECT().
		Complete(gomock.Any(), gomock.Any(), "open the thing i was using").
		Return(`{"intents":[{"tool":"open_target","args":{"target":"spotify"}}],"parallel":false,"reply":""}`, nil)

	p := llm.NewPlanner(completer, testTools(t))
	d, err := p.Plan(context.Background(), "open the thing i was using")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeToolPlan, d.Mode)
	require.Len(t, d.Intents, 1)
	assert.Equal(t, "open_target", d.Intents[0].Tool)
	assert.Equal(t, "llm", d.Source)
}

func TestPlannerFencedJSON(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	completer := mocks.NewMockCompleter(ctrl)
	completer.EXPECT().
		Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("```json\n{\"intents\":[],\"parallel\":false,\"reply\":\"It is noon.\"}\n```", nil)

	p := llm.NewPlanner(completer, testTools(t))
	d, err := p.Plan(context.Background(), "what time is it roughly")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeDirectReply, d.Mode)
	assert.Equal(t, "It is noon.", d.Reply)
}

func TestPlannerProseBecomesDirectReply(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	completer := mocks.NewMockCompleter(ctrl)
	completer.EXPECT().
		Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("The capital of Portugal is Lisbon.", nil)

	p := llm.NewPlanner(completer, testTools(t))
	d, err := p.Plan(context.Background(), "capital of portugal")
	require.NoError(t, err)
	assert.Equal(t, intent.ModeDirectReply, d.Mode)
	assert.Equal(t, "The capital of Portugal is Lisbon.", d.Reply)
}

func TestPlannerUnknownToolRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	completer := mocks.NewMockCompleter(ctrl)
	completer.EXPECT().
		Complete(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(`{"intents":[{"tool":"rm_rf","args":{}}],"parallel":false,"reply":""}`, nil)

	p := llm.NewPlanner(completer, testTools(t))
	_, err := p.Plan(context.Background(), "clean everything up")
	assert.Error(t, err)
}

func TestClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hello"}}`))
	}))
	defer srv.Close()

	c := llm.NewClient(srv.URL, "test-model", time.Second)
	out, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestClientUnavailable(t *testing.T) {
	c := llm.NewClient("http://127.0.0.1:1", "test-model", 200*time.Millisecond)
	_, err := c.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}

func TestClientBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := llm.NewClient(srv.URL, "test-model", time.Second)
	_, err := c.Complete(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, llm.ErrUnavailable)
}
