package tools

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/mattjoyce/herald/internal/intent"
)

// fakeRunner records commands and replies from a canned table.
type fakeRunner struct {
	calls   []string
	replies map[string]string
	fail    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeRunner) key(name string, args ...string) string {
	return name + " " + strings.Join(args, " ")
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	k := f.key(name, args...)
	f.calls = append(f.calls, k)
	if err, ok := f.fail[name]; ok {
		return "", err
	}
	return f.replies[k], nil
}

func (f *fakeRunner) Start(ctx context.Context, name string, args ...string) error {
	f.calls = append(f.calls, f.key(name, args...))
	if err, ok := f.fail[name]; ok {
		return err
	}
	return nil
}

func testRegistry(runner CommandRunner) *Registry {
	return NewBuiltinRegistry(Options{
		Location: "Lisbon",
		Monitors: []Monitor{
			{Index: 1, Name: "eDP-1", Width: 1920, Height: 1080, Primary: true},
			{Index: 2, Name: "HDMI-1", Width: 2560, Height: 1440},
		},
		Exec: runner,
	})
}

func TestRegistryKnownAndNames(t *testing.T) {
	r := testRegistry(newFakeRunner())

	for _, name := range []string{
		"get_time", "open_target", "open_website", "volume_control",
		"move_window_to_monitor", "media_next", "set_timer",
	} {
		if !r.Known(name) {
			t.Errorf("expected builtin %q to be registered", name)
		}
	}
	if r.Known("rm_rf") {
		t.Error("unexpected tool registered")
	}

	names := r.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	r := testRegistry(newFakeRunner())

	tests := []struct {
		name    string
		tool    string
		args    map[string]any
		wantErr bool
	}{
		{"ok volume up", "volume_control", map[string]any{"action": "up", "delta": float64(10)}, false},
		{"ok volume set", "volume_control", map[string]any{"action": "set", "level": float64(40)}, false},
		{"set without level", "volume_control", map[string]any{"action": "set"}, true},
		{"level out of range", "volume_control", map[string]any{"action": "set", "level": float64(150)}, true},
		{"unknown action", "volume_control", map[string]any{"action": "louder"}, true},
		{"app scope without app", "volume_control", map[string]any{"action": "mute", "scope": "app"}, true},
		{"missing required", "open_target", map[string]any{}, true},
		{"unknown arg", "get_time", map[string]any{"zone": "UTC"}, true},
		{"wrong type", "open_target", map[string]any{"target": 42}, true},
		{"monitor zero", "move_window_to_monitor", map[string]any{"title": "x", "monitor": float64(0)}, true},
		{"timer negative", "set_timer", map[string]any{"seconds": float64(-5)}, true},
		{"timer ok", "set_timer", map[string]any{"seconds": float64(300), "label": "tea"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateArgs(tt.tool, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateArgs(%s) error = %v, wantErr %v", tt.tool, err, tt.wantErr)
			}
		})
	}
}

func TestExecuteUnknownToolIsInvalidArgument(t *testing.T) {
	r := testRegistry(newFakeRunner())
	_, terr := r.Execute(context.Background(), "teleport", nil)
	if terr == nil || terr.Code != intent.ErrInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", terr)
	}
}

func TestGetTime(t *testing.T) {
	r := testRegistry(newFakeRunner())
	payload, terr := r.Execute(context.Background(), "get_time", nil)
	if terr != nil {
		t.Fatalf("get_time failed: %v", terr)
	}
	if payload["time"] == "" || payload["date"] == "" {
		t.Errorf("incomplete payload: %v", payload)
	}
}

func TestOpenWebsiteNormalizesScheme(t *testing.T) {
	runner := newFakeRunner()
	r := testRegistry(runner)

	_, terr := r.Execute(context.Background(), "open_website", map[string]any{"url": "example.com"})
	if terr != nil {
		t.Fatalf("open_website failed: %v", terr)
	}
	want := "xdg-open https://example.com"
	found := false
	for _, c := range runner.calls {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected call %q, got %v", want, runner.calls)
	}
}

func TestMoveWindowOffset(t *testing.T) {
	runner := newFakeRunner()
	r := testRegistry(runner)

	_, terr := r.Execute(context.Background(), "move_window_to_monitor",
		map[string]any{"title": "Spotify", "monitor": float64(2)})
	if terr != nil {
		t.Fatalf("move failed: %v", terr)
	}
	// Second monitor sits to the right of the 1920-wide primary.
	want := "wmctrl -r Spotify -e 0,1920,0,-1,-1"
	if runner.calls[len(runner.calls)-1] != want {
		t.Errorf("call = %q, want %q", runner.calls[len(runner.calls)-1], want)
	}
}

func TestMoveWindowMonitorNotPresent(t *testing.T) {
	r := testRegistry(newFakeRunner())
	_, terr := r.Execute(context.Background(), "move_window_to_monitor",
		map[string]any{"title": "Spotify", "monitor": float64(5)})
	if terr == nil || terr.Code != intent.ErrInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", terr)
	}
}

func TestVolumeAppScope(t *testing.T) {
	runner := newFakeRunner()
	runner.replies["pactl list sink-inputs"] = "Sink Input #17\n\tapplication.name = \"Spotify\"\n"
	r := testRegistry(runner)

	_, terr := r.Execute(context.Background(), "volume_control",
		map[string]any{"action": "mute", "scope": "app", "app": "spotify"})
	if terr != nil {
		t.Fatalf("app mute failed: %v", terr)
	}
	want := "pactl set-sink-input-mute 17 1"
	if runner.calls[len(runner.calls)-1] != want {
		t.Errorf("call = %q, want %q", runner.calls[len(runner.calls)-1], want)
	}
}

func TestExecErrorMapsToUnavailable(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["playerctl"] = &exec.Error{Name: "playerctl", Err: exec.ErrNotFound}
	r := testRegistry(runner)

	_, terr := r.Execute(context.Background(), "media_next", nil)
	if terr == nil || terr.Code != intent.ErrUnavailable {
		t.Fatalf("expected unavailable, got %v", terr)
	}
}

func TestExpandSchema(t *testing.T) {
	tool := Tool{
		Name:      "demo",
		ArgSchema: map[string]any{"title": "string", "monitor": "integer"},
		Required:  []string{"title"},
	}
	full := tool.GetFullArgSchema()
	m, ok := full.(map[string]any)
	if !ok {
		t.Fatalf("expected map schema, got %T", full)
	}
	if m["type"] != "object" {
		t.Errorf("type = %v, want object", m["type"])
	}
	props, ok := m["properties"].(map[string]any)
	if !ok || len(props) != 2 {
		t.Fatalf("bad properties: %v", m["properties"])
	}
}
