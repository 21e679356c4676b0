package tools

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/mattjoyce/herald/internal/intent"
)

func openTargetTool(opts Options) Tool {
	return Tool{
		Name:        "open_target",
		Description: "Launch an application by name",
		ArgSchema:   map[string]any{"target": "string"},
		Required:    []string{"target"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			target := strings.TrimSpace(strArg(args, "target"))
			if target == "" {
				return nil, Errf(intent.ErrInvalidArgument, "empty target")
			}

			// A target that resolves on PATH is launched directly;
			// anything else goes through the desktop opener.
			bin := strings.ToLower(strings.ReplaceAll(target, " ", "-"))
			if _, err := exec.LookPath(bin); err == nil {
				if err := opts.Exec.Start(ctx, bin); err != nil {
					return nil, classifyExecErr(err, "")
				}
				return map[string]any{"target": target, "launched": bin}, nil
			}
			if err := opts.Exec.Start(ctx, "xdg-open", target); err != nil {
				return nil, classifyExecErr(err, "")
			}
			return map[string]any{"target": target, "launched": "xdg-open"}, nil
		},
	}
}

func openWebsiteTool(opts Options) Tool {
	return Tool{
		Name:        "open_website",
		Description: "Open a URL in the default browser",
		ArgSchema:   map[string]any{"url": "string"},
		Required:    []string{"url"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			raw := strings.TrimSpace(strArg(args, "url"))
			if raw == "" {
				return nil, Errf(intent.ErrInvalidArgument, "empty url")
			}
			if !strings.Contains(raw, "://") {
				raw = "https://" + raw
			}
			u, err := url.Parse(raw)
			if err != nil || u.Host == "" {
				return nil, Errf(intent.ErrInvalidArgument, "not a valid url: %s", raw)
			}
			if err := opts.Exec.Start(ctx, "xdg-open", u.String()); err != nil {
				return nil, classifyExecErr(err, "")
			}
			return map[string]any{"url": u.String()}, nil
		},
	}
}

func windowTitleArg(args map[string]any) (string, *Error) {
	title := strings.TrimSpace(strArg(args, "title"))
	if title == "" {
		return "", Errf(intent.ErrInvalidArgument, "empty window title")
	}
	return title, nil
}

func closeWindowTool(opts Options) Tool {
	return Tool{
		Name:        "close_window",
		Description: "Close a window by title",
		ArgSchema:   map[string]any{"title": "string"},
		Required:    []string{"title"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			title, terr := windowTitleArg(args)
			if terr != nil {
				return nil, terr
			}
			out, err := opts.Exec.Run(ctx, "wmctrl", "-c", title)
			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return map[string]any{"title": title, "action": "close"}, nil
		},
	}
}

func focusWindowTool(opts Options) Tool {
	return Tool{
		Name:        "focus_window",
		Description: "Bring a window to the foreground",
		ArgSchema:   map[string]any{"title": "string"},
		Required:    []string{"title"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			title, terr := windowTitleArg(args)
			if terr != nil {
				return nil, terr
			}
			out, err := opts.Exec.Run(ctx, "wmctrl", "-a", title)
			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return map[string]any{"title": title, "action": "focus"}, nil
		},
	}
}

func minimizeWindowTool(opts Options) Tool {
	return Tool{
		Name:        "minimize_window",
		Description: "Minimize a window by title",
		ArgSchema:   map[string]any{"title": "string"},
		Required:    []string{"title"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			title, terr := windowTitleArg(args)
			if terr != nil {
				return nil, terr
			}
			out, err := opts.Exec.Run(ctx, "xdotool", "search", "--name", title, "windowminimize")
			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return map[string]any{"title": title, "action": "minimize"}, nil
		},
	}
}

func maximizeWindowTool(opts Options) Tool {
	return Tool{
		Name:        "maximize_window",
		Description: "Maximize a window by title",
		ArgSchema:   map[string]any{"title": "string"},
		Required:    []string{"title"},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			title, terr := windowTitleArg(args)
			if terr != nil {
				return nil, terr
			}
			out, err := opts.Exec.Run(ctx, "wmctrl", "-r", title, "-b", "add,maximized_vert,maximized_horz")
			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return map[string]any{"title": title, "action": "maximize"}, nil
		},
	}
}

func moveWindowTool(opts Options) Tool {
	return Tool{
		Name:        "move_window_to_monitor",
		Description: "Move a window to a monitor by 1-based index",
		ArgSchema:   map[string]any{"title": "string", "monitor": "integer"},
		Required:    []string{"title", "monitor"},
		Validate: func(args map[string]any) error {
			n, ok := numArg(args, "monitor")
			if !ok || n < 1 {
				return fmt.Errorf("monitor must be a positive index")
			}
			return nil
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, *Error) {
			title, terr := windowTitleArg(args)
			if terr != nil {
				return nil, terr
			}
			n, _ := numArg(args, "monitor")
			idx := int(n)
			if idx > len(opts.Monitors) {
				return nil, Errf(intent.ErrInvalidArgument, "monitor %d not present (have %d)", idx, len(opts.Monitors))
			}

			// Horizontal layout assumed: x offset is the width of all
			// monitors to the left.
			x := 0
			for _, m := range opts.Monitors {
				if m.Index < idx {
					x += m.Width
				}
			}
			out, err := opts.Exec.Run(ctx, "wmctrl", "-r", title, "-e", fmt.Sprintf("0,%d,0,-1,-1", x))
			if err != nil {
				return nil, classifyExecErr(err, out)
			}
			return map[string]any{"title": title, "monitor": idx, "x": x}, nil
		},
	}
}
