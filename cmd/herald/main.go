package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/herald/internal/config"
	"github.com/mattjoyce/herald/internal/llm"
	"github.com/mattjoyce/herald/internal/router"
	"github.com/mattjoyce/herald/internal/tools"
	"github.com/mattjoyce/herald/internal/tui/watch"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "tools":
		os.Exit(runToolsNoun(args))
	case "worker":
		os.Exit(runWorkerNoun(args))
	case "brain":
		os.Exit(runBrainNoun(args))

	// --- ROOT COMMANDS ---
	case "start":
		os.Exit(runStart(args))
	case "watch":
		os.Exit(runWatch(args))
	case "route":
		os.Exit(runRoute(args))
	case "version":
		fmt.Printf("herald version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`herald - Voice-driven command dispatcher

Usage:
  herald <noun> <action> [flags]

Core Resources (Nouns):
  system    Runtime lifecycle
  config    Configuration and integrity
  tools     Builtin tool surface
  worker    Tool worker process (spawned by the pool)
  brain     Decision process (spawned in subprocess mode)

System Commands:
  system start      Run the dispatcher in the foreground

Config Commands:
  config check      Validate syntax and integrity
  config lock       Authorize current config (update integrity hash)
  config show       Print the resolved configuration

Tool Commands:
  tools list        Show the builtin tools this host offers
  tools run <name>  Execute one tool directly, bypassing routing

General:
  route <text>      Show the routing decision for an utterance
  watch             Live TUI over the control API event feed
  version           Show version information
  help              Show this help message

Use 'herald <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printSystemNounHelp(helpWriter(args))
		return helpExit(args)
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printConfigNounHelp(helpWriter(args))
		return helpExit(args)
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runToolsNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		printToolsNounHelp(helpWriter(args))
		return helpExit(args)
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printToolsListHelp()
			return 0
		}
		return runToolsList(actionArgs)
	case "run":
		if hasHelpFlag(actionArgs) {
			printToolsRunHelp()
			return 0
		}
		return runToolsRun(actionArgs)
	case "help":
		printToolsNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown tools action: %s\n", action)
		return 1
	}
}

func runWorkerNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(helpWriter(args), "Usage: herald worker run --slot N [--config PATH]")
		return helpExit(args)
	}
	if args[0] != "run" {
		fmt.Fprintf(os.Stderr, "Unknown worker action: %s\n", args[0])
		return 1
	}
	return runWorker(args[1:])
}

func runBrainNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(helpWriter(args), "Usage: herald brain run [--config PATH]")
		return helpExit(args)
	}
	if args[0] != "run" {
		fmt.Fprintf(os.Stderr, "Unknown brain action: %s\n", args[0])
		return 1
	}
	return runBrain(args[1:])
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// helpWriter picks stderr for missing actions, stdout for explicit help.
func helpWriter(args []string) *os.File {
	if len(args) > 0 && isHelpToken(args[0]) {
		return os.Stdout
	}
	return os.Stderr
}

func helpExit(args []string) int {
	if len(args) > 0 && isHelpToken(args[0]) {
		return 0
	}
	return 1
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: herald system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: herald config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show")
}

func printToolsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: herald tools <action> [flags]")
	fmt.Fprintln(w, "Actions: list, run")
}

func printSystemStartHelp() {
	fmt.Println("Usage: herald system start [--config PATH] [--no-console]")
	fmt.Println("Run the dispatcher in the foreground. --no-console disables the")
	fmt.Println("stdin transcript source; utterances then arrive via the API only.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: herald config check [--config PATH] [--strict]")
	fmt.Println("Validate configuration syntax, values, and integrity hash.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: herald config lock [--config PATH]")
	fmt.Println("Authorize the current configuration by regenerating its integrity hash.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: herald config show [--config PATH] [--json]")
	fmt.Println("Print the fully resolved configuration.")
}

func printToolsListHelp() {
	fmt.Println("Usage: herald tools list [--config PATH] [--json]")
	fmt.Println("Show the builtin tools available on this host.")
}

func printToolsRunHelp() {
	fmt.Println("Usage: herald tools run <name> [--args JSON] [--config PATH]")
	fmt.Println("Execute one tool directly with the given args, bypassing routing.")
}

// --- ACTION IMPLEMENTATIONS ---

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigPath()
}

func loadConfig(configPath string) (*config.Config, string, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	result, err := config.VerifyIntegrity(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check error: %v\n", err)
		return 1
	}

	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Service: %s (log level %s)\n", cfg.Service.Name, cfg.Service.LogLevel)
	for _, w := range result.Warnings {
		fmt.Printf("WARN  %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Printf("ERROR %s\n", e)
	}

	if !result.Passed {
		fmt.Println("Status: Configuration check FAILED.")
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		fmt.Println("Status: Configuration check PASSED with warnings (strict mode).")
		return 2
	}
	fmt.Println("Status: Configuration check PASSED.")
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	for file, hash := range manifest.Hashes {
		fmt.Printf("HASH %s: %s\n", file, hash)
	}
	fmt.Println("Configuration locked.")
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

func runToolsList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output with full arg schemas in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	registry := buildRegistry(cfg)

	if *jsonOut {
		type entry struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			ArgSchema   any    `json:"arg_schema"`
		}
		var out []entry
		for _, name := range registry.Names() {
			desc, schema, _ := registry.Describe(name)
			out = append(out, entry{Name: name, Description: desc, ArgSchema: schema})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	for _, name := range registry.Names() {
		desc, _, _ := registry.Describe(name)
		fmt.Printf("%-16s %s\n", name, desc)
	}
	return 0
}

func runToolsRun(args []string) int {
	var configPath, argsJSON string
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&argsJSON, "args", "{}", "Tool args as a JSON object")

	// Support the tool name before or after the flags.
	var name string
	var remaining []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && name == "" {
			name = arg
		} else {
			remaining = append(remaining, arg)
		}
	}
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "Usage: herald tools run <name> [--args JSON] [--config PATH]")
		return 1
	}

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Bad --args JSON: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	registry := buildRegistry(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pool.JobTimeout)
	defer cancel()

	payload, toolErr := registry.Execute(ctx, name, toolArgs)
	if toolErr != nil {
		fmt.Fprintf(os.Stderr, "Tool failed [%s]: %s\n", toolErr.Code, toolErr.Message)
		return 1
	}
	data, _ := json.MarshalIndent(payload, "", "  ")
	fmt.Println(string(data))
	return 0
}

func runRoute(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("route", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")

	var words []string
	var remaining []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			remaining = append(remaining, arg)
		} else {
			words = append(words, arg)
		}
	}
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	text := strings.Join(words, " ")
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "Usage: herald route <text> [--config PATH]")
		return 1
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	registry := buildRegistry(cfg)

	var fallback router.Planner
	if cfg.LLM.Enabled {
		client := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
		fallback = llm.NewPlanner(client, registry)
	}
	hybrid := router.NewHybrid(registry, fallback)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+5*time.Second)
	defer cancel()

	decision, err := hybrid.Decide(ctx, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Routing failed: %v\n", err)
		return 1
	}
	data, _ := json.MarshalIndent(decision, "", "  ")
	fmt.Println(string(data))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8264", "Control API base URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch TUI failed: %v\n", err)
		return 1
	}
	return 0
}

// buildRegistry maps host facts from the config onto the builtin tool set.
func buildRegistry(cfg *config.Config) *tools.Registry {
	monitors := make([]tools.Monitor, 0, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		monitors = append(monitors, tools.Monitor{
			Index:   m.Index,
			Name:    m.Name,
			Width:   m.Width,
			Height:  m.Height,
			Primary: m.Primary,
		})
	}
	return tools.NewBuiltinRegistry(tools.Options{
		Location: cfg.Service.Location,
		Monitors: monitors,
	})
}
