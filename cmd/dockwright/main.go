// ABOUTME: CLI entrypoint for the dockwright workflow: flag parsing, engine
// ABOUTME: wiring, signal handling, optional status server and terminal UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"github.com/dockwright/dockwright/config"
	"github.com/dockwright/dockwright/dockercli"
	"github.com/dockwright/dockwright/llm"
	"github.com/dockwright/dockwright/report"
	"github.com/dockwright/dockwright/scanfs"
	"github.com/dockwright/dockwright/server"
	"github.com/dockwright/dockwright/tui"
	"github.com/dockwright/dockwright/validate"
	"github.com/dockwright/dockwright/workflow"
)

var version = "dev"

// cliConfig holds CLI configuration parsed from flags and the target argument.
type cliConfig struct {
	configPath  string
	maxRetries  int
	serve       bool
	serveAddr   string
	tuiMode     bool
	vulnScan    bool
	verbose     bool
	showVersion bool
	target      string
}

func main() {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("dockwright %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("dockwright", flag.ContinueOnError)
	fs.StringVar(&cfg.configPath, "config", "", "Path to YAML config file")
	fs.IntVar(&cfg.maxRetries, "max-retries", -1, "Artifact repair budget (overrides config)")
	fs.BoolVar(&cfg.serve, "serve", false, "Expose a read-only status server during the run")
	fs.StringVar(&cfg.serveAddr, "serve-addr", "", "Status server listen address (overrides config)")
	fs.BoolVar(&cfg.tuiMode, "tui", false, "Run with interactive terminal UI")
	fs.BoolVar(&cfg.vulnScan, "vuln-scan", false, "Scan the built image for vulnerabilities")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() { printHelp(os.Stderr, version) }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if fs.NArg() > 0 {
		cfg.target = fs.Arg(0)
	}
	return cfg
}

func printHelp(w *os.File, version string) {
	fmt.Fprintf(w, `dockwright %s - generate and validate a Dockerfile for a repository

Usage:
  dockwright [flags] <repo-path>

Flags:
  -config PATH        YAML config file
  -max-retries N      artifact repair budget (default from config: 3)
  -serve              expose a read-only status server during the run
  -serve-addr ADDR    status server listen address
  -tui                interactive terminal UI
  -vuln-scan          scan the built image with trivy
  -verbose            verbose output
  -version            print version and exit

Environment:
  OPENAI_API_KEY      API key for the generation model (required)
  DOCKWRIGHT_MODEL    model name (default gpt-4o)
  DOCKWRIGHT_BASE_URL custom OpenAI-compatible endpoint
`, version)
}

// run executes one workflow run. Returns the process exit code.
func run(cli cliConfig) int {
	if cli.target == "" {
		printHelp(os.Stderr, version)
		return 2
	}
	info, err := os.Stat(cli.target)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "error: target %q is not a directory\n", cli.target)
		return 2
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	if cli.maxRetries >= 0 {
		cfg.Workflow.MaxRetries = cli.maxRetries
	}
	if cli.serve {
		cfg.Server.Enabled = true
	}
	if cli.serveAddr != "" {
		cfg.Server.Addr = cli.serveAddr
	}
	if cli.vulnScan {
		cfg.Validate.VulnScan = true
	}

	if cfg.LLM.APIKey == "" {
		fmt.Fprintln(os.Stderr, "error: no API key found")
		fmt.Fprintln(os.Stderr, "Set OPENAI_API_KEY or DOCKWRIGHT_API_KEY")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := ulid.Make().String()
	log.Printf("component=cli action=run_start run_id=%s target=%s", runID, cli.target)

	engineCfg, err := buildEngine(cfg, cli.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	tracker := server.NewTracker(runID, cli.target)
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, tracker)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Printf("component=server action=stopped err=%v", err)
			}
		}()
	}

	var result *workflow.RunResult
	var runErr error
	if cli.tuiMode {
		result, runErr = runWithTUI(ctx, engineCfg, tracker, cli.target)
	} else {
		engineCfg.EventHandler = tracker.HandleEvent
		engine := workflow.NewEngine(*engineCfg)
		result, runErr = engine.Run(ctx, cli.target)
	}
	if result != nil {
		tracker.SetResult(result)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
	}
	if result == nil {
		return 1
	}

	fmt.Println(report.Terminal(result))

	if result.Status == workflow.RunSucceeded {
		log.Printf("component=cli action=run_done run_id=%s status=success retries=%d", runID, result.State.RetryCount)
		return 0
	}
	log.Printf("component=cli action=run_done run_id=%s status=failed retries=%d", runID, result.State.RetryCount)
	return 1
}

// buildEngine wires the oracle, container runtime, scanner, and stages.
func buildEngine(cfg config.Config, verbose bool) (*workflow.EngineConfig, error) {
	client, err := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, llm.WithVerbose(verbose))
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	oracle := &workflow.LLMOracle{Client: client}
	classifier := &workflow.OracleClassifier{Oracle: oracle}

	docker := dockercli.NewClient()
	tags := dockercli.NewTagClient()

	var scanner *dockercli.TrivyScanner
	if cfg.Validate.VulnScan {
		scanner = dockercli.NewTrivyScanner()
	}

	runner := validate.NewRunner(docker, classifier, scanner, validate.Config{
		BuildMemory:  cfg.Validate.BuildMemory,
		RunMemory:    cfg.Validate.RunMemory,
		CPUs:         cfg.Validate.CPUs,
		PidsLimit:    cfg.Validate.PidsLimit,
		PollInterval: cfg.Validate.PollInterval(),
		MaxReadyWait: cfg.Validate.MaxReadyWait(),
		SizeCeiling:  cfg.Validate.SizeCeilingBytes(),
		VulnScan:     cfg.Validate.VulnScan,
		VulnStrict:   cfg.Validate.VulnStrict,
		VulnBaseMax:  cfg.Validate.VulnBaseMax,
	})

	fsScanner := scanfs.NewScanner()
	fsScanner.MaxFiles = cfg.Scan.MaxFiles
	fsReader := scanfs.NewReader()
	fsReader.MaxBytes = cfg.Scan.MaxFileBytes

	registry := workflow.NewStageRegistry()
	registry.Register(&workflow.ScanStage{FS: fsScanner})
	registry.Register(&workflow.AnalyzeStage{Oracle: oracle})
	registry.Register(&workflow.ReadFilesStage{
		FS:             fsReader,
		MaxFiles:       cfg.Scan.MaxDigestFiles,
		MaxDigestBytes: cfg.Scan.MaxDigestBytes,
	})
	registry.Register(&workflow.PlanStage{Oracle: oracle, Tags: tags})
	registry.Register(&workflow.GenerateStage{Oracle: oracle, Tags: tags})
	registry.Register(&workflow.ReviewStage{Oracle: oracle})
	registry.Register(&workflow.ValidateStage{Runner: runner, ArtifactFile: cfg.Workflow.ArtifactFile})
	registry.Register(&workflow.ReflectStage{Oracle: oracle})

	return &workflow.EngineConfig{
		MaxRetries: cfg.Workflow.MaxRetries,
		Stages:     registry,
	}, nil
}

// runWithTUI runs the engine inside a Bubble Tea program.
func runWithTUI(ctx context.Context, engineCfg *workflow.EngineConfig, tracker *server.Tracker, target string) (*workflow.RunResult, error) {
	model := tui.NewModel(target)
	program := tea.NewProgram(model, tea.WithContext(ctx))

	bridge := tui.NewEventBridge(program.Send)
	engineCfg.EventHandler = func(ev workflow.EngineEvent) {
		tracker.HandleEvent(ev)
		bridge.HandleEvent(ev)
	}
	engine := workflow.NewEngine(*engineCfg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		program.Send(tui.RunWorkflowCmd(runCtx, engine, target)())
	}()

	final, err := program.Run()
	if err != nil {
		return nil, fmt.Errorf("running terminal UI: %w", err)
	}
	return resultFromModel(final)
}

// resultFromModel extracts the run result from the UI's final model. Quitting
// the UI before the run finishes leaves the model without a result; that is a
// cancellation, never a nil result for the caller to trip over.
func resultFromModel(final tea.Model) (*workflow.RunResult, error) {
	m, ok := final.(tui.Model)
	if !ok {
		return nil, fmt.Errorf("unexpected final model type %T", final)
	}
	result, err := m.Result()
	if result == nil && err == nil {
		return nil, errors.New("run cancelled")
	}
	return result, err
}
