package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/detector"
	"github.com/cascadehq/cascade/internal/discovery"
	"github.com/cascadehq/cascade/internal/domain"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/notify"
	"github.com/cascadehq/cascade/internal/propagator"
	"github.com/cascadehq/cascade/internal/prompts"
	"github.com/cascadehq/cascade/internal/reporter"
	"github.com/cascadehq/cascade/internal/runstore"
	"github.com/cascadehq/cascade/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	runDryRun bool
	runModel  string
	runPlain  bool
	initPath  string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run CHANGE",
		Short: "Propagate a change across all configured repositories",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "branch only, no changes")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "override agent model")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "line output instead of the live view")
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last run results",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan repos for schema drift",
		RunE:  runDetect,
	}
	rootCmd.AddCommand(detectCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover CHANGE",
		Short: "Identify affected files without making changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiscover,
	}
	rootCmd.AddCommand(discoverCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new cascade.yaml configuration",
		RunE:  runInit,
	}
	initCmd.Flags().StringVar(&initPath, "path", ".", "directory to create cascade.yaml in")
	rootCmd.AddCommand(initCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and agent CLI availability",
		RunE:  runVersion,
	}
	rootCmd.AddCommand(versionCmd)
}

func loadRunConfig() (*config.Cascade, *config.App, error) {
	app, err := config.LoadApp(config.DefaultAppPath())
	if err != nil {
		return nil, nil, err
	}
	path, err := config.Find(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, app, nil
}

func newInvoker(cfg *config.Cascade, app *config.App) *agent.Invoker {
	maxParallel := app.Agent.MaxParallel
	if cfg.Settings.MaxParallel > 0 {
		maxParallel = cfg.Settings.MaxParallel
	}
	return agent.New(app.Agent.Binary, maxParallel, cfg.Settings.RepoTimeout())
}

func runRun(cmd *cobra.Command, args []string) error {
	change := args[0]

	cfg, app, err := loadRunConfig()
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.Settings.Model = runModel
	}

	fmt.Printf("Change: %s\n", change)
	fmt.Printf("Repos:  %d\n\n", len(cfg.Repos))

	invoker := newInvoker(cfg, app)
	bus := events.NewBus()
	prop := propagator.New(cfg, invoker, bus, prompts.DefaultLoader(cfg.Dir))

	var result *domain.RunResult
	if runPlain {
		bus.Subscribe(printEvent)
		result = prop.Run(cmd.Context(), change, runDryRun)
	} else {
		repoNames := make([]string, 0, len(cfg.Repos))
		for _, r := range cfg.Repos {
			repoNames = append(repoNames, r.Name)
		}
		model := tui.NewModel(change, repoNames, tui.Feed(bus))
		program := tea.NewProgram(model)

		go prop.Run(cmd.Context(), change, runDryRun)

		final, err := program.Run()
		if err != nil {
			return err
		}
		if m, ok := final.(tui.Model); ok {
			result = m.Result()
		}
	}

	if result == nil {
		return fmt.Errorf("run did not complete")
	}

	fmt.Println()
	fmt.Println(reporter.Summary(result))

	saveAndNotify(app, result)

	if result.FailCount() > 0 {
		os.Exit(1)
	}
	return nil
}

func saveAndNotify(app *config.App, result *domain.RunResult) {
	if store, err := runstore.New(config.StatePath()); err == nil {
		store.SaveRun(result)
		store.Close()
	}

	notifier := notify.NewMultiNotifier(
		notify.NewDesktopNotifier(app.Notifications.Desktop),
		notify.NewSlackNotifier(app.Notifications.SlackWebhook),
	)
	notifier.Send(notify.ForRun(result))
}

func printEvent(e domain.Event) {
	switch e.Type {
	case domain.EventOutput:
		fmt.Printf("  [%s] %s\n", e.Repo, e.Line)
	case domain.EventRunStarted, domain.EventRunCompleted:
	default:
		if e.State != nil {
			line := fmt.Sprintf("[%s] %s", e.Repo, e.State.Status)
			if e.State.Error != "" {
				line += ": " + e.State.Error
			}
			fmt.Println(line)
		}
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := runstore.New(config.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.LatestRun()
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("No previous run found.")
		return nil
	}

	fmt.Println(reporter.Summary(result))
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRunConfig()
	if err != nil {
		return err
	}

	report := detector.New(cfg.Settings.Drift).Detect(cfg)
	fmt.Printf("Status: %s\n", report.Status)
	fmt.Printf("%s\n\n", report.ChangeSummary)
	for _, a := range report.Analyses {
		fmt.Printf("  %-20s %-10s %s (%d files scanned, %d old refs, %d new refs)\n",
			a.RepoName, a.Role, a.DisplayStatus(report.Drifted()),
			a.FilesScanned, len(a.OldRefs), len(a.NewRefs))
	}

	if report.Drifted() {
		os.Exit(1)
	}
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
	change := args[0]

	cfg, app, err := loadRunConfig()
	if err != nil {
		return err
	}

	invoker := newInvoker(cfg, app)
	runner := discovery.NewRunner(invoker, prompts.DefaultLoader(cfg.Dir), nil, cfg.Settings.Model)

	fmt.Printf("Discovering affected files in %d repos...\n\n", len(cfg.Repos))
	results := runner.DiscoverAll(context.Background(), cfg.Repos, change)

	for _, res := range results {
		if !res.Success() {
			fmt.Printf("%s: FAILED (%s)\n", res.RepoName, res.Error)
			continue
		}
		fmt.Printf("%s: %d affected files\n", res.RepoName, len(res.AffectedFiles))
		for _, f := range res.AffectedFiles {
			fmt.Printf("  - %s\n", f)
		}
	}
	return nil
}

const initTemplate = `name: my-project

repos:
  - name: backend
    path: ./backend
    role: source
    language: python
    test_cmd: "python -m pytest -v"

  - name: frontend
    path: ./frontend
    role: consumer
    language: javascript
    test_cmd: "npm test"

settings:
  max_parallel: 4
  timeout_per_repo: 600
  auto_branch: true
  branch_prefix: "cascade/"
  retry_on_test_fail: true
  max_retries: 2
`

func runInit(cmd *cobra.Command, args []string) error {
	target := filepath.Join(initPath, "cascade.yaml")
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%s already exists", target)
	}
	if err := os.WriteFile(target, []byte(initTemplate), 0o644); err != nil {
		return err
	}
	fmt.Printf("Created %s\n", target)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("Cascade v%s\n", version)

	app, err := config.LoadApp(config.DefaultAppPath())
	if err != nil {
		return err
	}
	if bin, err := exec.LookPath(app.Agent.Binary); err == nil {
		fmt.Printf("Agent CLI: %s\n", bin)
	} else {
		fmt.Printf("Agent CLI: %s not found on PATH\n", app.Agent.Binary)
	}
	return nil
}
