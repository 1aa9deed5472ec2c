package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cascadehq/cascade/internal/agent"
	"github.com/cascadehq/cascade/internal/batch"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/detector"
	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/notify"
	"github.com/cascadehq/cascade/internal/observer"
	"github.com/cascadehq/cascade/internal/runstore"
	"github.com/cascadehq/cascade/web/dashboard"
	"github.com/spf13/cobra"
)

var (
	dashHost string
	dashPort int
)

func init() {
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Launch the live monitoring dashboard",
		RunE:  runDashboard,
	}
	dashboardCmd.Flags().StringVar(&dashHost, "host", "", "dashboard host")
	dashboardCmd.Flags().IntVar(&dashPort, "port", 0, "dashboard port")
	rootCmd.AddCommand(dashboardCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the source repo and report drift on change",
		RunE:  runWatch,
	}
	rootCmd.AddCommand(watchCmd)

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled drift scans from schedule.toml",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	app, err := config.LoadApp(config.DefaultAppPath())
	if err != nil {
		return err
	}

	host := app.Dashboard.Host
	if dashHost != "" {
		host = dashHost
	}
	port := app.Dashboard.Port
	if dashPort != 0 {
		port = dashPort
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	store, err := runstore.New(config.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	invoker := agent.New(app.Agent.Binary, app.Agent.MaxParallel, 0)
	bus := events.NewBus()
	server := dashboard.NewServer(configPath, invoker, bus, store, addr)

	fmt.Printf("Starting dashboard at http://%s\n", addr)
	return server.Start()
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRunConfig()
	if err != nil {
		return err
	}

	det := detector.New(cfg.Settings.Drift)
	watcher, err := observer.NewRepoWatcher(func(repoPath string, files []string) {
		fmt.Printf("Change detected in %s (%d files), rescanning...\n", repoPath, len(files))
		report := det.Detect(cfg)
		fmt.Printf("  %s: %s\n", report.Status, report.ChangeSummary)
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	for _, repo := range cfg.SourceRepos() {
		if err := watcher.AddRepo(repo.ResolvedPath()); err != nil {
			return err
		}
		fmt.Printf("Watching %s (%s)\n", repo.Name, repo.ResolvedPath())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	watcher.Start(ctx)

	<-ctx.Done()
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, app, err := loadRunConfig()
	if err != nil {
		return err
	}

	schedulePath := filepath.Join(cfg.Dir, "schedule.toml")
	scheduleCfg, err := batch.LoadScheduleConfig(schedulePath)
	if err != nil {
		return err
	}
	if len(scheduleCfg.Jobs) == 0 && app.Drift.Schedule != "" {
		scheduleCfg.Jobs = append(scheduleCfg.Jobs, batch.JobConfig{
			Name: "drift-scan",
			Cron: app.Drift.Schedule,
		})
	}
	if len(scheduleCfg.Jobs) == 0 {
		return fmt.Errorf("no scheduled jobs: create %s or set drift.schedule in config.toml", schedulePath)
	}

	notifier := notify.NewMultiNotifier(
		notify.NewDesktopNotifier(app.Notifications.Desktop),
		notify.NewSlackNotifier(app.Notifications.SlackWebhook),
	)

	sched, err := batch.NewScheduler(scheduleCfg.Jobs)
	if err != nil {
		return err
	}

	for _, name := range sched.ListJobs() {
		fmt.Printf("Scheduled %s, next run %s\n", name, sched.NextRun(name).Format("2006-01-02 15:04"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	det := detector.New(cfg.Settings.Drift)
	sched.Start(ctx, func(job batch.JobConfig) error {
		report := det.Detect(cfg)
		fmt.Printf("[%s] %s: %s\n", job.Name, report.Status, report.ChangeSummary)
		if report.Drifted() && job.NotifyOnComplete {
			notifier.Send(notify.Notification{
				Title:   "Schema drift detected",
				Message: report.ChangeSummary,
				Type:    notify.NotifyWarning,
			})
		}
		return nil
	})
	return nil
}
