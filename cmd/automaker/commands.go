package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanoibanhcuon/automaker/internal/bus"
	"github.com/hanoibanhcuon/automaker/internal/config"
	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/eventstore"
	"github.com/hanoibanhcuon/automaker/internal/recovery"
	"github.com/hanoibanhcuon/automaker/internal/reportstore"
	"github.com/hanoibanhcuon/automaker/internal/sweep"
	"github.com/hanoibanhcuon/automaker/internal/watcher"
	"github.com/hanoibanhcuon/automaker/web/api"
)

var (
	recoverAll      bool
	recoverJSON     bool
	historyLimit    int
	reconcileOutput bool
	restoreDryRun   bool
	timelineFiles   bool
	eventsTrigger   string
	eventsFeature   string
	eventsLimit     int
	servePort       int
)

func init() {
	// recover command
	recoverCmd := &cobra.Command{
		Use:   "recover PROJECT",
		Short: "Report recovery issues across a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecover,
	}
	recoverCmd.Flags().BoolVar(&recoverAll, "all", false, "include records without issues")
	recoverCmd.Flags().BoolVar(&recoverJSON, "json", false, "emit raw JSON")
	rootCmd.AddCommand(recoverCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history PROJECT",
		Short: "Show archived sweep results for a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max runs to show")
	rootCmd.AddCommand(historyCmd)

	// reconcile command
	reconcileCmd := &cobra.Command{
		Use:   "reconcile PROJECT FEATURE",
		Short: "Reconcile a record's plan against filesystem evidence",
		Args:  cobra.ExactArgs(2),
		RunE:  runReconcile,
	}
	reconcileCmd.Flags().BoolVar(&reconcileOutput, "rebuild-output", false, "also regenerate the execution artifact")
	rootCmd.AddCommand(reconcileCmd)

	// rebuild-output command
	rebuildCmd := &cobra.Command{
		Use:   "rebuild-output PROJECT FEATURE",
		Short: "Regenerate a record's execution artifact",
		Args:  cobra.ExactArgs(2),
		RunE:  runRebuildOutput,
	}
	rootCmd.AddCommand(rebuildCmd)

	// resume command
	resumeCmd := &cobra.Command{
		Use:   "resume PROJECT FEATURE",
		Short: "Reconcile a record and confirm it has pending work",
		Args:  cobra.ExactArgs(2),
		RunE:  runResume,
	}
	rootCmd.AddCommand(resumeCmd)

	// restore-deps command
	restoreCmd := &cobra.Command{
		Use:   "restore-deps PROJECT [FEATURE...]",
		Short: "Restore lost dependency links from backups and plan text",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRestoreDeps,
	}
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "report candidates without saving")
	rootCmd.AddCommand(restoreCmd)

	// timeline command
	timelineCmd := &cobra.Command{
		Use:   "timeline PROJECT FEATURE",
		Short: "Show a record's activity history",
		Args:  cobra.ExactArgs(2),
		RunE:  runTimeline,
	}
	timelineCmd.Flags().BoolVar(&timelineFiles, "files", false, "include file activity from the execution artifact")
	rootCmd.AddCommand(timelineCmd)

	// events command group
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the project event history",
	}
	eventsListCmd := &cobra.Command{
		Use:   "list PROJECT",
		Short: "List events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runEventsList,
	}
	eventsListCmd.Flags().StringVar(&eventsTrigger, "trigger", "", "filter by trigger")
	eventsListCmd.Flags().StringVar(&eventsFeature, "feature", "", "filter by feature id")
	eventsListCmd.Flags().IntVar(&eventsLimit, "limit", 50, "max events to show")
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(&cobra.Command{
		Use:   "show PROJECT EVENT",
		Short: "Show one event in full",
		Args:  cobra.ExactArgs(2),
		RunE:  runEventsShow,
	})
	eventsCmd.AddCommand(&cobra.Command{
		Use:   "delete PROJECT EVENT",
		Short: "Delete one event",
		Args:  cobra.ExactArgs(2),
		RunE:  runEventsDelete,
	})
	eventsCmd.AddCommand(&cobra.Command{
		Use:   "clear PROJECT",
		Short: "Delete all events for a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runEventsClear,
	})
	rootCmd.AddCommand(eventsCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func newService() *recovery.Service {
	return recovery.NewService(newLogger())
}

func newEventStore() *eventstore.Store {
	return eventstore.New(eventstore.ConfigFromEnv(), newLogger())
}

func runRecover(cmd *cobra.Command, args []string) error {
	report, err := newService().Report(cmd.Context(), args[0], recoverAll)
	if err != nil {
		return err
	}

	if recoverJSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	fmt.Print(renderReport(report))
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := reportstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(args[0], historyLimit)
	if err != nil {
		return err
	}
	fmt.Print(renderHistory(runs))
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	outcome, err := newService().ReconcilePlan(args[0], args[1], reconcileOutput)
	if err != nil {
		return err
	}

	fmt.Printf("Reconciled %s: %d/%d tasks complete\n",
		args[1], outcome.Result.TasksCompleted, outcome.Result.TasksTotal)
	if outcome.Result.CurrentTaskID != "" {
		fmt.Printf("Current task: %s\n", outcome.Result.CurrentTaskID)
	}
	if outcome.StatusAdjusted {
		fmt.Printf("Status repaired: record moved to %s\n", outcome.Record.Status)
	}
	if len(outcome.Result.MissingFiles) > 0 {
		fmt.Printf("Missing files: %d\n", len(outcome.Result.MissingFiles))
		for _, f := range outcome.Result.MissingFiles {
			fmt.Printf("  - %s\n", f)
		}
	}
	if outcome.OutputRebuilt {
		fmt.Println("Execution artifact rebuilt")
	}
	if !outcome.Changed && !outcome.StatusAdjusted {
		fmt.Println("No changes needed")
	}
	return nil
}

func runRebuildOutput(cmd *cobra.Command, args []string) error {
	outcome, err := newService().RebuildOutput(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt execution artifact for %s (%d bytes, %d missing files)\n",
		args[1], len(outcome.Output), len(outcome.MissingFiles))
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	outcome, err := newService().ResumePending(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Record %s ready to resume at %s (%d/%d tasks complete)\n",
		args[1], outcome.Result.CurrentTaskID,
		outcome.Result.TasksCompleted, outcome.Result.TasksTotal)
	return nil
}

func runRestoreDeps(cmd *cobra.Command, args []string) error {
	report, err := newService().RestoreDependencies(args[0], args[1:], restoreDryRun)
	if err != nil {
		return err
	}
	fmt.Print(renderRestoreReport(report))
	return nil
}

func runTimeline(cmd *cobra.Command, args []string) error {
	entries, err := newService().Timeline(args[0], args[1], timelineFiles)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No timeline entries")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-16s %s\n", e.Time.Format(time.RFC3339), e.Type, e.Label)
	}
	return nil
}

func runEventsList(cmd *cobra.Command, args []string) error {
	summaries := newEventStore().List(args[0], eventstore.Filter{
		Trigger:   eventsTrigger,
		FeatureID: eventsFeature,
		Limit:     eventsLimit,
	})
	if len(summaries) == 0 {
		fmt.Println("No events")
		return nil
	}
	for _, s := range summaries {
		line := fmt.Sprintf("%s  %-22s %s", s.Timestamp.Format(time.RFC3339), s.Trigger, s.ID)
		if s.FeatureID != "" {
			line += "  " + s.FeatureID
		}
		fmt.Println(line)
	}
	return nil
}

func runEventsShow(cmd *cobra.Command, args []string) error {
	event, err := newEventStore().Get(args[0], args[1])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runEventsDelete(cmd *cobra.Command, args []string) error {
	ok, err := newEventStore().Delete(args[0], args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("event %s not found", args[1])
	}
	fmt.Println("Deleted")
	return nil
}

func runEventsClear(cmd *cobra.Command, args []string) error {
	count, err := newEventStore().Clear(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d events\n", count)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger()
	svc := recovery.NewService(log)
	events := eventstore.New(eventstore.ConfigFromEnv(), log)

	eventBus := bus.New(bus.Options{
		Batch:         cfg.Bus.Batch,
		FlushInterval: time.Duration(cfg.Bus.FlushIntervalMS) * time.Millisecond,
		MaxQueue:      cfg.Bus.MaxQueue,
	}, log)

	var reports *reportstore.Store
	if cfg.General.DatabasePath != "" {
		reports, err = reportstore.New(cfg.General.DatabasePath)
		if err != nil {
			return err
		}
		defer reports.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Filesystem watcher feeds record-change notifications to the bus.
	recWatcher, err := watcher.New(func(project string, ids []string) {
		eventBus.Emit("records_changed", map[string]any{
			"project": project,
			"records": ids,
		})
	}, log)
	if err != nil {
		return err
	}
	for _, project := range cfg.General.Projects {
		if err := recWatcher.AddProject(project); err != nil {
			log.Warn().Err(err).Str("project", project).Msg("failed to watch project")
		}
	}
	recWatcher.Start(ctx)
	defer recWatcher.Stop()

	// Scheduled sweeps reconcile every project and archive the summary.
	if cfg.Sweep.Enabled {
		sweeper := sweep.New(func(ctx context.Context, project string) error {
			report, err := svc.Report(ctx, project, false)
			if err != nil {
				return err
			}
			if reports != nil {
				if _, err := reports.RecordRun(project, report.GeneratedAt, report.Summary); err != nil {
					log.Warn().Err(err).Str("project", project).Msg("failed to archive sweep")
				}
			}
			if _, err := events.Append(project, domain.StoredEvent{
				Trigger: "recovery_sweep",
				Metadata: map[string]any{
					"withIssues":   report.Summary.Total,
					"totalRecords": report.Summary.TotalItems,
				},
			}); err != nil {
				log.Warn().Err(err).Str("project", project).Msg("failed to record sweep event")
			}
			eventBus.Emit("recovery_sweep", map[string]any{
				"project": project,
				"summary": report.Summary,
			})
			return nil
		}, log)
		for _, project := range cfg.General.Projects {
			if err := sweeper.AddProject(project, cfg.Sweep.Cron); err != nil {
				return fmt.Errorf("invalid sweep cron %q: %w", cfg.Sweep.Cron, err)
			}
		}
		go sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	port := cfg.Web.Port
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)

	server := api.NewServer(svc, events, reports, eventBus, addr, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	log.Info().Str("addr", addr).Msg("server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	}
}
