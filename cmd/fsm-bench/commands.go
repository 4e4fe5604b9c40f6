package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/fsm-bench/internal/config"
	"github.com/hochfrequenz/fsm-bench/internal/domain"
	"github.com/hochfrequenz/fsm-bench/internal/fsm"
	"github.com/hochfrequenz/fsm-bench/internal/llm"
	"github.com/hochfrequenz/fsm-bench/internal/notify"
	"github.com/hochfrequenz/fsm-bench/internal/progress"
	"github.com/hochfrequenz/fsm-bench/internal/report"
	"github.com/hochfrequenz/fsm-bench/internal/runner"
	"github.com/hochfrequenz/fsm-bench/internal/runstore"
	"github.com/hochfrequenz/fsm-bench/internal/schedule"
	"github.com/hochfrequenz/fsm-bench/internal/watch"
)

var (
	runInstances   int
	runTurns       int
	runWorkers     int
	runCron        string
	runWatchConfig bool
	runListen      string
	runQuiet       bool

	genStates      int
	genActions     int
	genTransitions int

	simInstance int
	simStart    string
	simSteps    int
	simLive     bool

	filterRun     string
	resultsFormat string
	errorExamples int

	reconcileInstances int
	extendTurns        int
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the experiment for every pending instance",
		RunE:  runRun,
	}
	runCmd.Flags().IntVar(&runInstances, "instances", 0, "override total instance count")
	runCmd.Flags().IntVar(&runTurns, "turns", 0, "override turn budget per instance")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "override worker count")
	runCmd.Flags().StringVar(&runCron, "cron", "", "repeat passes on a cron schedule")
	runCmd.Flags().BoolVar(&runWatchConfig, "watch-config", false, "reload the config file on change")
	runCmd.Flags().StringVar(&runListen, "listen", "", "serve a websocket progress feed on this address")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "suppress per-turn progress lines")
	rootCmd.AddCommand(runCmd)

	// generate command
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one machine and print its task prompt",
		RunE:  runGenerate,
	}
	generateCmd.Flags().IntVar(&genStates, "states", 0, "number of states")
	generateCmd.Flags().IntVar(&genActions, "actions", 0, "number of actions")
	generateCmd.Flags().IntVar(&genTransitions, "transitions", 0, "number of transitions")
	rootCmd.AddCommand(generateCmd)

	// simulate command
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Walk a stored machine and print the scripted sequence",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().IntVar(&simInstance, "instance", 1, "instance id")
	simulateCmd.Flags().StringVar(&simStart, "start", "", "start state (default: initial state)")
	simulateCmd.Flags().IntVar(&simSteps, "steps", 5, "number of steps")
	simulateCmd.Flags().BoolVar(&simLive, "live", false, "interactive session keeping the walker state across advances")
	rootCmd.AddCommand(simulateCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show completed/total instances for a run",
		RunE:  runStatus,
	}
	statusCmd.Flags().StringVar(&filterRun, "run", "", "run identifier (default: configured run)")
	rootCmd.AddCommand(statusCmd)

	// results command
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Show aggregate accuracy per task length",
		RunE:  runResults,
	}
	resultsCmd.Flags().StringVar(&filterRun, "run", "", "run identifier (default: all runs)")
	resultsCmd.Flags().StringVar(&resultsFormat, "format", "table", "output format: table or yaml")
	rootCmd.AddCommand(resultsCmd)

	// errors command
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Show the failure breakdown with example responses",
		RunE:  runErrors,
	}
	errorsCmd.Flags().StringVar(&filterRun, "run", "", "run identifier (default: all runs)")
	errorsCmd.Flags().IntVar(&errorExamples, "examples", 3, "examples per failure type")
	rootCmd.AddCommand(errorsCmd)

	// reconcile command
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Shrink the sample to N instances and rebuild the aggregates",
		RunE:  runReconcile,
	}
	reconcileCmd.Flags().IntVar(&reconcileInstances, "instances", 0, "new instance target")
	reconcileCmd.MarkFlagRequired("instances")
	rootCmd.AddCommand(reconcileCmd)

	// extend command
	extendCmd := &cobra.Command{
		Use:   "extend",
		Short: "Raise the turn budget and reopen finished runs",
		RunE:  runExtend,
	}
	extendCmd.Flags().IntVar(&extendTurns, "turns", 0, "new turn budget")
	extendCmd.MarkFlagRequired("turns")
	rootCmd.AddCommand(extendCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*runstore.Store, error) {
	if dir := filepath.Dir(cfg.Experiment.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return runstore.New(cfg.Experiment.DatabasePath)
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	notifiers := []notify.Notifier{}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func runnerConfig(cfg *config.Config) runner.Config {
	return runner.Config{
		RunID:            cfg.RunIdentifier(),
		TotalInstances:   cfg.Experiment.TotalInstances,
		TurnsPerInstance: cfg.Experiment.TurnsPerInstance,
		StepsPerTurn:     cfg.Experiment.StepsPerTurn,
		Workers:          cfg.Experiment.MaxWorkers,
		TurnDelay:        cfg.TurnDelay(),
		SupportsPriming:  cfg.Agent.SupportsPriming,
		Machine: fsm.GenConfig{
			States:      cfg.FSM.States,
			Actions:     cfg.FSM.Actions,
			Transitions: cfg.FSM.Transitions,
		},
	}
}

// runSession holds the mutable state of a run command: the config can be
// swapped by the watcher between passes.
type runSession struct {
	mu    sync.Mutex
	cfg   *config.Config
	store *runstore.Store
}

func (s *runSession) config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// reload applies an edited config file: a lowered instance target shrinks the
// sample right away, everything else takes effect on the next pass.
func (s *runSession) reload(path string) {
	fresh, err := config.Load(path)
	if err != nil {
		fmt.Printf("Warning: config reload failed: %v\n", err)
		return
	}
	if err := fresh.Validate(); err != nil {
		fmt.Printf("Warning: reloaded config invalid: %v\n", err)
		return
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg = fresh
	s.mu.Unlock()

	fmt.Printf("Config reloaded from %s\n", path)
	if fresh.Experiment.TotalInstances < old.Experiment.TotalInstances {
		err := s.store.ReconcileSampleSize(
			fresh.Experiment.TotalInstances,
			fresh.RunIdentifier(),
			fresh.Experiment.TurnsPerInstance,
			fresh.Experiment.StepsPerTurn,
		)
		if err != nil {
			fmt.Printf("Warning: sample-size reconcile failed: %v\n", err)
			return
		}
		fmt.Printf("Sample reduced to %d instances\n", fresh.Experiment.TotalInstances)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runInstances > 0 {
		cfg.Experiment.TotalInstances = runInstances
	}
	if runTurns > 0 {
		cfg.Experiment.TurnsPerInstance = runTurns
	}
	if runWorkers > 0 {
		cfg.Experiment.MaxWorkers = runWorkers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := &runSession{cfg: cfg, store: store}

	if runWatchConfig {
		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		watcher, err := watch.NewConfigWatcher(path, session.reload)
		if err != nil {
			return fmt.Errorf("watching config: %w", err)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	var hub *progress.Hub
	if runListen != "" {
		hub = progress.NewHub()
		go hub.Run(ctx)
		server := &http.Server{Addr: runListen, Handler: hub}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Printf("Warning: progress server: %v\n", err)
			}
		}()
		defer server.Close()
		fmt.Printf("Progress feed on ws://%s\n", runListen)
	}

	events := func(ev runner.Event) {
		if hub != nil {
			hub.Broadcast(ev)
		}
		if runQuiet {
			return
		}
		switch {
		case ev.Complete:
			fmt.Printf("Instance %d complete after %d turns\n", ev.InstanceID, ev.Turn)
		case ev.Failure != "":
			fmt.Printf("Instance %d turn %d: %s (expected %s, reported %q)\n",
				ev.InstanceID, ev.Turn, ev.Failure, ev.GroundTruth, ev.Reported)
		}
	}

	notifier := buildNotifier(cfg)

	pass := func(ctx context.Context) error {
		cfg := session.config()
		client := llm.NewClient(llm.Options{
			BaseURL:     cfg.Agent.BaseURL,
			APIKey:      cfg.APIKey(),
			Model:       cfg.Agent.Model,
			Temperature: cfg.Agent.Temperature,
			ExtraBody:   cfg.Agent.ExtraBody,
		})
		r := runner.New(store, client, runnerConfig(cfg), events)

		summary, err := r.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Pass finished: %d pending, %d completed, %d failed\n",
			summary.Pending, summary.Completed, summary.Failed)
		if summary.Pending > 0 {
			sendSummary(notifier, cfg.RunIdentifier(), summary)
		}
		return nil
	}

	if runCron != "" {
		gate, err := schedule.NewGate(runCron)
		if err != nil {
			return err
		}
		if err := gate.Run(ctx, pass); err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
	return pass(ctx)
}

func sendSummary(notifier notify.Notifier, runID string, summary runner.Summary) {
	typ := notify.NotifySuccess
	message := fmt.Sprintf("%d/%d instances completed", summary.Completed, summary.Pending)
	if summary.Failed > 0 {
		typ = notify.NotifyWarning
		message = fmt.Sprintf("%s, %d failed: instances %v",
			message, summary.Failed, summary.FailedInstances())
	}
	if err := notifier.Send(notify.Notification{
		Title:   "Experiment pass finished",
		Message: message,
		Type:    typ,
		RunID:   runID,
	}); err != nil {
		fmt.Printf("Warning: notification failed: %v\n", err)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gen := fsm.GenConfig{
		States:      cfg.FSM.States,
		Actions:     cfg.FSM.Actions,
		Transitions: cfg.FSM.Transitions,
	}
	if genStates > 0 {
		gen.States = genStates
	}
	if genActions > 0 {
		gen.Actions = genActions
	}
	if genTransitions > 0 {
		gen.Transitions = genTransitions
	}

	machine, err := fsm.Generate(gen)
	if err != nil {
		return err
	}
	fmt.Println(fsm.RenderTaskPrompt(machine))
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	machine, err := store.GetDefinition(simInstance)
	if err != nil {
		return err
	}

	if simLive {
		return runWalkerSession(machine, os.Stdin, os.Stdout, simSteps)
	}

	start := simStart
	if start == "" {
		start = machine.InitialState
	}
	actions, end := fsm.Simulate(machine, start, simSteps)
	if len(actions) == 0 {
		return fmt.Errorf("no transitions from state %q", start)
	}
	fmt.Printf("from %s: %v\n", start, actions)
	fmt.Printf("end state: %s\n", end)
	return nil
}

// runWalkerSession drives a stateful walk from the machine's initial state.
// Each input line advances the walker: a number walks that many steps, an
// empty line walks defaultSteps, "r" resets to the initial state, "q" ends
// the session.
func runWalkerSession(m *domain.Machine, in io.Reader, out io.Writer, defaultSteps int) error {
	walker := fsm.NewWalker(m)
	fmt.Fprintf(out, "state: %s\n", walker.State())
	fmt.Fprint(out, "> ")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "q", "quit":
			return nil
		case "r", "reset":
			walker.Reset()
			fmt.Fprintf(out, "state: %s\n", walker.State())
		default:
			steps := defaultSteps
			if line != "" {
				n, err := strconv.Atoi(line)
				if err != nil || n < 1 {
					fmt.Fprintln(out, "enter a step count, r to reset, q to quit")
					fmt.Fprint(out, "> ")
					continue
				}
				steps = n
			}
			actions, end := walker.Advance(steps)
			fmt.Fprintf(out, "%s -> %s\n", strings.Join(actions, ", "), end)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := filterRun
	if runID == "" {
		runID = cfg.RunIdentifier()
	}
	if runID == "" {
		return fmt.Errorf("no run identifier: pass --run or configure agent.model")
	}

	completed, err := store.CompletedCount(runID)
	if err != nil {
		return err
	}
	total, err := store.CountDefinitions()
	if err != nil {
		return err
	}
	fmt.Printf("Run %s: %d/%d instances complete\n", runID, completed, total)
	return nil
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rows, err := store.ListAggregates(filterRun)
	if err != nil {
		return err
	}

	switch resultsFormat {
	case "yaml":
		return report.WriteResultsYAML(os.Stdout, rows)
	case "table":
		report.WriteResultsTable(os.Stdout, rows)
		return nil
	default:
		return fmt.Errorf("unknown format %q", resultsFormat)
	}
}

func runErrors(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.ListErrors(filterRun)
	if err != nil {
		return err
	}
	report.WriteErrorReport(os.Stdout, entries, errorExamples)
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := cfg.RunIdentifier()
	if runID == "" {
		return fmt.Errorf("no run identifier: configure agent.model or agent.run_id")
	}

	err = store.ReconcileSampleSize(
		reconcileInstances,
		runID,
		cfg.Experiment.TurnsPerInstance,
		cfg.Experiment.StepsPerTurn,
	)
	if err != nil {
		return err
	}
	fmt.Printf("Sample reduced to %d instances, aggregates rebuilt\n", reconcileInstances)
	return nil
}

func runExtend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := cfg.RunIdentifier()
	if runID == "" {
		return fmt.Errorf("no run identifier: configure agent.model or agent.run_id")
	}

	reopened, err := store.PrepareExtension(runID, extendTurns)
	if err != nil {
		return err
	}
	fmt.Printf("Reopened %d run(s); start `fsm-bench run --turns %d` to continue them\n",
		reopened, extendTurns)
	return nil
}
