package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"promptsynth/cmd/promptsynth/ui"
	"promptsynth/internal/config"
	"promptsynth/internal/genome"
	"promptsynth/internal/history"
	"promptsynth/internal/logging"
	"promptsynth/internal/pool"
	"promptsynth/internal/session"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// run flags
	flagGenerations int
	flagPopulation  int
	flagSeed        int64
	flagTask        string
	flagEvaluator   string
	flagPhase       string

	// history flags
	flagLimit int

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "promptsynth",
	Short: "promptsynth - evolutionary prompt engineering lab",
	Long: `promptsynth evolves structured prompt genomes with a genetic algorithm
that alternates between two selection strategies:

  darwin     competitive survival of the fittest
  kropotkin  cooperative mutual aid through a shared fragment commons

Genomes are indices into a fragment pool plus a temperature, never free
text, so every individual stays valid by construction.

Run without arguments to start the interactive dashboard.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The dashboard owns the terminal, keep zap quiet there
		if cmd.Use == "promptsynth" && cmd.CalledAs() == "promptsynth" {
			return nil
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard()
	},
}

// runCmd evolves a population headlessly and records the run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evolve a population for N generations and record the run",
	Long: `Evolves a population headlessly. The selection mode each generation
follows the configured phase policy:

  auto       low fragment diversity triggers kropotkin, otherwise darwin
  alternate  even generations darwin, odd generations kropotkin
  darwin     always competitive
  kropotkin  always cooperative`,
	RunE: runEvolution,
}

// demoCmd runs the three-generation walkthrough
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a short scripted walkthrough of both strategies",
	RunE:  runDemo,
}

// bestCmd prints the best genome of the latest (or a given) run
var bestCmd = &cobra.Command{
	Use:   "best [run-id]",
	Short: "Show the best genome of a recorded run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showBest,
}

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or the generation metrics of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showHistory,
}

// snapshotCmd inspects a saved session snapshot
var snapshotCmd = &cobra.Command{
	Use:   "snapshot [path]",
	Short: "Inspect a saved session snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.Storage.SnapshotPath
		if len(args) == 1 {
			path = args[0]
		}
		snap, err := history.LoadSnapshot(path)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot: %s\n", path)
		fmt.Printf("Task: %s\n", snap.Task)
		fmt.Printf("Generation: %d\n", snap.Generation)
		fmt.Printf("Commons: %v\n", snap.Commons)
		fmt.Println("Population:")
		for i, g := range snap.Population {
			fmt.Printf("  #%d %s\n", i, g)
		}
		return nil
	},
}

// poolCmd prints the active fragment pool
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show the active fragment pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadPool()
		if err != nil {
			return err
		}
		for i, f := range p.Fragments {
			fmt.Printf("  [%d] %s\n", i, f)
		}
		return nil
	},
}

// initCmd writes a default config and pool to the workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and fragment pool to the workspace",
	RunE:  runInit,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default <workspace>/.promptsynth/config.yaml)")

	runCmd.Flags().IntVarP(&flagGenerations, "generations", "g", 0, "Number of generations (0 = config value)")
	runCmd.Flags().IntVarP(&flagPopulation, "population", "p", 0, "Population size (0 = config value)")
	runCmd.Flags().Int64Var(&flagSeed, "seed", 0, "Random seed (0 = time-based)")
	runCmd.Flags().StringVarP(&flagTask, "task", "t", "", "Task the prompts are optimized for")
	runCmd.Flags().StringVarP(&flagEvaluator, "evaluator", "e", "", "Evaluator mode: mock, gemini, semantic")
	runCmd.Flags().StringVar(&flagPhase, "phase", "", "Phase policy: auto, alternate, darwin, kropotkin")

	historyCmd.Flags().IntVarP(&flagLimit, "limit", "n", 10, "Maximum number of runs to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(bestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path and loads it with flag overrides applied.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagGenerations > 0 {
		cfg.Evolution.Generations = flagGenerations
	}
	if flagPopulation > 0 {
		cfg.Evolution.PopulationSize = flagPopulation
	}
	if flagSeed != 0 {
		cfg.Evolution.Seed = flagSeed
	}
	if flagTask != "" {
		cfg.Evolution.Task = flagTask
	}
	if flagEvaluator != "" {
		cfg.Evaluator.Mode = flagEvaluator
	}
	if flagPhase != "" {
		cfg.Evolution.Phase = flagPhase
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPool loads the configured fragment pool, falling back to defaults.
func loadPool() (*pool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.PoolFile == "" {
		return pool.Default(), nil
	}
	return pool.LoadFile(cfg.PoolFile)
}

// runEvolution is the headless evolution loop behind the run subcommand.
func runEvolution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logging.Initialize(workspace)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	sess, err := session.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	logger.Info("Starting evolution",
		zap.String("run", sess.RunID),
		zap.String("task", cfg.Evolution.Task),
		zap.String("evaluator", cfg.Evaluator.Mode),
		zap.Int("population", cfg.Evolution.PopulationSize),
		zap.Int("generations", cfg.Evolution.Generations))

	for gen := 0; gen < cfg.Evolution.Generations; gen++ {
		rec, err := sess.Step(ctx)
		if err != nil {
			return err
		}
		logger.Info("Generation complete",
			zap.Int("generation", rec.Generation),
			zap.String("mode", string(rec.Mode)),
			zap.Float64("avg", rec.AvgFitness),
			zap.Float64("best", rec.BestFitness),
			zap.Int("diversity", rec.Diversity),
			zap.Int("commons", rec.CommonsSize))
	}

	best, score, err := sess.Best()
	if err != nil {
		return err
	}
	fmt.Printf("\nRun %s complete.\n", sess.RunID)
	fmt.Printf("Best genome (%.2f/10): %s\n", score, best)
	fmt.Printf("Prompt: %s\n", best.RenderPrompt(sess.Pool, cfg.Evolution.Task))
	return nil
}

// runDemo walks through one darwin and one kropotkin generation with
// commentary, the quickest way to see the two strategies differ.
func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Evaluator.Mode = "mock"
	cfg.Evolution.Phase = "alternate"
	if cfg.Evolution.Seed == 0 {
		cfg.Evolution.Seed = time.Now().UnixNano()
	}
	logging.Initialize(workspace)

	ctx := context.Background()
	sess, err := session.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Println("=== promptsynth demo ===")
	fmt.Printf("Task: %s\n", cfg.Evolution.Task)
	fmt.Printf("Population: %d genomes\n\n", len(sess.Population))

	for gen := 0; gen < 3; gen++ {
		rec, err := sess.Step(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Generation %d [%s]\n", rec.Generation, rec.Mode)
		fmt.Printf("  avg fitness %.2f  best %.2f  diversity %d\n",
			rec.AvgFitness, rec.BestFitness, rec.Diversity)
		if rec.Mode == genome.ModeKropotkin {
			stats := sess.Engine.Stats()
			fmt.Printf("  commons: %d fragments shared (%d unique)\n",
				stats.Size, stats.UniqueFragments)
		}
		fmt.Println()
	}

	best, score, err := sess.Best()
	if err != nil {
		return err
	}
	fmt.Printf("Best genome (%.2f/10): %s\n", score, best)
	fmt.Printf("Prompt: %s\n", best.RenderPrompt(sess.Pool, cfg.Evolution.Task))
	return nil
}

// showBest prints the best genome of a run.
func showBest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := resolveRunID(store, args)
	if err != nil {
		return err
	}
	best, score, err := store.BestIndividual(runID)
	if err != nil {
		return err
	}
	p, err := loadPool()
	if err != nil {
		return err
	}
	fmt.Printf("Run: %s\n", runID)
	fmt.Printf("Best genome (%.2f/10): %s\n", score, best)
	fmt.Printf("Prompt: %s\n", best.RenderPrompt(p, cfg.Evolution.Task))
	return nil
}

// showHistory lists runs, or the generation metrics of one run.
func showHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		records, err := store.FitnessHistory(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No generations recorded for this run.")
			return nil
		}
		fmt.Printf("%-4s %-10s %8s %8s %10s %8s\n", "gen", "mode", "avg", "best", "diversity", "commons")
		for _, rec := range records {
			fmt.Printf("%-4d %-10s %8.2f %8.2f %10d %8d\n",
				rec.Generation, rec.Mode, rec.AvgFitness, rec.BestFitness, rec.Diversity, rec.CommonsSize)
		}
		return nil
	}

	runs, err := store.ListRuns(flagLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet. Try: promptsynth run")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  gens=%d  best=%.2f  %s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Generations, r.BestFitness, r.Task)
	}
	return nil
}

// resolveRunID picks the run from args or falls back to the latest run.
func resolveRunID(store *history.Store, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	runs, err := store.ListRuns(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", fmt.Errorf("no runs recorded yet")
	}
	return runs[0].ID, nil
}

// runInit writes the default config and pool files.
func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	cfg := config.DefaultConfig()
	poolPath := config.DefaultPoolPath(workspace)
	cfg.PoolFile = poolPath
	if err := cfg.Save(path); err != nil {
		return err
	}
	if err := pool.Default().Save(poolPath); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	fmt.Printf("Wrote %s\n", poolPath)
	return nil
}

// runDashboard starts the interactive TUI.
func runDashboard() error {
	path := configPath
	if path == "" {
		path = config.DefaultPath(workspace)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logging.Initialize(workspace)
	defer logging.CloseAll()

	ctx := context.Background()
	sess, err := session.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	return ui.Run(sess)
}
