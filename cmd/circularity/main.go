// Command circularity runs the circularity indicator pipeline, either as a
// one-shot batch over a year range or as an HTTP service accepting runs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"circularity-pipeline/internal/api"
	"circularity-pipeline/internal/catalog"
	"circularity-pipeline/internal/config"
	"circularity-pipeline/internal/pipeline"
	"circularity-pipeline/internal/store"
)

// @title Circularity Pipeline API
// @version 1.0
// @description Run management for the circularity indicator processing pipeline.
// @BasePath /api/v1

var (
	cfgPath  string
	fromYear int
	toYear   int
	keep     bool
	parallel int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "circularity",
		Short: "Circularity indicator processing pipeline",
		Long: `Transforms national production, trade, waste collection and
mass-balance statistics into per-product circularity indicator tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process a year range and exit",
		RunE:  runBatch,
	}
	runCmd.Flags().IntVar(&fromYear, "from", 0, "first year to process (overrides config)")
	runCmd.Flags().IntVar(&toYear, "to", 0, "last year to process (overrides config)")
	runCmd.Flags().BoolVar(&keep, "keep-intermediate", false, "keep per-source harmonized tables")
	runCmd.Flags().IntVar(&parallel, "parallel", 0, "process up to N years concurrently")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run-management HTTP API",
		RunE:  runServe,
	}

	rootCmd.AddCommand(runCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

func setup(cfg *config.Config) (*store.DB, *catalog.Catalog, pipeline.Options, error) {
	log := config.NewLogger(cfg.Logging.Level)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, nil, pipeline.Options{}, fmt.Errorf("load catalog: %w", err)
	}

	db, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, nil, pipeline.Options{}, fmt.Errorf("open database: %w", err)
	}

	opts := pipeline.Options{
		StepTimeout:      cfg.StepTimeout(),
		KeepIntermediate: cfg.Pipeline.KeepIntermediate,
		Parallel:         cfg.Pipeline.Parallel,
	}
	return db, cat, opts, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg.Logging.Level)

	from, to := cfg.Pipeline.FromYear, cfg.Pipeline.ToYear
	if fromYear != 0 {
		from = fromYear
	}
	if toYear != 0 {
		to = toYear
	}
	if from == 0 || to == 0 {
		return fmt.Errorf("no year range: set --from/--to or pipeline.from_year/to_year in config")
	}
	if from > to {
		return fmt.Errorf("--from %d after --to %d", from, to)
	}

	db, cat, opts, err := setup(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if keep {
		opts.KeepIntermediate = true
	}
	if parallel > 0 {
		opts.Parallel = parallel
	}

	runID := uuid.New().String()
	if err := db.SaveRun(runID, from, to); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	db.UpdateRunStatus(runID, "running")

	log.Info().Str("run", runID).Int("from", from).Int("to", to).Msg("starting batch run")

	runner := pipeline.NewRunner(db, cat, opts, runID, log)
	if err := runner.ProcessRange(context.Background(), from, to); err != nil {
		db.UpdateRunStatus(runID, "failed")
		return err
	}
	db.UpdateRunStatus(runID, "completed")
	log.Info().Str("run", runID).Msg("batch run completed")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := config.NewLogger(cfg.Logging.Level)

	db, cat, opts, err := setup(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	r := api.NewRouter(db, cat, opts, log)
	log.Info().Str("addr", cfg.Server.Addr).Msg("serving run-management API")
	return r.Start(cfg.Server.Addr)
}
