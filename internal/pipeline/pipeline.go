// Package pipeline implements the per-year transformation from raw
// production/trade/waste statistics to the harmonized circularity
// indicator tables. Steps within a year run strictly in dependency order;
// every derived table is dropped and rebuilt, so re-running a year is
// idempotent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"circularity-pipeline/internal/catalog"
	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
)

// Raw input table base names, materialized by the upstream fetchers.
const (
	rawProdcom     = "raw_prodcom"
	rawComext      = "raw_comext"
	rawMassBalance = "raw_massbalance"
	rawCollection  = "raw_collection"
)

// Derived table base names; the actual tables are year-suffixed.
const (
	tblProdHarmonized  = "prod_harmonized"
	tblTradeHarmonized = "trade_harmonized"
	tblProdTrade       = "prodtrade"
	tblIndicators      = "indicators"
	tblUnitValues      = "unit_values"
	tblAggCountry      = "agg_country"
	tblAggProduct      = "agg_product"
	tblMatComposition  = "material_composition"
	tblMatRecovery     = "material_recovery"
	tblCollection      = "collection_rates"
	tblStrategy        = "strategy_indicators"
)

// Step names as reported in progress rows and errors.
const (
	stepHarmonize   = "harmonize_production"
	stepExpandTrade = "expand_trade"
	stepMerge       = "merge_fallback"
	stepMaterial    = "material_flows"
	stepCollection  = "collection_rates"
	stepIndicators  = "indicators"
	stepUnitValues  = "unit_values"
	stepAggregates  = "aggregates"
	stepStrategy    = "strategy_indicators"
	stepCleanup     = "cleanup"
)

// Options are the caller-configurable processing knobs.
type Options struct {
	// StepTimeout bounds each step's query execution. Zero means no bound.
	StepTimeout time.Duration
	// KeepIntermediate retains the harmonized intermediate tables after a
	// year completes, useful for inspection.
	KeepIntermediate bool
	// Parallel is the number of years processed concurrently by
	// ProcessRange. Values below 2 mean sequential.
	Parallel int
}

// StepError identifies which year and step failed. A StepError is fatal for
// its year only; there is no automatic retry.
type StepError struct {
	Year int
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("year %d: step %s: %v", e.Year, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner executes the pipeline against one database with one catalog.
type Runner struct {
	db    *store.DB
	cat   *catalog.Catalog
	opts  Options
	runID string
	log   zerolog.Logger
}

// NewRunner builds a Runner. runID may be empty for ad-hoc invocations;
// when set, step progress and warnings are persisted under it.
func NewRunner(db *store.DB, cat *catalog.Catalog, opts Options, runID string, log zerolog.Logger) *Runner {
	return &Runner{db: db, cat: cat, opts: opts, runID: runID, log: log}
}

type step struct {
	name string
	fn   func(ctx context.Context, year int) (int, error)
}

func (r *Runner) steps() []step {
	return []step{
		{stepHarmonize, r.harmonizeProduction},
		{stepExpandTrade, r.expandTrade},
		{stepMerge, r.mergeProdTrade},
		{stepMaterial, r.buildMaterialFlows},
		{stepCollection, r.buildCollectionRates},
		{stepIndicators, r.buildIndicators},
		{stepUnitValues, r.buildUnitValues},
		{stepAggregates, r.buildAggregates},
		{stepStrategy, r.buildStrategyIndicators},
	}
}

// ProcessYear runs all steps for one year in dependency order. On failure
// the remaining steps are skipped and a StepError is returned; tables
// written by earlier steps stay consistent because every write is a full
// table replacement.
func (r *Runner) ProcessYear(ctx context.Context, year int) error {
	start := time.Now()
	r.log.Info().Int("year", year).Msg("processing year")

	for _, s := range r.steps() {
		if err := r.runStep(ctx, year, s); err != nil {
			return err
		}
	}

	if !r.opts.KeepIntermediate {
		if err := r.cleanup(ctx, year); err != nil {
			return &StepError{Year: year, Step: stepCleanup, Err: err}
		}
	}

	r.log.Info().Int("year", year).Dur("took", time.Since(start)).Msg("year complete")
	return nil
}

func (r *Runner) runStep(ctx context.Context, year int, s step) error {
	stepCtx := ctx
	cancel := func() {}
	if r.opts.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, r.opts.StepTimeout)
	}
	defer cancel()

	started := time.Now()
	r.saveProgress(year, s.name, "started", 0, started, nil)

	rows, err := s.fn(stepCtx, year)
	finished := time.Now()
	if err != nil {
		r.saveProgress(year, s.name, "failed", rows, started, &finished)
		if r.runID != "" {
			r.db.SaveRunError(r.runID, year, s.name, err.Error())
		}
		return &StepError{Year: year, Step: s.name, Err: err}
	}

	r.saveProgress(year, s.name, "completed", rows, started, &finished)
	r.log.Debug().Int("year", year).Str("step", s.name).Int("rows", rows).
		Dur("took", finished.Sub(started)).Msg("step complete")
	return nil
}

// ProcessRange runs every year in [from, to]. A failing year does not stop
// the others; all per-year errors are joined into the returned error.
func (r *Runner) ProcessRange(ctx context.Context, from, to int) error {
	if from > to {
		return fmt.Errorf("invalid year range %d-%d", from, to)
	}

	if r.opts.Parallel < 2 {
		var errs []error
		for year := from; year <= to; year++ {
			if err := r.ProcessYear(ctx, year); err != nil {
				r.log.Error().Err(err).Int("year", year).Msg("year failed")
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	// Cross-year parallelism is safe because every derived table name is
	// year-qualified; no two years share a table namespace.
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for year := from; year <= to; year++ {
		year := year
		g.Go(func() error {
			if err := r.ProcessYear(ctx, year); err != nil {
				r.log.Error().Err(err).Int("year", year).Msg("year failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (r *Runner) cleanup(ctx context.Context, year int) error {
	for _, base := range []string{tblProdHarmonized, tblTradeHarmonized} {
		if err := r.db.DropTable(ctx, store.TableName(base, year)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) saveProgress(year int, name, status string, rows int, started time.Time, finished *time.Time) {
	if r.runID == "" {
		return
	}
	if err := r.db.SaveStepProgress(r.runID, year, name, status, rows, started, finished); err != nil {
		r.log.Error().Err(err).Str("step", name).Msg("persist step progress")
	}
}

// warn logs and persists a non-fatal warning.
func (r *Runner) warn(year int, step, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.log.Warn().Int("year", year).Str("step", step).Msg(msg)
	if r.runID != "" {
		r.db.SaveWarning(r.runID, year, step, msg)
	}
}

// nullable turns a tagged value into a bindable SQL parameter: numbers bind
// as REAL, everything else as NULL. Missing must stay NULL, never zero.
func nullable(v model.Value) interface{} {
	if v.IsNumber() {
		return v.Num
	}
	return nil
}

// sortedKeys returns map keys in stable order so reruns produce
// byte-identical tables.
func sortedKeys[K comparable, V any](m map[K]V, less func(a, b K) bool) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}
