package pipeline

import (
	"context"
	"database/sql"

	"circularity-pipeline/internal/store"
)

// Mass-balance scenario and flow identifiers. Only the observed scenario
// feeds the indicators; simulated and projected scenarios are modelling
// output and must never leak into the statistics.
const scenarioObserved = "observed"

// recoveryFlows are the flow identifiers whose mass counts as recovered;
// lossFlow is the single end-of-life loss flow.
var recoveryFlows = map[string]bool{
	"recycling":   true,
	"reuse":       true,
	"backfilling": true,
}

const lossFlow = "landfill"

const matCompositionSchema = `category TEXT, material TEXT,
	mass_t REAL, share_pct REAL, recovery_pct REAL`

const matRecoverySchema = `product TEXT, recovery_pct REAL, source TEXT, source_year INTEGER`

// buildMaterialFlows derives the category-level material composition and
// recovery rates from the mass-balance flow table, then expands them to
// product level through the product-to-waste-category mapping.
//
// When the requested year has no observed rows, the most recent prior year
// with observed data is substituted and re-tagged, with a warning. When no
// usable data exists at all, both tables are still emitted empty: later
// steps depend on table existence, not row count.
func (r *Runner) buildMaterialFlows(ctx context.Context, year int) (int, error) {
	compOut := store.TableName(tblMatComposition, year)
	recOut := store.TableName(tblMatRecovery, year)
	if err := r.db.ReplaceTable(ctx, compOut, matCompositionSchema); err != nil {
		return 0, err
	}
	if err := r.db.ReplaceTable(ctx, recOut, matRecoverySchema); err != nil {
		return 0, err
	}

	exists, err := r.db.TableExists(ctx, rawMassBalance)
	if err != nil {
		return 0, err
	}
	if !exists {
		r.warn(year, stepMaterial, "mass-balance table %s missing, emitting empty tables", rawMassBalance)
		return 0, nil
	}

	srcYear, ok, err := r.massBalanceSourceYear(ctx, year)
	if err != nil {
		return 0, err
	}
	if !ok {
		r.warn(year, stepMaterial, "no observed mass-balance data for %d or any prior year, emitting empty tables", year)
		return 0, nil
	}
	if srcYear != year {
		r.warn(year, stepMaterial, "no observed mass-balance data for %d, substituting %d", year, srcYear)
	}

	// Mass is reported in Mg (megagrams), which is tonnes. Locations are
	// summed out: composition and recovery are category-level figures.
	rows, err := r.db.Query(ctx,
		`SELECT category, material, flow_id, SUM(mass_mg)
		 FROM `+rawMassBalance+`
		 WHERE year = ? AND scenario = ?
		 GROUP BY category, material, flow_id`,
		srcYear, scenarioObserved)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type catMat struct{ category, material string }
	type flows struct {
		mass      float64
		recovered float64
		lost      float64
	}
	byCatMat := make(map[catMat]*flows)
	catTotals := make(map[string]float64)

	for rows.Next() {
		var category, material, flowID string
		var mass float64
		if err := rows.Scan(&category, &material, &flowID, &mass); err != nil {
			return 0, err
		}
		k := catMat{category, material}
		f := byCatMat[k]
		if f == nil {
			f = &flows{}
			byCatMat[k] = f
		}
		f.mass += mass
		catTotals[category] += mass
		if recoveryFlows[flowID] {
			f.recovered += mass
		} else if flowID == lossFlow {
			f.lost += mass
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insComp, err := tx.PrepareContext(ctx,
		`INSERT INTO `+compOut+` (category, material, mass_t, share_pct, recovery_pct)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer insComp.Close()

	count := 0
	keys := sortedKeys(byCatMat, func(a, b catMat) bool {
		if a.category != b.category {
			return a.category < b.category
		}
		return a.material < b.material
	})
	rates := make(map[catMat]sql.NullFloat64)
	for _, k := range keys {
		f := byCatMat[k]

		var share float64
		if total := catTotals[k.category]; total > 0 {
			share = f.mass / total * 100
		}

		// Denominator zero means no recovery observation at all: the rate
		// is missing, not zero and not NaN.
		var rate sql.NullFloat64
		if denom := f.recovered + f.lost; denom > 0 {
			rate = sql.NullFloat64{Float64: f.recovered / denom * 100, Valid: true}
		}
		rates[k] = rate

		if _, err := insComp.ExecContext(ctx, k.category, k.material, f.mass, share, rate); err != nil {
			return count, err
		}
		count++
	}

	// Product expansion: mass-weighted mean across the (category, material)
	// rows of the product's waste categories, skipping missing rates.
	insRec, err := tx.PrepareContext(ctx,
		`INSERT INTO `+recOut+` (product, recovery_pct, source, source_year)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return count, err
	}
	defer insRec.Close()

	for _, p := range r.cat.Products {
		if len(p.WasteCategories) == 0 {
			continue
		}
		inCategory := make(map[string]bool, len(p.WasteCategories))
		for _, c := range p.WasteCategories {
			inCategory[c] = true
		}

		var weighted, massWithRate float64
		for _, k := range keys {
			if !inCategory[k.category] {
				continue
			}
			rate := rates[k]
			if !rate.Valid {
				continue
			}
			mass := byCatMat[k].mass
			weighted += mass * rate.Float64
			massWithRate += mass
		}

		var productRate sql.NullFloat64
		if massWithRate > 0 {
			productRate = sql.NullFloat64{Float64: weighted / massWithRate, Valid: true}
		}
		if _, err := insRec.ExecContext(ctx, p.Key, productRate, "massbalance", srcYear); err != nil {
			return count, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, err
	}
	return count, nil
}

// massBalanceSourceYear picks the year whose observed rows feed the
// requested year: the year itself, or the most recent prior year with data.
func (r *Runner) massBalanceSourceYear(ctx context.Context, year int) (int, bool, error) {
	var n int
	err := r.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+rawMassBalance+` WHERE year = ? AND scenario = ?`,
		year, scenarioObserved).Scan(&n)
	if err != nil {
		return 0, false, err
	}
	if n > 0 {
		return year, true, nil
	}

	var prior sql.NullInt64
	err = r.db.Conn().QueryRowContext(ctx,
		`SELECT MAX(year) FROM `+rawMassBalance+` WHERE year < ? AND scenario = ?`,
		year, scenarioObserved).Scan(&prior)
	if err != nil {
		return 0, false, err
	}
	if !prior.Valid {
		return 0, false, nil
	}
	return int(prior.Int64), true, nil
}
