package pipeline

import (
	"context"
	"database/sql"

	"circularity-pipeline/internal/geo"
	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
)

const strategySchema = `product TEXT, geo TEXT, strategy TEXT,
	rate_pct REAL, savings_qnt_t REAL, savings_val REAL`

// buildStrategyIndicators emits exactly two rows per indicator row: a
// refurbishment scenario using the configured current rate, and a recycling
// scenario using collection rate x material recovery rate. Savings stay
// NULL whenever a required rate is missing; a missing rate must never be
// presented as a zero-savings estimate.
func (r *Runner) buildStrategyIndicators(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblStrategy, year)
	if err := r.db.ReplaceTable(ctx, out, strategySchema); err != nil {
		return 0, err
	}

	collection, err := r.loadCollectionRates(ctx, year)
	if err != nil {
		return 0, err
	}
	recovery, err := r.loadRecoveryRates(ctx, year)
	if err != nil {
		return 0, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT product, geo, consumption_t, consumption_val
		 FROM `+store.TableName(tblIndicators, year)+` ORDER BY product, geo`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO `+out+` (product, geo, strategy, rate_pct, savings_qnt_t, savings_val)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	count := 0
	for rows.Next() {
		var product, g string
		var consT, consV float64
		if err := rows.Scan(&product, &g, &consT, &consV); err != nil {
			return count, err
		}

		// Refurbishment: the manually configured current rate.
		var refurb sql.NullFloat64
		if p, ok := r.cat.Get(product); ok {
			refurb = sql.NullFloat64{Float64: p.Rates.CurrentPct, Valid: true}
		}
		if err := insertStrategy(ctx, ins, product, g, model.StrategyRefurbishment, refurb, consT, consV); err != nil {
			return count, err
		}
		count++

		// Recycling: collection rate for the geography, falling back to
		// the EU-wide aggregate, times the material recovery rate.
		coll := collection[rateKey{product, g}]
		if !coll.Valid {
			coll = collection[rateKey{product, geo.EUAggregate}]
		}
		rec := recovery[product]
		var recycling sql.NullFloat64
		if coll.Valid && rec.Pct.Valid {
			recycling = sql.NullFloat64{Float64: coll.Float64 * rec.Pct.Float64 / 100, Valid: true}
		}
		if err := insertStrategy(ctx, ins, product, g, model.StrategyRecycling, recycling, consT, consV); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	if err := tx.Commit(); err != nil {
		return count, err
	}
	return count, nil
}

func insertStrategy(ctx context.Context, ins *sql.Stmt, product, g string, strategy model.Strategy, rate sql.NullFloat64, consT, consV float64) error {
	var savT, savV interface{}
	if rate.Valid {
		savT = consT * rate.Float64 / 100
		savV = consV * rate.Float64 / 100
	}
	_, err := ins.ExecContext(ctx, product, g, string(strategy), rate, savT, savV)
	return err
}

type rateKey struct{ product, geo string }

func (r *Runner) loadCollectionRates(ctx context.Context, year int) (map[rateKey]sql.NullFloat64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT product, geo, collection_pct FROM `+store.TableName(tblCollection, year))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[rateKey]sql.NullFloat64)
	for rows.Next() {
		var product, g string
		var pct sql.NullFloat64
		if err := rows.Scan(&product, &g, &pct); err != nil {
			return nil, err
		}
		out[rateKey{product, g}] = pct
	}
	return out, rows.Err()
}

func (r *Runner) loadRecoveryRates(ctx context.Context, year int) (map[string]model.Rate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT product, recovery_pct, source, source_year FROM `+store.TableName(tblMatRecovery, year))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.Rate)
	for rows.Next() {
		var rate model.Rate
		if err := rows.Scan(&rate.Product, &rate.Pct, &rate.Source, &rate.Year); err != nil {
			return nil, err
		}
		out[rate.Product] = rate
	}
	return out, rows.Err()
}
