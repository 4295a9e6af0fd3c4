package pipeline

import (
	"context"
	"database/sql"
	"strings"

	"circularity-pipeline/internal/geo"
	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
)

const prodTradeSchema = `product TEXT, geo TEXT, level TEXT,
	prod_qnt_t REAL, prod_val REAL,
	imp_qnt_t REAL, imp_val REAL,
	exp_qnt_t REAL, exp_val REAL,
	fallback_fields TEXT`

type mergedRow struct {
	prodQnt, prodVal float64

	// primary trade figures from the trade source
	impQnt, impVal, expQnt, expVal float64

	// secondary trade figures embedded in the production dataset
	secImpQnt, secImpVal, secExpQnt, secExpVal float64
	secondarySet                               bool
}

// mergeProdTrade full-outer-joins the harmonized production and trade sides
// on (product, geo) and applies the per-field fallback: where the trade
// source reports zero but the production dataset's embedded trade figures
// are positive, the secondary value is substituted. A non-zero primary
// value is never overwritten. Either side may be entirely absent; the merge
// then proceeds with the other side and zero-filled additive fields.
func (r *Runner) mergeProdTrade(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblProdTrade, year)
	if err := r.db.ReplaceTable(ctx, out, prodTradeSchema); err != nil {
		return 0, err
	}

	type key struct{ product, geo string }
	merged := make(map[key]*mergedRow)

	// Production side: one product may carry several industrial codes, so
	// production figures sum per (product, geo). The embedded secondary
	// trade figures are taken from the first code row only; the source
	// never validated uniqueness here, so duplicates are flagged rather
	// than silently summed.
	prodRows, err := r.db.Query(ctx,
		`SELECT product, geo, prod_qnt_t, prod_val, imp_qnt_t, imp_val, exp_qnt_t, exp_val
		 FROM `+store.TableName(tblProdHarmonized, year)+
			` ORDER BY product, geo, prodcom_code`)
	if err != nil {
		return 0, err
	}
	defer prodRows.Close()

	for prodRows.Next() {
		var product, g string
		var pq, pv, iq, iv, eq, ev sql.NullFloat64
		if err := prodRows.Scan(&product, &g, &pq, &pv, &iq, &iv, &eq, &ev); err != nil {
			return 0, err
		}
		k := key{product, g}
		m := merged[k]
		if m == nil {
			m = &mergedRow{}
			merged[k] = m
		}
		// Additive fields coalesce NULL to zero; rates never appear here.
		m.prodQnt += pq.Float64
		m.prodVal += pv.Float64

		hasSecondary := iq.Float64 > 0 || iv.Float64 > 0 || eq.Float64 > 0 || ev.Float64 > 0
		if !m.secondarySet {
			m.secImpQnt, m.secImpVal = iq.Float64, iv.Float64
			m.secExpQnt, m.secExpVal = eq.Float64, ev.Float64
			m.secondarySet = true
		} else if hasSecondary {
			r.warn(year, stepMerge,
				"multiple secondary trade rows for product %s geo %s, first match wins", product, g)
		}
	}
	if err := prodRows.Err(); err != nil {
		return 0, err
	}

	tradeRows, err := r.db.Query(ctx,
		`SELECT product, geo, imp_qnt_t, imp_val, exp_qnt_t, exp_val
		 FROM `+store.TableName(tblTradeHarmonized, year))
	if err != nil {
		return 0, err
	}
	defer tradeRows.Close()

	for tradeRows.Next() {
		var product, g string
		var iq, iv, eq, ev sql.NullFloat64
		if err := tradeRows.Scan(&product, &g, &iq, &iv, &eq, &ev); err != nil {
			return 0, err
		}
		k := key{product, g}
		m := merged[k]
		if m == nil {
			m = &mergedRow{}
			merged[k] = m
		}
		m.impQnt = iq.Float64
		m.impVal = iv.Float64
		m.expQnt = eq.Float64
		m.expVal = ev.Float64
	}
	if err := tradeRows.Err(); err != nil {
		return 0, err
	}

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO `+out+` (product, geo, level,
			prod_qnt_t, prod_val, imp_qnt_t, imp_val, exp_qnt_t, exp_val, fallback_fields)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	count := 0
	keys := sortedKeys(merged, func(a, b key) bool {
		if a.product != b.product {
			return a.product < b.product
		}
		return a.geo < b.geo
	})
	for _, k := range keys {
		m := merged[k]
		var fellBack []string
		apply := func(primary *float64, secondary float64, field string) {
			if *primary == 0 && secondary > 0 {
				*primary = secondary
				fellBack = append(fellBack, field)
			}
		}
		apply(&m.impQnt, m.secImpQnt, "imp_qnt_t")
		apply(&m.impVal, m.secImpVal, "imp_val")
		apply(&m.expQnt, m.secExpQnt, "exp_qnt_t")
		apply(&m.expVal, m.secExpVal, "exp_val")

		level := model.LevelCountry
		if geo.IsAggregate(k.geo) {
			level = model.LevelEUAggregate
		}

		if _, err := ins.ExecContext(ctx,
			k.product, k.geo, string(level),
			m.prodQnt, m.prodVal, m.impQnt, m.impVal, m.expQnt, m.expVal,
			strings.Join(fellBack, ","),
		); err != nil {
			return count, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, err
	}
	return count, nil
}
