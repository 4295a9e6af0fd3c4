package pipeline

import (
	"context"

	"circularity-pipeline/internal/geo"
	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
)

// Trade source flow and indicator codes.
const (
	flowImport  = "import"
	flowExport  = "export"
	indTradeQnt = "quantity_kg"
	indTradeVal = "value"
)

const tradeHarmonizedSchema = `product TEXT, geo TEXT, level TEXT,
	imp_qnt_t REAL, imp_val REAL,
	exp_qnt_t REAL, exp_val REAL`

// expandTrade maps the raw trade rows from HS codes onto products. One HS
// row may fan out into several products when multiple industrial codes
// share the same HS association; rows whose HS code maps to nothing are
// excluded with a warning, never injected with an empty product key.
func (r *Runner) expandTrade(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblTradeHarmonized, year)
	if err := r.db.ReplaceTable(ctx, out, tradeHarmonizedSchema); err != nil {
		return 0, err
	}

	raw := store.TableName(rawComext, year)
	exists, err := r.db.TableExists(ctx, raw)
	if err != nil {
		return 0, err
	}
	if !exists {
		r.warn(year, stepExpandTrade, "raw trade table %s missing, emitting empty table", raw)
		return 0, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT hs_code, reporter_iso, flow, indicator, value FROM `+raw)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type tradeKey struct{ product, geo string }
	type tradeAcc struct {
		impQnt, impVal, expQnt, expVal float64
	}
	agg := make(map[tradeKey]*tradeAcc)
	warnedHS := make(map[string]bool)

	for rows.Next() {
		var hs, reporter, flow, indicator, value string
		if err := rows.Scan(&hs, &reporter, &flow, &indicator, &value); err != nil {
			return 0, err
		}

		matches := r.cat.MatchHS(hs, year)
		if len(matches) == 0 {
			if !warnedHS[hs] {
				warnedHS[hs] = true
				r.warn(year, stepExpandTrade, "trade HS code %q has no product mapping, rows excluded", hs)
			}
			continue
		}

		v := model.Coerce(value)
		if !v.IsNumber() {
			continue
		}

		iso, _ := geo.Harmonize(reporter, geo.SystemComext)

		// A product may match through several of its industrial codes; the
		// trade figure still counts once per product.
		seen := make(map[string]bool, len(matches))
		for _, m := range matches {
			if seen[m.ProductKey] {
				continue
			}
			seen[m.ProductKey] = true

			k := tradeKey{m.ProductKey, iso}
			acc := agg[k]
			if acc == nil {
				acc = &tradeAcc{}
				agg[k] = acc
			}
			switch {
			case flow == flowImport && indicator == indTradeQnt:
				acc.impQnt += v.Num / 1000
			case flow == flowImport && indicator == indTradeVal:
				acc.impVal += v.Num
			case flow == flowExport && indicator == indTradeQnt:
				acc.expQnt += v.Num / 1000
			case flow == flowExport && indicator == indTradeVal:
				acc.expVal += v.Num
			}
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

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO `+out+` (product, geo, level, imp_qnt_t, imp_val, exp_qnt_t, exp_val)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	count := 0
	keys := sortedKeys(agg, func(a, b tradeKey) bool {
		if a.product != b.product {
			return a.product < b.product
		}
		return a.geo < b.geo
	})
	for _, k := range keys {
		acc := agg[k]
		level := model.LevelCountry
		if geo.IsAggregate(k.geo) {
			level = model.LevelEUAggregate
		}
		if _, err := ins.ExecContext(ctx,
			k.product, k.geo, string(level),
			acc.impQnt, acc.impVal, acc.expQnt, acc.expVal,
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
