package pipeline

import (
	"context"
	"fmt"

	"circularity-pipeline/internal/geo"
	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
	"circularity-pipeline/internal/units"
)

// Production source indicator codes. The IMP*/EXP* indicators are the trade
// figures embedded in the production dataset; they act as the secondary
// trade source during the merge fallback.
const (
	indProdQnt = "PRODQNT"
	indProdVal = "PRODVAL"
	indQntUnit = "QNTUNIT"
	indImpQnt  = "IMPQNT"
	indImpVal  = "IMPVAL"
	indExpQnt  = "EXPQNT"
	indExpVal  = "EXPVAL"
)

const prodHarmonizedSchema = `product TEXT, prodcom_code TEXT, geo TEXT, level TEXT,
	prod_qnt_t REAL, prod_val REAL,
	imp_qnt_t REAL, imp_val REAL,
	exp_qnt_t REAL, exp_val REAL`

// harmonizeProduction reads the raw production table for a year, keeps only
// the industrial codes that are active for the year's nomenclature epoch,
// maps national geography codes to ISO and converts reported quantities to
// tonnes. The result is keyed by (product, prodcom_code, geo).
func (r *Runner) harmonizeProduction(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblProdHarmonized, year)
	if err := r.db.ReplaceTable(ctx, out, prodHarmonizedSchema); err != nil {
		return 0, err
	}

	raw := store.TableName(rawProdcom, year)
	exists, err := r.db.TableExists(ctx, raw)
	if err != nil {
		return 0, err
	}
	if !exists {
		r.warn(year, stepHarmonize, "raw production table %s missing, emitting empty table", raw)
		return 0, nil
	}

	idx := r.cat.ProdcomIndex(year)

	rows, err := r.db.Query(ctx,
		`SELECT prodcom_code, country_code, indicator, value FROM `+raw+
			` ORDER BY prodcom_code, country_code`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type srcKey struct{ code, country string }
	type srcGroup struct {
		unit string
		vals map[string]model.Value
	}
	groups := make(map[srcKey]*srcGroup)

	for rows.Next() {
		var code, country, indicator, value string
		if err := rows.Scan(&code, &country, &indicator, &value); err != nil {
			return 0, err
		}
		// Codes outside the catalog belong to other products; no epoch
		// covering this year means the product yields no rows.
		if _, active := idx[code]; !active {
			continue
		}
		k := srcKey{code, country}
		g := groups[k]
		if g == nil {
			g = &srcGroup{vals: make(map[string]model.Value)}
			groups[k] = g
		}
		if indicator == indQntUnit {
			g.unit = value
		} else {
			g.vals[indicator] = model.Coerce(value)
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
		`INSERT INTO `+out+` (product, prodcom_code, geo, level,
			prod_qnt_t, prod_val, imp_qnt_t, imp_val, exp_qnt_t, exp_val)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	count := 0
	keys := sortedKeys(groups, func(a, b srcKey) bool {
		if a.code != b.code {
			return a.code < b.code
		}
		return a.country < b.country
	})
	for _, k := range keys {
		g := groups[k]
		product := idx[k.code]

		iso, mapped := geo.Harmonize(k.country, geo.SystemProdcom)
		if !mapped {
			r.warn(year, stepHarmonize, "unmapped production geo code %q for %s kept as-is", k.country, k.code)
		}
		level := model.LevelCountry
		if geo.IsAggregate(iso) {
			level = model.LevelEUAggregate
		}

		prodQnt := r.massValue(year, product, g.vals[indProdQnt], g.unit)
		impQnt := r.massValue(year, product, g.vals[indImpQnt], g.unit)
		expQnt := r.massValue(year, product, g.vals[indExpQnt], g.unit)

		if _, err := ins.ExecContext(ctx,
			product, k.code, iso, string(level),
			nullable(prodQnt), nullable(g.vals[indProdVal]),
			nullable(impQnt), nullable(g.vals[indImpVal]),
			nullable(expQnt), nullable(g.vals[indExpVal]),
		); err != nil {
			return count, fmt.Errorf("insert %s/%s: %w", product, iso, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, err
	}
	return count, nil
}

// massValue converts a reported quantity to tonnes. Count-based units fall
// back to the product's configured average unit weight; quantities that
// still cannot be expressed as mass are stored as missing, never as zero.
func (r *Runner) massValue(year int, productKey string, v model.Value, unit string) model.Value {
	converted, conv := units.ToTonnes(v, unit)
	switch conv {
	case units.Converted, units.PassThrough:
		return converted
	}

	if units.CountBased(unit) {
		if p, ok := r.cat.Get(productKey); ok && p.AvgWeightKG > 0 {
			return model.Number(v.Num * p.AvgWeightKG / 1000)
		}
	}
	r.warn(year, stepHarmonize, "unit %q not convertible to tonnes for product %s, quantity set missing", unit, productKey)
	return model.Missing()
}
