package pipeline

import (
	"context"
	"strings"

	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
)

// Data-quality flag names. Anomalies are recorded, never failures.
const (
	flagNegativeConsumption = "negative_consumption"
	flagHighTradeRatio      = "high_trade_ratio"
)

const indicatorsSchema = `product TEXT, geo TEXT, level TEXT,
	prod_qnt_t REAL, prod_val REAL,
	imp_qnt_t REAL, imp_val REAL,
	exp_qnt_t REAL, exp_val REAL,
	consumption_t REAL, consumption_val REAL,
	flags TEXT`

// buildIndicators derives the main circularity-indicator table from the
// merged production/trade table: apparent consumption plus data-quality
// flags per (product, geo).
func (r *Runner) buildIndicators(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblIndicators, year)
	if err := r.db.ReplaceTable(ctx, out, indicatorsSchema); err != nil {
		return 0, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT product, geo, level, prod_qnt_t, prod_val, imp_qnt_t, imp_val, exp_qnt_t, exp_val
		 FROM `+store.TableName(tblProdTrade, year)+` ORDER BY product, geo`)
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
		`INSERT INTO `+out+` (product, geo, level,
			prod_qnt_t, prod_val, imp_qnt_t, imp_val, exp_qnt_t, exp_val,
			consumption_t, consumption_val, flags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	count := 0
	for rows.Next() {
		row := model.Row{Year: year}
		var level string
		if err := rows.Scan(&row.Product, &row.Geo, &level,
			&row.ProdQntT, &row.ProdVal, &row.ImpQntT, &row.ImpVal, &row.ExpQntT, &row.ExpVal); err != nil {
			return count, err
		}
		row.Level = model.GeoLevel(level)

		consT := row.ConsumptionQntT()
		consV := row.ConsumptionVal()

		var flags []string
		if consT < 0 || consV < 0 {
			flags = append(flags, flagNegativeConsumption)
		}
		// Trade volumes dwarfing domestic production usually indicate a
		// misclassified code rather than a real flow.
		if row.ProdQntT > 0 && row.ImpQntT+row.ExpQntT > 10*row.ProdQntT {
			flags = append(flags, flagHighTradeRatio)
		}

		if _, err := ins.ExecContext(ctx,
			row.Product, row.Geo, level,
			row.ProdQntT, row.ProdVal, row.ImpQntT, row.ImpVal, row.ExpQntT, row.ExpVal,
			consT, consV, strings.Join(flags, ","),
		); err != nil {
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

const unitValuesSchema = `product TEXT, geo TEXT,
	prod_unit_val REAL, imp_unit_val REAL, exp_unit_val REAL`

// buildUnitValues derives value-per-tonne figures. NULLIF keeps the ratio
// NULL when the volume is zero instead of dividing by zero.
func (r *Runner) buildUnitValues(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblUnitValues, year)
	if err := r.db.ReplaceTable(ctx, out, unitValuesSchema); err != nil {
		return 0, err
	}

	src := store.TableName(tblIndicators, year)
	if err := r.db.Exec(ctx,
		`INSERT INTO `+out+` (product, geo, prod_unit_val, imp_unit_val, exp_unit_val)
		 SELECT product, geo,
			prod_val / NULLIF(prod_qnt_t, 0),
			imp_val / NULLIF(imp_qnt_t, 0),
			exp_val / NULLIF(exp_qnt_t, 0)
		 FROM `+src+` ORDER BY product, geo`); err != nil {
		return 0, err
	}
	return r.db.CountRows(ctx, out)
}

const aggCountrySchema = `geo TEXT, level TEXT,
	prod_qnt_t REAL, prod_val REAL, imp_qnt_t REAL, imp_val REAL,
	exp_qnt_t REAL, exp_val REAL, consumption_t REAL, consumption_val REAL`

const aggProductSchema = `product TEXT,
	prod_qnt_t REAL, prod_val REAL, imp_qnt_t REAL, imp_val REAL,
	exp_qnt_t REAL, exp_val REAL, consumption_t REAL, consumption_val REAL`

// buildAggregates produces the country-level and product-level rollups as
// plain set-based aggregations. The product rollup sums country rows only;
// EU-aggregate rows are already totals and would double-count.
func (r *Runner) buildAggregates(ctx context.Context, year int) (int, error) {
	src := store.TableName(tblIndicators, year)

	country := store.TableName(tblAggCountry, year)
	if err := r.db.ReplaceTable(ctx, country, aggCountrySchema); err != nil {
		return 0, err
	}
	if err := r.db.Exec(ctx,
		`INSERT INTO `+country+`
		 SELECT geo, level, SUM(prod_qnt_t), SUM(prod_val), SUM(imp_qnt_t), SUM(imp_val),
			SUM(exp_qnt_t), SUM(exp_val), SUM(consumption_t), SUM(consumption_val)
		 FROM `+src+` GROUP BY geo, level ORDER BY geo`); err != nil {
		return 0, err
	}

	product := store.TableName(tblAggProduct, year)
	if err := r.db.ReplaceTable(ctx, product, aggProductSchema); err != nil {
		return 0, err
	}
	if err := r.db.Exec(ctx,
		`INSERT INTO `+product+`
		 SELECT product, SUM(prod_qnt_t), SUM(prod_val), SUM(imp_qnt_t), SUM(imp_val),
			SUM(exp_qnt_t), SUM(exp_val), SUM(consumption_t), SUM(consumption_val)
		 FROM `+src+` WHERE level = 'country' GROUP BY product ORDER BY product`); err != nil {
		return 0, err
	}

	nc, err := r.db.CountRows(ctx, country)
	if err != nil {
		return 0, err
	}
	np, err := r.db.CountRows(ctx, product)
	if err != nil {
		return nc, err
	}
	return nc + np, nil
}
