package pipeline

import (
	"context"
	"database/sql"

	"circularity-pipeline/internal/model"
	"circularity-pipeline/internal/store"
)

// Recognized collection operation codes and unit codes. Everything else in
// the waste-collection statistics (treatment operations, tonnage units) is
// out of scope for the collection rate.
var collectionOps = map[string]bool{
	"COL":    true, // separate collection
	"COL_HH": true, // separate collection from households
}

var collectionUnits = map[string]bool{
	"PC":      true, // percent, single reference year
	"PC_AVG3": true, // percent, 3-year moving average
}

const collectionSchema = `product TEXT, geo TEXT, collection_pct REAL, source TEXT`

// buildCollectionRates averages the recognized collection observations per
// (geo, waste category) and expands them to product level, averaging across
// all categories associated with a product within each geography.
func (r *Runner) buildCollectionRates(ctx context.Context, year int) (int, error) {
	out := store.TableName(tblCollection, year)
	if err := r.db.ReplaceTable(ctx, out, collectionSchema); err != nil {
		return 0, err
	}

	exists, err := r.db.TableExists(ctx, rawCollection)
	if err != nil {
		return 0, err
	}
	if !exists {
		r.warn(year, stepCollection, "waste-collection table %s missing, emitting empty table", rawCollection)
		return 0, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT geo, category, operation, unit, value FROM `+rawCollection)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type geoCat struct{ geo, category string }
	type acc struct {
		sum float64
		n   int
	}
	byGeoCat := make(map[geoCat]*acc)

	for rows.Next() {
		var g, category, operation, unit, value string
		if err := rows.Scan(&g, &category, &operation, &unit, &value); err != nil {
			return 0, err
		}
		if !collectionOps[operation] || !collectionUnits[unit] {
			continue
		}
		v := model.Coerce(value)
		if !v.IsNumber() {
			continue
		}
		k := geoCat{g, category}
		a := byGeoCat[k]
		if a == nil {
			a = &acc{}
			byGeoCat[k] = a
		}
		a.sum += v.Num
		a.n++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	// Expand to product level: average across a product's categories
	// within each geography.
	geoCatKeys := sortedKeys(byGeoCat, func(a, b geoCat) bool {
		if a.geo != b.geo {
			return a.geo < b.geo
		}
		return a.category < b.category
	})

	type prodGeo struct{ product, geo string }
	byProdGeo := make(map[prodGeo]*acc)
	for _, p := range r.cat.Products {
		for _, category := range p.WasteCategories {
			for _, k := range geoCatKeys {
				a := byGeoCat[k]
				if k.category != category {
					continue
				}
				pk := prodGeo{p.Key, k.geo}
				pa := byProdGeo[pk]
				if pa == nil {
					pa = &acc{}
					byProdGeo[pk] = pa
				}
				pa.sum += a.sum / float64(a.n)
				pa.n++
			}
		}
	}

	tx, err := r.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO `+out+` (product, geo, collection_pct, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer ins.Close()

	count := 0
	keys := sortedKeys(byProdGeo, func(a, b prodGeo) bool {
		if a.product != b.product {
			return a.product < b.product
		}
		return a.geo < b.geo
	})
	for _, k := range keys {
		a := byProdGeo[k]
		pct := sql.NullFloat64{Float64: a.sum / float64(a.n), Valid: true}
		if _, err := ins.ExecContext(ctx, k.product, k.geo, pct, "waste_collection"); err != nil {
			return count, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, err
	}
	return count, nil
}
