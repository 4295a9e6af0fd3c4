package pipeline

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circularity-pipeline/internal/store"
)

func runThroughIndicators(t *testing.T, r *Runner, year int) {
	t.Helper()
	runThroughMerge(t, r, year)
	_, err := r.buildIndicators(context.Background(), year)
	require.NoError(t, err)
}

func queryIndicatorFlags(t *testing.T, db *store.DB, year int) map[string]string {
	t.Helper()
	rows, err := db.Query(context.Background(),
		`SELECT product || '/' || geo, flags FROM `+store.TableName(tblIndicators, year))
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, flags string
		require.NoError(t, rows.Scan(&key, &flags))
		out[key] = flags
	}
	require.NoError(t, rows.Err())
	return out
}

func TestIndicatorsFlagNegativeConsumptionAndHighTradeRatio(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)

	// Exports exceed production plus imports, so apparent consumption goes
	// negative; trade volume is more than ten times production. Both are
	// anomalies to record, neither is a failure.
	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "T"},
		{"27.51.11.10", "004", "PRODQNT", "10"},
		{"27.51.11.10", "004", "PRODVAL", "20"},
	})
	seedComext(t, db, 2018, [][5]string{
		{"8418.10", "DE", "import", "quantity_kg", "500000"},
		{"8418.10", "DE", "import", "value", "800"},
		{"8418.10", "DE", "export", "quantity_kg", "600000"},
		{"8418.10", "DE", "export", "value", "900"},
	})
	runThroughIndicators(t, r, 2018)

	flags := queryIndicatorFlags(t, db, 2018)
	require.Contains(t, flags, "fridge/DE")
	assert.Contains(t, flags["fridge/DE"], flagNegativeConsumption)
	assert.Contains(t, flags["fridge/DE"], flagHighTradeRatio)
}

func TestIndicatorsUnflaggedWhenConsumptionIsPlausible(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)

	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "T"},
		{"27.51.11.10", "004", "PRODQNT", "100"},
		{"27.51.11.10", "004", "PRODVAL", "250"},
	})
	seedComext(t, db, 2018, [][5]string{
		{"8418.10", "DE", "import", "quantity_kg", "20000"},
		{"8418.10", "DE", "import", "value", "40"},
	})
	runThroughIndicators(t, r, 2018)

	flags := queryIndicatorFlags(t, db, 2018)
	require.Contains(t, flags, "fridge/DE")
	assert.Empty(t, flags["fridge/DE"])
}

func TestUnitValuesNullOnZeroVolume(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// Production has both volume and value; imports carry value but no
	// volume, so the import unit value has no defined ratio.
	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "T"},
		{"27.51.11.10", "004", "PRODQNT", "500"},
		{"27.51.11.10", "004", "PRODVAL", "900"},
	})
	seedComext(t, db, 2018, [][5]string{
		{"8418.10", "DE", "import", "value", "40"},
	})
	runThroughIndicators(t, r, 2018)
	_, err := r.buildUnitValues(ctx, 2018)
	require.NoError(t, err)

	var prodUV, impUV sql.NullFloat64
	require.NoError(t, db.Conn().QueryRowContext(ctx,
		`SELECT prod_unit_val, imp_unit_val FROM `+store.TableName(tblUnitValues, 2018)+
			` WHERE product = 'fridge' AND geo = 'DE'`).Scan(&prodUV, &impUV))

	require.True(t, prodUV.Valid)
	assert.InDelta(t, 1.8, prodUV.Float64, 1e-9)
	assert.False(t, impUV.Valid, "zero import volume must give a NULL unit value, not a division result")
}

func TestAggregatesProductRollupExcludesEUAggregateRows(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// The EU-wide pseudo-geo row is already a total over the member
	// states; summing it into the product rollup would double-count.
	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "T"},
		{"27.51.11.10", "004", "PRODQNT", "100"},
		{"27.51.11.10", "004", "PRODVAL", "250"},
		{"27.51.11.10", "060", "QNTUNIT", "T"},
		{"27.51.11.10", "060", "PRODQNT", "40"},
		{"27.51.11.10", "060", "PRODVAL", "80"},
		{"27.51.11.10", "2027", "QNTUNIT", "T"},
		{"27.51.11.10", "2027", "PRODQNT", "140"},
		{"27.51.11.10", "2027", "PRODVAL", "330"},
	})
	runThroughIndicators(t, r, 2018)
	_, err := r.buildAggregates(ctx, 2018)
	require.NoError(t, err)

	var prodQnt, prodVal float64
	require.NoError(t, db.Conn().QueryRowContext(ctx,
		`SELECT prod_qnt_t, prod_val FROM `+store.TableName(tblAggProduct, 2018)+
			` WHERE product = 'fridge'`).Scan(&prodQnt, &prodVal))
	assert.InDelta(t, 140, prodQnt, 1e-9, "product rollup must sum country rows only")
	assert.InDelta(t, 330, prodVal, 1e-9)

	rows, err := db.Query(ctx,
		`SELECT geo, level, prod_qnt_t FROM `+store.TableName(tblAggCountry, 2018)+` ORDER BY geo`)
	require.NoError(t, err)
	defer rows.Close()

	type aggRow struct {
		geo, level string
		qnt        float64
	}
	var got []aggRow
	for rows.Next() {
		var a aggRow
		require.NoError(t, rows.Scan(&a.geo, &a.level, &a.qnt))
		got = append(got, a)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 3)
	assert.Equal(t, aggRow{"DE", "country", 100}, got[0])
	assert.Equal(t, aggRow{"EU27_2020", "eu", 140}, got[1])
	assert.Equal(t, aggRow{"PL", "country", 40}, got[2])
}
