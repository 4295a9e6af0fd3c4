package pipeline

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circularity-pipeline/internal/store"
)

func queryProdHarmonized(t *testing.T, db *store.DB, year int) []map[string]interface{} {
	t.Helper()
	rows, err := db.Query(context.Background(),
		`SELECT product, prodcom_code, geo, level, prod_qnt_t FROM `+
			store.TableName(tblProdHarmonized, year)+` ORDER BY product, geo`)
	require.NoError(t, err)
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		var product, code, g, level string
		var qnt sql.NullFloat64
		require.NoError(t, rows.Scan(&product, &code, &g, &level, &qnt))
		out = append(out, map[string]interface{}{
			"product": product, "code": code, "geo": g, "level": level, "qnt": qnt,
		})
	}
	require.NoError(t, rows.Err())
	return out
}

func TestHarmonizeSelectsEpochCodesByYear(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// Both nomenclature revisions appear in the raw extract; only the
	// epoch covering the year may contribute rows.
	for _, year := range []int{2006, 2009} {
		seedProdcom(t, db, year, [][4]string{
			{"29.71.11.10", "004", "QNTUNIT", "KG"},
			{"29.71.11.10", "004", "PRODQNT", "100000"},
			{"27.51.11.10", "004", "QNTUNIT", "KG"},
			{"27.51.11.10", "004", "PRODQNT", "200000"},
		})
	}

	_, err := r.harmonizeProduction(ctx, 2006)
	require.NoError(t, err)
	got := queryProdHarmonized(t, db, 2006)
	require.Len(t, got, 1)
	assert.Equal(t, "29.71.11.10", got[0]["code"])
	assert.InDelta(t, 100.0, got[0]["qnt"].(sql.NullFloat64).Float64, 1e-9)

	_, err = r.harmonizeProduction(ctx, 2009)
	require.NoError(t, err)
	got = queryProdHarmonized(t, db, 2009)
	require.Len(t, got, 1)
	assert.Equal(t, "27.51.11.10", got[0]["code"])
	assert.InDelta(t, 200.0, got[0]["qnt"].(sql.NullFloat64).Float64, 1e-9)
}

func TestHarmonizeCutoverYearWithOnlyNewEpochData(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// 2007 is still epoch A; an extract carrying only epoch-B codes
	// yields zero rows, not an error.
	seedProdcom(t, db, 2007, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "KG"},
		{"27.51.11.10", "004", "PRODQNT", "200000"},
	})

	n, err := r.harmonizeProduction(ctx, 2007)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHarmonizeGeoMapping(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "060", "QNTUNIT", "T"},
		{"27.51.11.10", "060", "PRODQNT", "40"},
		{"27.51.11.10", "2027", "QNTUNIT", "T"},
		{"27.51.11.10", "2027", "PRODQNT", "300"},
		{"27.51.11.10", "999", "QNTUNIT", "T"},
		{"27.51.11.10", "999", "PRODQNT", "7"},
	})

	_, err := r.harmonizeProduction(ctx, 2018)
	require.NoError(t, err)
	got := queryProdHarmonized(t, db, 2018)
	require.Len(t, got, 3)

	byGeo := make(map[string]map[string]interface{})
	for _, row := range got {
		byGeo[row["geo"].(string)] = row
	}
	assert.Equal(t, "country", byGeo["PL"]["level"])
	assert.Equal(t, "eu", byGeo["EU27_2020"]["level"])
	// Unmapped codes pass through with a warning, never dropped.
	require.Contains(t, byGeo, "999")

	warnings, err := db.ListWarnings(ctx, "test-run")
	require.NoError(t, err)
	found := false
	for _, w := range warnings {
		if w.Step == stepHarmonize && w.Year == 2018 {
			found = true
		}
	}
	assert.True(t, found, "unmapped geo must be warned about")
}

func TestHarmonizePieceWeightOverride(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// fridge has a 45 kg average unit weight; washing_machine has none,
	// so its count-based quantity stays missing.
	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "P/ST"},
		{"27.51.11.10", "004", "PRODQNT", "1000"},
		{"27.51.13.00", "004", "QNTUNIT", "P/ST"},
		{"27.51.13.00", "004", "PRODQNT", "500"},
	})

	_, err := r.harmonizeProduction(ctx, 2018)
	require.NoError(t, err)
	got := queryProdHarmonized(t, db, 2018)
	require.Len(t, got, 2)

	byProduct := make(map[string]map[string]interface{})
	for _, row := range got {
		byProduct[row["product"].(string)] = row
	}

	fridge := byProduct["fridge"]["qnt"].(sql.NullFloat64)
	require.True(t, fridge.Valid)
	assert.InDelta(t, 45.0, fridge.Float64, 1e-9)

	wm := byProduct["washing_machine"]["qnt"].(sql.NullFloat64)
	assert.False(t, wm.Valid, "unconvertible quantity must stay missing, not zero")
}

func TestHarmonizeToleratesUnparseableValues(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	seedProdcom(t, db, 2018, [][4]string{
		{"27.51.11.10", "004", "QNTUNIT", "KG"},
		{"27.51.11.10", "004", "PRODQNT", "confidential"},
		{"27.51.11.10", "004", "PRODVAL", ":"},
	})

	n, err := r.harmonizeProduction(ctx, 2018)
	require.NoError(t, err, "not-a-number input must be tolerated, not fatal")
	assert.Equal(t, 1, n)

	got := queryProdHarmonized(t, db, 2018)
	assert.False(t, got[0]["qnt"].(sql.NullFloat64).Valid)
}
