package pipeline

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circularity-pipeline/internal/store"
)

func queryRecovery(t *testing.T, db *store.DB, year int) map[string]struct {
	rate       sql.NullFloat64
	sourceYear int
} {
	t.Helper()
	rows, err := db.Query(context.Background(),
		`SELECT product, recovery_pct, source_year FROM `+store.TableName(tblMatRecovery, year))
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string]struct {
		rate       sql.NullFloat64
		sourceYear int
	})
	for rows.Next() {
		var product string
		var rate sql.NullFloat64
		var srcYear int
		require.NoError(t, rows.Scan(&product, &rate, &srcYear))
		out[product] = struct {
			rate       sql.NullFloat64
			sourceYear int
		}{rate, srcYear}
	}
	require.NoError(t, rows.Err())
	return out
}

func TestMaterialFlowsWeightedRecovery(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// Steel: 60 t recycled, 20 t landfilled -> 75 %.
	// Plastic: 10 t recycled, 30 t landfilled -> 25 %.
	seedMassBalance(t, db, []mbRow{
		{2018, "EU", "LHA", "steel", "recycling", 60, "observed"},
		{2018, "EU", "LHA", "steel", "landfill", 20, "observed"},
		{2018, "EU", "LHA", "plastic", "recycling", 10, "observed"},
		{2018, "EU", "LHA", "plastic", "landfill", 30, "observed"},
	})

	_, err := r.buildMaterialFlows(ctx, 2018)
	require.NoError(t, err)

	// Mass-weighted product rate: (80*75 + 40*25) / 120 = 58.33...
	got := queryRecovery(t, db, 2018)
	fridge := got["fridge"]
	require.True(t, fridge.rate.Valid)
	assert.InDelta(t, 58.3333, fridge.rate.Float64, 0.001)
	assert.Equal(t, 2018, fridge.sourceYear)

	// Composition shares per category sum to 100.
	rows, err := db.Query(ctx,
		`SELECT material, share_pct FROM `+store.TableName(tblMatComposition, 2018)+` ORDER BY material`)
	require.NoError(t, err)
	defer rows.Close()
	var total float64
	for rows.Next() {
		var material string
		var share float64
		require.NoError(t, rows.Scan(&material, &share))
		total += share
	}
	require.NoError(t, rows.Err())
	assert.InDelta(t, 100, total, 1e-9)
}

func TestMaterialFlowsDenominatorZeroIsMissing(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	// Collection mass only: no recovery flows and no loss flow observed,
	// so the denominator is zero and the rate must be missing.
	seedMassBalance(t, db, []mbRow{
		{2018, "EU", "LHA", "steel", "collection", 50, "observed"},
	})

	_, err := r.buildMaterialFlows(ctx, 2018)
	require.NoError(t, err)

	var rate sql.NullFloat64
	err = db.Conn().QueryRow(
		`SELECT recovery_pct FROM ` + store.TableName(tblMatComposition, 2018)).Scan(&rate)
	require.NoError(t, err)
	assert.False(t, rate.Valid, "zero denominator yields missing, never zero or NaN")

	got := queryRecovery(t, db, 2018)
	assert.False(t, got["fridge"].rate.Valid)
}

func TestMaterialFlowsExcludesSimulatedScenarios(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	seedMassBalance(t, db, []mbRow{
		{2018, "EU", "LHA", "steel", "recycling", 60, "observed"},
		{2018, "EU", "LHA", "steel", "landfill", 40, "observed"},
		{2018, "EU", "LHA", "steel", "recycling", 1000, "projected_2030"},
	})

	_, err := r.buildMaterialFlows(ctx, 2018)
	require.NoError(t, err)

	got := queryRecovery(t, db, 2018)
	require.True(t, got["fridge"].rate.Valid)
	assert.InDelta(t, 60, got["fridge"].rate.Float64, 1e-9)
}

func TestMaterialFlowsPriorYearFallback(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	seedMassBalance(t, db, []mbRow{
		{2015, "EU", "LHA", "steel", "recycling", 80, "observed"},
		{2015, "EU", "LHA", "steel", "landfill", 20, "observed"},
	})

	_, err := r.buildMaterialFlows(ctx, 2018)
	require.NoError(t, err)

	got := queryRecovery(t, db, 2018)
	require.True(t, got["fridge"].rate.Valid)
	assert.InDelta(t, 80, got["fridge"].rate.Float64, 1e-9)
	assert.Equal(t, 2015, got["fridge"].sourceYear,
		"provenance records the substituted source year")

	warnings, err := db.ListWarnings(ctx, "test-run")
	require.NoError(t, err)
	found := false
	for _, w := range warnings {
		if w.Step == stepMaterial {
			found = true
		}
	}
	assert.True(t, found, "year substitution must be warned about, not silent")
}

func TestMaterialFlowsEmptyTablesWithoutData(t *testing.T) {
	db := newTestDB(t)
	r := newTestRunner(t, db)
	ctx := context.Background()

	n, err := r.buildMaterialFlows(ctx, 2018)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, base := range []string{tblMatComposition, tblMatRecovery} {
		exists, err := db.TableExists(ctx, store.TableName(base, 2018))
		require.NoError(t, err)
		assert.True(t, exists)
	}
}
