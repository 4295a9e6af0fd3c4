package model

import "database/sql"

// GeoLevel distinguishes country rows from EU-wide aggregate rows.
type GeoLevel string

const (
	LevelCountry     GeoLevel = "country"
	LevelEUAggregate GeoLevel = "eu"
)

// Row is the harmonized production/trade tuple flowing between pipeline
// steps: one product, one geography, one year. Additive flow fields default
// to zero when a side of the merge is absent; that is safe because they sum.
type Row struct {
	Product string
	Geo     string
	Level   GeoLevel
	Year    int

	ProdQntT float64 // production volume, tonnes
	ProdVal  float64 // production value
	ImpQntT  float64
	ImpVal   float64
	ExpQntT  float64
	ExpVal   float64
}

// ConsumptionQntT returns apparent consumption in tonnes:
// production + imports - exports.
func (r Row) ConsumptionQntT() float64 {
	return r.ProdQntT + r.ImpQntT - r.ExpQntT
}

// ConsumptionVal returns apparent consumption in value terms.
func (r Row) ConsumptionVal() float64 {
	return r.ProdVal + r.ImpVal - r.ExpVal
}

// Rate is a derived percentage with provenance. Pct is NULL-capable on
// purpose: zero means an observed zero, an invalid Pct means there was not
// enough data to compute anything.
type Rate struct {
	Product string
	Geo     string
	Year    int
	Pct     sql.NullFloat64
	Source  string
}

// Strategy names the two what-if scenarios emitted per indicator row.
type Strategy string

const (
	StrategyRefurbishment Strategy = "refurbishment"
	StrategyRecycling     Strategy = "recycling"
)
