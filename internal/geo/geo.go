// Package geo harmonizes geography codes across the two source systems.
// The production source reports national statistical-agency numeric codes,
// the trade source already reports ISO codes; outputs are keyed by ISO.
package geo

import "strings"

// System identifies which source a code comes from.
type System int

const (
	// SystemProdcom is the production source's numeric code space.
	SystemProdcom System = iota
	// SystemComext is the trade source's ISO code space.
	SystemComext
)

// numericToISO is the forward map for the production source.
var numericToISO = map[string]string{
	"001": "FR",
	"003": "NL",
	"004": "DE",
	"005": "IT",
	"006": "GB",
	"007": "IE",
	"008": "DK",
	"009": "GR",
	"010": "PT",
	"011": "ES",
	"017": "BE",
	"018": "LU",
	"030": "SE",
	"032": "FI",
	"038": "AT",
	"046": "MT",
	"053": "EE",
	"054": "LV",
	"055": "LT",
	"060": "PL",
	"061": "CZ",
	"063": "SK",
	"064": "HU",
	"066": "RO",
	"068": "BG",
	"091": "SI",
	"092": "HR",
	"600": "CY",
}

// aggregates rewrites the special EU-wide pseudo-codes of either system.
var aggregates = map[string]string{
	"1110":      "EU27_2020",
	"2027":      "EU27_2020",
	"2028":      "EU28",
	"EU27":      "EU27_2020",
	"EU27_2020": "EU27_2020",
	"EU28":      "EU28",
}

// EUAggregate is the canonical EU-wide pseudo-code used by the outputs.
const EUAggregate = "EU27_2020"

// Harmonize maps a source geography code to its ISO form. The boolean
// reports whether the code was recognized; unrecognized codes come back
// unchanged so no record is ever dropped -- the caller is expected to warn.
//
// The two systems are deliberately asymmetric: Prodcom codes go through the
// full numeric map, Comext codes are already ISO and only the aggregate
// pseudo-codes are rewritten.
func Harmonize(code string, sys System) (string, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch sys {
	case SystemProdcom:
		if iso, ok := numericToISO[c]; ok {
			return iso, true
		}
		if iso, ok := aggregates[c]; ok {
			return iso, true
		}
		return code, false
	case SystemComext:
		if iso, ok := aggregates[c]; ok {
			return iso, true
		}
		return c, true
	}
	return code, false
}

// IsAggregate reports whether an ISO code is an EU-wide pseudo-code.
func IsAggregate(iso string) bool {
	return iso == "EU27_2020" || iso == "EU28"
}
