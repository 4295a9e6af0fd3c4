// Package units maps the physical-unit codes reported by the production
// source onto tonnes. Count-based units (pieces, pairs, metres, kWh...) have
// no generic mass factor and come back as an explicit NotConvertible result;
// the pipeline may still resolve those through a per-product average weight.
package units

import (
	"strings"

	"circularity-pipeline/internal/model"
)

// Conversion is the outcome of a ToTonnes call.
type Conversion int

const (
	// Converted means the value was multiplied by a known mass factor.
	Converted Conversion = iota
	// NotConvertible means the unit has no defined mass factor (or is
	// unknown). The input is returned unchanged so the caller can decide.
	NotConvertible
	// PassThrough means the input was zero, missing, or unparseable and
	// was handed back as-is. Keeping these identities makes downstream
	// sums total-preserving.
	PassThrough
)

// Info describes one known unit code.
type Info struct {
	Factor      float64 // multiplier to tonnes; meaningful only when Convertible
	Convertible bool
	Short       string
	Description string
}

// table is keyed by canonical unit code as used in the QNTUNIT indicator.
var table = map[string]Info{
	"T":     {Factor: 1, Convertible: true, Short: "t", Description: "tonnes"},
	"KG":    {Factor: 0.001, Convertible: true, Short: "kg", Description: "kilograms"},
	"G":     {Factor: 0.000001, Convertible: true, Short: "g", Description: "grams"},
	"100KG": {Factor: 0.1, Convertible: true, Short: "100kg", Description: "hundreds of kilograms"},
	"KT":    {Factor: 1000, Convertible: true, Short: "kt", Description: "kilotonnes"},

	"P/ST":  {Short: "p/st", Description: "number of items"},
	"PA":    {Short: "pa", Description: "number of pairs"},
	"M":     {Short: "m", Description: "metres"},
	"M2":    {Short: "m2", Description: "square metres"},
	"M3":    {Short: "m3", Description: "cubic metres"},
	"L":     {Short: "l", Description: "litres"},
	"HL":    {Short: "hl", Description: "hectolitres"},
	"KWH":   {Short: "kWh", Description: "kilowatt-hours"},
	"CE/EL": {Short: "ce/el", Description: "number of cells/elements"},
}

// aliases maps common abbreviations seen in extracts to canonical codes.
var aliases = map[string]string{
	"TNE":    "T",
	"TONNES": "T",
	"TON":    "T",
	"KGS":    "KG",
	"GR":     "G",
	"HKG":    "100KG",
	"PST":    "P/ST",
	"PCE":    "P/ST",
	"NR":     "P/ST",
	"PAIRS":  "PA",
	"LTR":    "L",
}

// Canonical resolves aliases and normalizes case before table lookup.
func Canonical(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if canon, ok := aliases[c]; ok {
		return canon
	}
	return c
}

// Lookup returns the unit info for a (possibly aliased) code.
func Lookup(code string) (Info, bool) {
	info, ok := table[Canonical(code)]
	return info, ok
}

// CountBased reports whether the code is a known unit without a mass factor.
func CountBased(code string) bool {
	info, ok := Lookup(code)
	return ok && !info.Convertible
}

// ToTonnes converts a reported value into tonnes.
//
// Missing, unparseable and zero inputs are returned unchanged with
// PassThrough: they carry no mass and must not be turned into errors or
// fake zeros. Units without a defined factor, and unknown units, return the
// input unchanged with NotConvertible.
func ToTonnes(v model.Value, unitCode string) (model.Value, Conversion) {
	if !v.IsNumber() || v.Num == 0 {
		return v, PassThrough
	}
	info, ok := Lookup(unitCode)
	if !ok || !info.Convertible {
		return v, NotConvertible
	}
	return model.Number(v.Num * info.Factor), Converted
}
