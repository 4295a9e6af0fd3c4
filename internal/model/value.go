package model

import (
	"strconv"
	"strings"
)

// ValueKind tags the outcome of coercing a raw source cell.
type ValueKind int

// The zero Value is missing: an indicator that never appeared in the
// source must read as absent, not as a numeric zero.
const (
	KindMissing ValueKind = iota
	KindNumber
	KindUnparseable
)

// Value is the tagged scalar flowing out of the raw tables. Source extracts
// deliver everything as text; Coerce is the single place where that text is
// turned into a number, a missing marker, or an unparseable leftover.
type Value struct {
	Kind ValueKind
	Num  float64
	Raw  string
}

// Missing markers used by the statistical extracts.
var missingMarkers = map[string]bool{
	"":    true,
	":":   true,
	"-":   true,
	"na":  true,
	"n/a": true,
}

// Coerce converts a raw source cell into a tagged Value. It never fails:
// unknown content comes back as KindUnparseable with the original text kept
// in Raw so it can be reported instead of silently dropped.
func Coerce(raw string) Value {
	s := strings.TrimSpace(raw)
	if missingMarkers[strings.ToLower(s)] {
		return Value{Kind: KindMissing, Raw: raw}
	}
	// Extracts occasionally carry thousands separators.
	cleaned := strings.ReplaceAll(s, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return Value{Kind: KindNumber, Num: f, Raw: raw}
	}
	return Value{Kind: KindUnparseable, Raw: raw}
}

// Number builds a numeric Value directly.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// Missing builds the explicit missing marker.
func Missing() Value {
	return Value{Kind: KindMissing}
}

// IsNumber reports whether the value carries a usable number.
func (v Value) IsNumber() bool {
	return v.Kind == KindNumber
}

// Float returns the numeric content and whether it is usable.
func (v Value) Float() (float64, bool) {
	return v.Num, v.Kind == KindNumber
}

// Or returns the numeric content, or def when the value is not a number.
// Only additive fields may be defaulted to zero this way; rates must keep
// their missing state.
func (v Value) Or(def float64) float64 {
	if v.Kind == KindNumber {
		return v.Num
	}
	return def
}
