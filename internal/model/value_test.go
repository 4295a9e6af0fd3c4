package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceNumbers(t *testing.T) {
	cases := map[string]float64{
		"42":        42,
		" 3.5 ":     3.5,
		"-7":        -7,
		"1,250":     1250,
		"1 250 000": 1250000,
		"0":         0,
	}
	for in, want := range cases {
		v := Coerce(in)
		assert.Equal(t, KindNumber, v.Kind, "input %q", in)
		assert.Equal(t, want, v.Num, "input %q", in)
	}
}

func TestCoerceMissingMarkers(t *testing.T) {
	for _, in := range []string{"", ":", "-", "NA", "n/a", "  "} {
		v := Coerce(in)
		assert.Equal(t, KindMissing, v.Kind, "input %q", in)
	}
}

func TestCoerceUnparseableKeepsRaw(t *testing.T) {
	v := Coerce("confidential")
	assert.Equal(t, KindUnparseable, v.Kind)
	assert.Equal(t, "confidential", v.Raw)
}

func TestZeroValueIsMissing(t *testing.T) {
	var v Value
	assert.Equal(t, KindMissing, v.Kind)
	assert.False(t, v.IsNumber())
	assert.Equal(t, 5.0, v.Or(5))
}
