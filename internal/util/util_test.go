package util

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{21.5, 21.5, true},
		{float32(2.5), 2.5, true},
		{3, 3, true},
		{int64(-4), -4, true},
		{json.Number("12.60"), 12.6, true},
		{" 9.0 ", 9, true},
		{"N/A", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ToFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%#v", tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "%#v", tt.in)
	}
}

func TestValueOr(t *testing.T) {
	m := map[string]any{"voltage_V": 12.1, "current_mA": nil}
	assert.Equal(t, 12.1, ValueOr(m, "voltage_V", "N/A"))
	assert.Nil(t, ValueOr(m, "current_mA", "N/A"))
	assert.Equal(t, "N/A", ValueOr(m, "power_mW", "N/A"))
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "", ValueString(nil))
	assert.Equal(t, "12.6", ValueString("12.6"))
	assert.Equal(t, "12.6", ValueString(12.6))
	assert.Equal(t, "13", ValueString(13.0))
	assert.Equal(t, "11.90", ValueString(json.Number("11.90")))
	assert.Equal(t, "7", ValueString(7))
}
