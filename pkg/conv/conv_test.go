package conv

import (
	"math"
	"testing"
)

func TestParseFloat64(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{2.5, 2.5, true},
		{float32(1.5), 1.5, true},
		{int64(7), 7, true},
		{true, 1, true},
		{" 42000 ", 42000, true},
		{"1e3", 1000, true},
		{"abc", 0, false},
		{"NaN", 0, false},
		{math.Inf(1), 0, false},
		{nil, 0, false},
		{[]int{1}, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseFloat64(tt.in)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("ParseFloat64(%#v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestToCategory(t *testing.T) {
	if got := ToCategory("Manual"); got != "Manual" {
		t.Errorf("ToCategory(string) = %q", got)
	}
	if got := ToCategory(6); got != "6" {
		t.Errorf("ToCategory(int) = %q", got)
	}
	if got := ToCategory(2.0); got != "2" {
		t.Errorf("ToCategory(float) = %q", got)
	}
}
