//go:build !pdpsimdebug

package invariant

import "testing"

func TestUnit(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"inside", 0.42, 0.42},
		{"zero", 0, 0},
		{"one", 1, 1},
		{"below", -0.3, 0},
		{"above", 1.7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unit("x", tt.in); got != tt.want {
				t.Errorf("Unit(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNonNegative(t *testing.T) {
	if got := NonNegative("amount", -5); got != 0 {
		t.Errorf("NonNegative(-5) = %v, want 0", got)
	}
	if got := NonNegative("amount", 12.5); got != 12.5 {
		t.Errorf("NonNegative(12.5) = %v, want 12.5", got)
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(1.4, 0, 1); got != 1 {
		t.Errorf("Clamp(1.4) = %v, want 1", got)
	}
	if got := Clamp(-1, 0, 1); got != 0 {
		t.Errorf("Clamp(-1) = %v, want 0", got)
	}
}
