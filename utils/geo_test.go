package utils

import (
	"math"
	"testing"
)

func TestCalculateDistance(t *testing.T) {
	// Bangalore city center to Kempegowda airport, roughly 32 km.
	d := CalculateDistance(12.9716, 77.5946, 13.1986, 77.7066)
	if d < 27 || d > 31 {
		t.Errorf("distance = %.2f km, want ~28 km", d)
	}

	if d := CalculateDistance(12.9716, 77.5946, 12.9716, 77.5946); d != 0 {
		t.Errorf("zero-length distance = %v", d)
	}

	// Symmetric.
	a := CalculateDistance(51.5, -0.12, 48.85, 2.35)
	b := CalculateDistance(48.85, 2.35, 51.5, -0.12)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("asymmetric: %v vs %v", a, b)
	}
}
