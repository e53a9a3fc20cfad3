package model

import (
	"math"
	"testing"
)

func TestPrecomputeFreqsCisUnitMagnitude(t *testing.T) {
	table := precomputeFreqsCis(8, 32, 10000.0)
	if len(table) != 32*4 {
		t.Fatalf("table length = %d, want %d", len(table), 32*4)
	}
	for i, f := range table {
		mag := real(f)*real(f) + imag(f)*imag(f)
		if math.Abs(mag-1) > 1e-12 {
			t.Fatalf("entry %d magnitude^2 = %v, want 1", i, mag)
		}
	}
}

func TestPrecomputeFreqsCisPositionZero(t *testing.T) {
	table := precomputeFreqsCis(8, 4, 10000.0)
	for i := 0; i < 4; i++ {
		if real(table[i]) != 1 || imag(table[i]) != 0 {
			t.Fatalf("position 0 entry %d = %v, want 1+0i", i, table[i])
		}
	}
}

func TestApplyRotaryPreservesMagnitude(t *testing.T) {
	table := precomputeFreqsCis(8, 16, 10000.0)
	x := []float32{0.3, -1.2, 4.5, 0.01, -2.2, 0.9, 1.1, -0.4}
	before := pairMagnitudes(x)
	applyRotary(x, table[7*4:8*4])
	after := pairMagnitudes(x)
	for i := range before {
		if math.Abs(before[i]-after[i]) > 1e-5 {
			t.Fatalf("pair %d magnitude changed: %v -> %v", i, before[i], after[i])
		}
	}
}

func TestApplyRotaryPositionZeroIsIdentity(t *testing.T) {
	table := precomputeFreqsCis(4, 8, 10000.0)
	x := []float32{1.5, -0.5, 2, 3}
	orig := append([]float32(nil), x...)
	applyRotary(x, table[:2])
	for i := range x {
		if x[i] != orig[i] {
			t.Fatalf("position 0 rotation changed x[%d]: %v -> %v", i, orig[i], x[i])
		}
	}
}

func TestApplyRotaryInvRoundTrip(t *testing.T) {
	table := precomputeFreqsCis(8, 16, 10000.0)
	f := table[11*4 : 12*4]
	x := []float32{0.3, -1.2, 4.5, 0.01, -2.2, 0.9, 1.1, -0.4}
	orig := append([]float32(nil), x...)
	applyRotary(x, f)
	applyRotaryInv(x, f)
	for i := range x {
		if math.Abs(float64(x[i]-orig[i])) > 1e-5 {
			t.Fatalf("round trip changed x[%d]: %v -> %v", i, orig[i], x[i])
		}
	}
}

func TestApplyRotaryKnownAngle(t *testing.T) {
	// First frequency pair of any position p rotates by angle p.
	table := precomputeFreqsCis(2, 4, 10000.0)
	x := []float32{1, 0}
	applyRotary(x, table[2:3]) // position 2
	want0 := float32(math.Cos(2))
	want1 := float32(math.Sin(2))
	if math.Abs(float64(x[0]-want0)) > 1e-6 || math.Abs(float64(x[1]-want1)) > 1e-6 {
		t.Fatalf("rotation at position 2 = (%v, %v), want (%v, %v)", x[0], x[1], want0, want1)
	}
}

func pairMagnitudes(x []float32) []float64 {
	out := make([]float64, len(x)/2)
	for i := range out {
		re := float64(x[2*i])
		im := float64(x[2*i+1])
		out[i] = math.Sqrt(re*re + im*im)
	}
	return out
}
