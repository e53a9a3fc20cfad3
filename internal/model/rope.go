package model

import "math"

// precomputeFreqsCis builds the rotary embedding table: one unit-magnitude
// complex value per (position, frequency) pair, row-major with headDim/2
// values per position. The angle at position p and pair index i is
// p * theta^(-2i/headDim).
func precomputeFreqsCis(headDim, numPos int, theta float64) []complex128 {
	half := headDim / 2
	freqs := make([]float64, half)
	for i := 0; i < half; i++ {
		freqs[i] = 1.0 / math.Pow(theta, float64(2*i)/float64(headDim))
	}
	table := make([]complex128, numPos*half)
	for p := 0; p < numPos; p++ {
		row := table[p*half : (p+1)*half]
		for i := 0; i < half; i++ {
			angle := float64(p) * freqs[i]
			row[i] = complex(math.Cos(angle), math.Sin(angle))
		}
	}
	return table
}

// applyRotary rotates adjacent float32 pairs of x in place, treating
// (x[2i], x[2i+1]) as a complex value and multiplying by freqs[i]. The
// product is taken in float64 and cast back, so x keeps its dtype.
func applyRotary(x []float32, freqs []complex128) {
	for i := range freqs {
		re := float64(x[2*i])
		im := float64(x[2*i+1])
		c := real(freqs[i])
		s := imag(freqs[i])
		x[2*i] = float32(re*c - im*s)
		x[2*i+1] = float32(re*s + im*c)
	}
}

// applyRotaryInv rotates by the conjugate frequencies, undoing applyRotary.
// The backward pass of a rotation is the inverse rotation, so this also
// maps output gradients to input gradients.
func applyRotaryInv(x []float32, freqs []complex128) {
	for i := range freqs {
		re := float64(x[2*i])
		im := float64(x[2*i+1])
		c := real(freqs[i])
		s := imag(freqs[i])
		x[2*i] = float32(re*c + im*s)
		x[2*i+1] = float32(-re*s + im*c)
	}
}
