package tensor

import (
	"math"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// Dot computes the dot product of a and b.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// MatVec computes dst = m * x. len(x) must equal m.C and len(dst) m.R.
func MatVec(dst []float32, m *Mat, x []float32) {
	if len(x) != m.C || len(dst) != m.R {
		panic("matvec dimension mismatch")
	}
	for r := 0; r < m.R; r++ {
		row := m.Data[r*m.C : (r+1)*m.C]
		var sum float32
		for c := range row {
			sum += row[c] * x[c]
		}
		dst[r] = sum
	}
}

// MatVecT computes dst += m^T * x. len(x) must equal m.R and len(dst) m.C.
// The accumulate-into convention suits backward passes where several
// projections feed the same input gradient.
func MatVecT(dst []float32, m *Mat, x []float32) {
	if len(x) != m.R || len(dst) != m.C {
		panic("matvecT dimension mismatch")
	}
	for r := 0; r < m.R; r++ {
		xr := x[r]
		if xr == 0 {
			continue
		}
		row := m.Data[r*m.C : (r+1)*m.C]
		for c := range row {
			dst[c] += xr * row[c]
		}
	}
}

// AddOuter accumulates the outer product dy * x^T into the gradient of m.
// len(dy) must equal m.R and len(x) m.C. The gradient buffer must have been
// allocated with EnsureGrad.
func AddOuter(m *Mat, dy, x []float32) {
	if len(dy) != m.R || len(x) != m.C {
		panic("outer product dimension mismatch")
	}
	for r := 0; r < m.R; r++ {
		d := dy[r]
		if d == 0 {
			continue
		}
		grow := m.Grad[r*m.C : (r+1)*m.C]
		for c := range grow {
			grow[c] += d * x[c]
		}
	}
}

// RMSNorm performs Root Mean Square Normalization: dst_i = src_i * weight_i /
// sqrt(mean(src^2) + eps). The mean of squares is accumulated in float64.
// It returns the reciprocal RMS so callers can reuse it in a backward pass.
func RMSNorm(dst, src, weight []float32, eps float32) float32 {
	var sum float64
	for _, v := range src {
		sum += float64(v) * float64(v)
	}
	mean := sum / float64(len(src))
	inv := float32(1.0 / math.Sqrt(mean+float64(eps)))
	for i := range src {
		dst[i] = src[i] * inv * weight[i]
	}
	return inv
}

// Softmax applies the softmax function to x in place. Exponentials and the
// normalising sum are accumulated in float64 so that float32 score vectors
// cannot overflow, then results are cast back to float32.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float32) float32 {
	return x * Sigmoid(x)
}

// SiluGrad computes the derivative of Silu at x.
func SiluGrad(x float32) float32 {
	s := Sigmoid(x)
	return s * (1 + x*(1-s))
}
