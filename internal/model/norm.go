package model

// rmsNormBackward accumulates the input gradient of an RMSNorm into dx
// and the scale gradient into wGrad. x is the pre-norm input, dy the
// gradient of the norm output, and inv the reciprocal RMS returned by the
// forward pass.
//
// With r = inv and y_j = w_j * x_j * r:
//
//	dL/dx_k = r*w_k*dy_k - (r^3/D) * x_k * sum_j dy_j*w_j*x_j
//	dL/dw_k = dy_k * x_k * r
func rmsNormBackward(dx, dy, x, w, wGrad []float32, inv float32) {
	var sum float64
	for j := range x {
		sum += float64(dy[j]) * float64(w[j]) * float64(x[j])
	}
	r := float64(inv)
	k := float32(r * r * r * sum / float64(len(x)))
	for j := range x {
		dx[j] += inv*w[j]*dy[j] - k*x[j]
		wGrad[j] += dy[j] * x[j] * inv
	}
}
