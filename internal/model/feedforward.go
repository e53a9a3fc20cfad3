package model

import "github.com/samcharles93/kiln/internal/tensor"

// FeedForward is the SwiGLU block: W2(silu(W1 x) * W3 x), no biases.
//
// The gate width applies the 2/3 rescale to the configured intermediate
// size a second time before rounding up, so the effective hidden dimension
// is roundUpMultiple(2*intermediate/3, multipleOf). Checkpoints depend on
// these shapes, so the derivation must not change.
type FeedForward struct {
	W1 *tensor.Mat // hidden x dim, gate
	W2 *tensor.Mat // dim x hidden, down
	W3 *tensor.Mat // hidden x dim, up

	dim    int
	hidden int
}

// ffnCache holds the per-position activations for the backward pass.
type ffnCache struct {
	xn []float32 // normalized block input, p x dim
	u  []float32 // gate pre-activation W1 x, p x hidden
	g  []float32 // up projection W3 x, p x hidden
	a  []float32 // silu(u) * g, p x hidden
}

func newFeedForward(args Args) *FeedForward {
	hidden := roundUpMultiple(2*args.IntermediateSize/3, args.MultipleOf)
	return &FeedForward{
		W1:     tensor.NewMat(hidden, args.Dim),
		W2:     tensor.NewMat(args.Dim, hidden),
		W3:     tensor.NewMat(hidden, args.Dim),
		dim:    args.Dim,
		hidden: hidden,
	}
}

// forward applies the SwiGLU block position-wise to xn (p x dim) and
// writes the result into dst.
func (f *FeedForward) forward(dst, xn []float32, p int, cache *ffnCache) {
	u := make([]float32, p*f.hidden)
	g := make([]float32, p*f.hidden)
	a := make([]float32, p*f.hidden)
	for i := 0; i < p; i++ {
		x := xn[i*f.dim : (i+1)*f.dim]
		ui := u[i*f.hidden : (i+1)*f.hidden]
		gi := g[i*f.hidden : (i+1)*f.hidden]
		ai := a[i*f.hidden : (i+1)*f.hidden]
		tensor.MatVec(ui, f.W1, x)
		tensor.MatVec(gi, f.W3, x)
		for j := range ai {
			ai[j] = tensor.Silu(ui[j]) * gi[j]
		}
		tensor.MatVec(dst[i*f.dim:(i+1)*f.dim], f.W2, ai)
	}
	if cache != nil {
		cache.xn, cache.u, cache.g, cache.a = xn, u, g, a
	}
}

// backward accumulates the gradient of the normalized input into dXn and
// the weight gradients into W1/W2/W3, given dY, the gradient of the block
// output (p x dim).
func (f *FeedForward) backward(dXn, dY []float32, p int, c *ffnCache) {
	dA := make([]float32, f.hidden)
	dU := make([]float32, f.hidden)
	dG := make([]float32, f.hidden)
	for i := 0; i < p; i++ {
		dy := dY[i*f.dim : (i+1)*f.dim]
		x := c.xn[i*f.dim : (i+1)*f.dim]
		ui := c.u[i*f.hidden : (i+1)*f.hidden]
		gi := c.g[i*f.hidden : (i+1)*f.hidden]
		ai := c.a[i*f.hidden : (i+1)*f.hidden]

		tensor.AddOuter(f.W2, dy, ai)
		for j := range dA {
			dA[j] = 0
		}
		tensor.MatVecT(dA, f.W2, dy)

		for j := range dA {
			dU[j] = dA[j] * gi[j] * tensor.SiluGrad(ui[j])
			dG[j] = dA[j] * tensor.Silu(ui[j])
		}

		dxn := dXn[i*f.dim : (i+1)*f.dim]
		tensor.AddOuter(f.W1, dU, x)
		tensor.MatVecT(dxn, f.W1, dU)
		tensor.AddOuter(f.W3, dG, x)
		tensor.MatVecT(dxn, f.W3, dG)
	}
}
