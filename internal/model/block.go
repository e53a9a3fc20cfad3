package model

import "github.com/samcharles93/kiln/internal/tensor"

// Block is one pre-norm residual transformer layer:
//
//	h   = x + attention(attnNorm(x))
//	out = h + feedForward(ffnNorm(h))
type Block struct {
	attn     *Attention
	ffn      *FeedForward
	attnNorm *tensor.Vec
	ffnNorm  *tensor.Vec

	dim int
	eps float32
}

// blockCache holds the residual-stream activations for the backward pass.
type blockCache struct {
	x    []float32 // block input, p x dim
	inv1 []float32 // reciprocal RMS per position, attention norm
	h    []float32 // after attention residual, p x dim
	inv2 []float32 // reciprocal RMS per position, ffn norm
	attn attnCache
	ffn  ffnCache
}

func newBlock(args Args) *Block {
	return &Block{
		attn:     newAttention(args),
		ffn:      newFeedForward(args),
		attnNorm: tensor.NewVecOnes(args.Dim),
		ffnNorm:  tensor.NewVecOnes(args.Dim),
		dim:      args.Dim,
		eps:      args.NormEps,
	}
}

// forward runs the block over x (p x dim, p = bsz*seq) and writes the
// output into dst. dst must not alias x.
func (bl *Block) forward(dst, x []float32, bsz, seq int, freqs []complex128, mask []float32, cache *blockCache) {
	p := bsz * seq

	xn1 := make([]float32, p*bl.dim)
	var inv1 []float32
	if cache != nil {
		inv1 = make([]float32, p)
	}
	for i := 0; i < p; i++ {
		inv := tensor.RMSNorm(xn1[i*bl.dim:(i+1)*bl.dim], x[i*bl.dim:(i+1)*bl.dim], bl.attnNorm.Data, bl.eps)
		if inv1 != nil {
			inv1[i] = inv
		}
	}

	attnOut := make([]float32, p*bl.dim)
	var ac *attnCache
	if cache != nil {
		ac = &cache.attn
	}
	bl.attn.forward(attnOut, xn1, bsz, seq, freqs, mask, ac)

	h := make([]float32, p*bl.dim)
	for i := range h {
		h[i] = x[i] + attnOut[i]
	}

	xn2 := make([]float32, p*bl.dim)
	var inv2 []float32
	if cache != nil {
		inv2 = make([]float32, p)
	}
	for i := 0; i < p; i++ {
		inv := tensor.RMSNorm(xn2[i*bl.dim:(i+1)*bl.dim], h[i*bl.dim:(i+1)*bl.dim], bl.ffnNorm.Data, bl.eps)
		if inv2 != nil {
			inv2[i] = inv
		}
	}

	var fc *ffnCache
	if cache != nil {
		fc = &cache.ffn
	}
	bl.ffn.forward(dst, xn2, p, fc)
	for i := range dst[:p*bl.dim] {
		dst[i] += h[i]
	}

	if cache != nil {
		cache.x = x
		cache.inv1, cache.inv2 = inv1, inv2
		cache.h = h
	}
}

// backward accumulates the gradient of the block input into dX given
// dOut, the gradient of the block output. Both residual branches feed the
// stream gradient before it passes through the norms.
func (bl *Block) backward(dX, dOut []float32, bsz, seq int, freqs []complex128, c *blockCache) {
	p := bsz * seq

	dH := make([]float32, p*bl.dim)
	copy(dH, dOut[:p*bl.dim])

	dXn2 := make([]float32, p*bl.dim)
	bl.ffn.backward(dXn2, dOut, p, &c.ffn)
	bl.ffnNorm.EnsureGrad()
	for i := 0; i < p; i++ {
		rmsNormBackward(dH[i*bl.dim:(i+1)*bl.dim], dXn2[i*bl.dim:(i+1)*bl.dim],
			c.h[i*bl.dim:(i+1)*bl.dim], bl.ffnNorm.Data, bl.ffnNorm.Grad, c.inv2[i])
	}

	tensor.Add(dX[:p*bl.dim], dH)

	dXn1 := make([]float32, p*bl.dim)
	bl.attn.backward(dXn1, dH, freqs, &c.attn)
	bl.attnNorm.EnsureGrad()
	for i := 0; i < p; i++ {
		rmsNormBackward(dX[i*bl.dim:(i+1)*bl.dim], dXn1[i*bl.dim:(i+1)*bl.dim],
			c.x[i*bl.dim:(i+1)*bl.dim], bl.attnNorm.Data, bl.attnNorm.Grad, c.inv1[i])
	}
}
