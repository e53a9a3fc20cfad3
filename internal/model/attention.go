package model

import (
	"math"

	"github.com/samcharles93/kiln/internal/tensor"
)

// Attention is a grouped-query self-attention layer. The four projections
// carry no bias. Query heads outnumber key/value heads by nHeads/nKVHeads;
// key and value activations are expanded to match before the score loop.
type Attention struct {
	Wq *tensor.Mat // (nHeads*headDim) x dim
	Wk *tensor.Mat // (nKVHeads*headDim) x dim
	Wv *tensor.Mat // (nKVHeads*headDim) x dim
	Wo *tensor.Mat // dim x (nHeads*headDim)

	dim      int
	nHeads   int
	nKVHeads int
	headDim  int
}

// attnCache holds the activations the backward pass needs. Populated only
// when the owning Transformer runs in training mode.
type attnCache struct {
	xn     []float32 // normalized layer input, p x dim
	q      []float32 // rotated queries, p x nHeads x headDim
	k      []float32 // rotated keys, p x nKVHeads x headDim
	v      []float32 // values, p x nKVHeads x headDim
	kx, vx []float32 // keys/values expanded to nHeads (alias k/v when nRep==1)
	w      []float32 // attention weights, bsz x nHeads x seq x seq
	o      []float32 // per-head context, p x nHeads x headDim

	bsz, seq int
}

func newAttention(args Args) *Attention {
	return &Attention{
		Wq:       tensor.NewMat(args.NHeads*args.HeadDim, args.Dim),
		Wk:       tensor.NewMat(args.NKVHeads*args.HeadDim, args.Dim),
		Wv:       tensor.NewMat(args.NKVHeads*args.HeadDim, args.Dim),
		Wo:       tensor.NewMat(args.Dim, args.NHeads*args.HeadDim),
		dim:      args.Dim,
		nHeads:   args.NHeads,
		nKVHeads: args.NKVHeads,
		headDim:  args.HeadDim,
	}
}

// repeatKV expands kv-head activations so that every query head has a
// matching row: query head h reads kv head h/nRep. When nRep is 1 the
// input is returned unchanged without copying.
func repeatKV(x []float32, p, nKV, nRep, headDim int) []float32 {
	if nRep == 1 {
		return x
	}
	nH := nKV * nRep
	out := make([]float32, p*nH*headDim)
	for i := 0; i < p; i++ {
		for h := 0; h < nH; h++ {
			src := x[(i*nKV+h/nRep)*headDim : (i*nKV+h/nRep+1)*headDim]
			copy(out[(i*nH+h)*headDim:(i*nH+h+1)*headDim], src)
		}
	}
	return out
}

// repeatKVBackward sums gradients over each group of nRep query heads,
// reducing expanded-head gradients back to kv-head layout.
func repeatKVBackward(dx []float32, p, nKV, nRep, headDim int) []float32 {
	if nRep == 1 {
		return dx
	}
	nH := nKV * nRep
	out := make([]float32, p*nKV*headDim)
	for i := 0; i < p; i++ {
		for h := 0; h < nH; h++ {
			dst := out[(i*nKV+h/nRep)*headDim : (i*nKV+h/nRep+1)*headDim]
			src := dx[(i*nH+h)*headDim : (i*nH+h+1)*headDim]
			for d := range dst {
				dst[d] += src[d]
			}
		}
	}
	return out
}

// forward computes self-attention over the normalized input xn (p x dim,
// p = bsz*seq) and writes the projected result into dst. freqs holds the
// rotary rows for the seq positions of this call; mask is the additive
// causal mask (nil when seq is 1).
func (at *Attention) forward(dst, xn []float32, bsz, seq int, freqs []complex128, mask []float32, cache *attnCache) {
	nH, nKV, hd := at.nHeads, at.nKVHeads, at.headDim
	nRep := nH / nKV
	half := hd / 2
	p := bsz * seq

	q := make([]float32, p*nH*hd)
	k := make([]float32, p*nKV*hd)
	v := make([]float32, p*nKV*hd)
	for i := 0; i < p; i++ {
		x := xn[i*at.dim : (i+1)*at.dim]
		tensor.MatVec(q[i*nH*hd:(i+1)*nH*hd], at.Wq, x)
		tensor.MatVec(k[i*nKV*hd:(i+1)*nKV*hd], at.Wk, x)
		tensor.MatVec(v[i*nKV*hd:(i+1)*nKV*hd], at.Wv, x)
	}

	for b := 0; b < bsz; b++ {
		for s := 0; s < seq; s++ {
			i := b*seq + s
			f := freqs[s*half : (s+1)*half]
			for h := 0; h < nH; h++ {
				applyRotary(q[(i*nH+h)*hd:(i*nH+h+1)*hd], f)
			}
			for h := 0; h < nKV; h++ {
				applyRotary(k[(i*nKV+h)*hd:(i*nKV+h+1)*hd], f)
			}
		}
	}

	kx := repeatKV(k, p, nKV, nRep, hd)
	vx := repeatKV(v, p, nKV, nRep, hd)

	scale := float32(1.0 / math.Sqrt(float64(hd)))
	o := make([]float32, p*nH*hd)
	scores := make([]float32, seq)
	var w []float32
	if cache != nil {
		w = make([]float32, bsz*nH*seq*seq)
	}
	for b := 0; b < bsz; b++ {
		for h := 0; h < nH; h++ {
			for si := 0; si < seq; si++ {
				qi := q[((b*seq+si)*nH+h)*hd : ((b*seq+si)*nH+h+1)*hd]
				for sj := 0; sj < seq; sj++ {
					kj := kx[((b*seq+sj)*nH+h)*hd : ((b*seq+sj)*nH+h+1)*hd]
					s := tensor.Dot(qi, kj) * scale
					if mask != nil {
						s += mask[si*seq+sj]
					}
					scores[sj] = s
				}
				tensor.Softmax(scores)
				oi := o[((b*seq+si)*nH+h)*hd : ((b*seq+si)*nH+h+1)*hd]
				for sj := 0; sj < seq; sj++ {
					wj := scores[sj]
					if wj == 0 {
						continue
					}
					vj := vx[((b*seq+sj)*nH+h)*hd : ((b*seq+sj)*nH+h+1)*hd]
					for d := range oi {
						oi[d] += wj * vj[d]
					}
				}
				if w != nil {
					copy(w[((b*nH+h)*seq+si)*seq:((b*nH+h)*seq+si+1)*seq], scores)
				}
			}
		}
	}

	for i := 0; i < p; i++ {
		tensor.MatVec(dst[i*at.dim:(i+1)*at.dim], at.Wo, o[i*nH*hd:(i+1)*nH*hd])
	}

	if cache != nil {
		cache.xn = xn
		cache.q, cache.k, cache.v = q, k, v
		cache.kx, cache.vx = kx, vx
		cache.w, cache.o = w, o
		cache.bsz, cache.seq = bsz, seq
	}
}

// backward propagates dY (gradient of the layer output, p x dim) through
// the projections, softmax, rotation and kv expansion. The gradient of the
// normalized input is accumulated into dXn; weight gradients accumulate
// into the projection matrices.
func (at *Attention) backward(dXn, dY []float32, freqs []complex128, c *attnCache) {
	nH, nKV, hd := at.nHeads, at.nKVHeads, at.headDim
	nRep := nH / nKV
	half := hd / 2
	bsz, seq := c.bsz, c.seq
	p := bsz * seq
	scale := float32(1.0 / math.Sqrt(float64(hd)))

	dO := make([]float32, p*nH*hd)
	for i := 0; i < p; i++ {
		dy := dY[i*at.dim : (i+1)*at.dim]
		tensor.AddOuter(at.Wo, dy, c.o[i*nH*hd:(i+1)*nH*hd])
		tensor.MatVecT(dO[i*nH*hd:(i+1)*nH*hd], at.Wo, dy)
	}

	dQ := make([]float32, p*nH*hd)
	dKx := make([]float32, p*nH*hd)
	dVx := make([]float32, p*nH*hd)
	dW := make([]float32, seq)
	for b := 0; b < bsz; b++ {
		for h := 0; h < nH; h++ {
			for si := 0; si < seq; si++ {
				dOi := dO[((b*seq+si)*nH+h)*hd : ((b*seq+si)*nH+h+1)*hd]
				wRow := c.w[((b*nH+h)*seq+si)*seq : ((b*nH+h)*seq+si+1)*seq]
				for sj := 0; sj < seq; sj++ {
					vj := c.vx[((b*seq+sj)*nH+h)*hd : ((b*seq+sj)*nH+h+1)*hd]
					dW[sj] = tensor.Dot(dOi, vj)
					wj := wRow[sj]
					if wj == 0 {
						continue
					}
					dVj := dVx[((b*seq+sj)*nH+h)*hd : ((b*seq+sj)*nH+h+1)*hd]
					for d := range dVj {
						dVj[d] += wj * dOi[d]
					}
				}

				// Softmax backward: dS_j = w_j * (dW_j - sum_k w_k dW_k).
				// Masked positions have weight 0 and contribute nothing.
				var inner float64
				for sj := 0; sj < seq; sj++ {
					inner += float64(wRow[sj]) * float64(dW[sj])
				}
				qi := c.q[((b*seq+si)*nH+h)*hd : ((b*seq+si)*nH+h+1)*hd]
				dQi := dQ[((b*seq+si)*nH+h)*hd : ((b*seq+si)*nH+h+1)*hd]
				for sj := 0; sj < seq; sj++ {
					ds := wRow[sj] * (dW[sj] - float32(inner))
					if ds == 0 {
						continue
					}
					g := ds * scale
					kj := c.kx[((b*seq+sj)*nH+h)*hd : ((b*seq+sj)*nH+h+1)*hd]
					dKj := dKx[((b*seq+sj)*nH+h)*hd : ((b*seq+sj)*nH+h+1)*hd]
					for d := 0; d < hd; d++ {
						dQi[d] += g * kj[d]
						dKj[d] += g * qi[d]
					}
				}
			}
		}
	}

	dK := repeatKVBackward(dKx, p, nKV, nRep, hd)
	dV := repeatKVBackward(dVx, p, nKV, nRep, hd)

	for b := 0; b < bsz; b++ {
		for s := 0; s < seq; s++ {
			i := b*seq + s
			f := freqs[s*half : (s+1)*half]
			for h := 0; h < nH; h++ {
				applyRotaryInv(dQ[(i*nH+h)*hd:(i*nH+h+1)*hd], f)
			}
			for h := 0; h < nKV; h++ {
				applyRotaryInv(dK[(i*nKV+h)*hd:(i*nKV+h+1)*hd], f)
			}
		}
	}

	for i := 0; i < p; i++ {
		x := c.xn[i*at.dim : (i+1)*at.dim]
		dxn := dXn[i*at.dim : (i+1)*at.dim]

		dq := dQ[i*nH*hd : (i+1)*nH*hd]
		tensor.AddOuter(at.Wq, dq, x)
		tensor.MatVecT(dxn, at.Wq, dq)

		dk := dK[i*nKV*hd : (i+1)*nKV*hd]
		tensor.AddOuter(at.Wk, dk, x)
		tensor.MatVecT(dxn, at.Wk, dk)

		dv := dV[i*nKV*hd : (i+1)*nKV*hd]
		tensor.AddOuter(at.Wv, dv, x)
		tensor.MatVecT(dxn, at.Wv, dv)
	}
}
