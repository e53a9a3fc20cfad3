package train

import (
	"math"

	"github.com/samcharles93/kiln/internal/model"
)

// Optimizer applies one update from the accumulated gradients. The
// learning rate is passed per step so a schedule can drive it.
type Optimizer interface {
	Step(params []model.Parameter, lr float64)
}

// SGD is plain stochastic gradient descent.
type SGD struct{}

func (SGD) Step(params []model.Parameter, lr float64) {
	for _, p := range params {
		for i, g := range p.Grad {
			p.Data[i] -= float32(lr * float64(g))
		}
	}
}

// AdamW implements Adam with decoupled weight decay and bias correction.
// Moment buffers are allocated lazily on the first step and keyed by
// parameter position, so the same parameter slice must be passed every
// step.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    [][]float64
	v    [][]float64
}

// NewAdamW returns an AdamW optimizer with the usual defaults
// (beta1 0.9, beta2 0.999, eps 1e-8) and the given weight decay.
func NewAdamW(weightDecay float64) *AdamW {
	return &AdamW{
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
	}
}

func (a *AdamW) Step(params []model.Parameter, lr float64) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p.Data))
			a.v[i] = make([]float64, len(p.Data))
		}
	}
	a.step++
	bc1 := 1.0 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1.0 - math.Pow(a.Beta2, float64(a.step))

	for pi, p := range params {
		m, v := a.m[pi], a.v[pi]
		for i, gf := range p.Grad {
			g := float64(gf)
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			mHat := m[i] / bc1
			vHat := v[i] / bc2

			upd := lr * (mHat/(math.Sqrt(vHat)+a.Eps) + a.WeightDecay*float64(p.Data[i]))
			p.Data[i] -= float32(upd)
		}
	}
}

// ClipGradNorm scales all gradients so their global L2 norm does not
// exceed maxNorm, and returns the pre-clip norm. A maxNorm of 0 disables
// clipping.
func ClipGradNorm(params []model.Parameter, maxNorm float64) float64 {
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(sum)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := float32(maxNorm / norm)
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
	return norm
}
