package model

import (
	"math"
	"math/rand"
	"testing"
)

// Gradient check: compare analytic gradients against central finite
// differences of a linear probe loss L = sum_i c_i * logits_i on a tiny
// model, sampling a few indices from every parameter tensor.
func TestBackwardFiniteDifference(t *testing.T) {
	args := Args{
		Dim:        8,
		NLayers:    2,
		NHeads:     2,
		NKVHeads:   1,
		VocabSize:  11,
		MultipleOf: 4,
		MaxSeqLen:  8,
	}
	m := newTestModel(t, args)
	tokens := [][]int{{3, 9, 1, 4}}

	rng := rand.New(rand.NewSource(7))
	coef := make([]float32, 1*4*args.VocabSize)
	for i := range coef {
		coef[i] = float32(rng.NormFloat64())
	}
	probe := func() float64 {
		logits, err := m.Forward(tokens, 0)
		if err != nil {
			t.Fatalf("Forward: %v", err)
		}
		var sum float64
		for i := range logits {
			sum += float64(coef[i]) * float64(logits[i])
		}
		return sum
	}

	m.Training = true
	if _, err := m.Forward(tokens, 0); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if err := m.Backward(coef); err != nil {
		t.Fatalf("Backward: %v", err)
	}
	m.Training = false

	const h = 2e-3
	for _, p := range m.Parameters() {
		for s := 0; s < 6; s++ {
			idx := rng.Intn(len(p.Data))
			orig := p.Data[idx]
			p.Data[idx] = orig + h
			lp := probe()
			p.Data[idx] = orig - h
			lm := probe()
			p.Data[idx] = orig

			numeric := (lp - lm) / (2 * h)
			analytic := float64(p.Grad[idx])
			tol := 1e-3 + 0.05*math.Max(math.Abs(numeric), math.Abs(analytic))
			if math.Abs(numeric-analytic) > tol {
				t.Errorf("%s[%d]: analytic %v vs numeric %v", p.Name, idx, analytic, numeric)
			}
		}
	}
}

func TestBackwardRequiresTrainingForward(t *testing.T) {
	m := newTestModel(t, specArgs())
	if _, err := m.Forward([][]int{{1, 2}}, 0); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if err := m.Backward(make([]float32, 2*100)); err == nil {
		t.Fatal("Backward without a training forward should fail")
	}
}

func TestZeroGradsClears(t *testing.T) {
	m := newTestModel(t, specArgs())
	m.Training = true
	logits, err := m.Forward([][]int{{1, 2, 3}}, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	d := make([]float32, len(logits))
	for i := range d {
		d[i] = 1
	}
	if err := m.Backward(d); err != nil {
		t.Fatalf("Backward: %v", err)
	}

	var nonzero bool
	for _, p := range m.Parameters() {
		for _, g := range p.Grad {
			if g != 0 {
				nonzero = true
				break
			}
		}
	}
	if !nonzero {
		t.Fatal("expected nonzero gradients after Backward")
	}

	m.ZeroGrads()
	for _, p := range m.Parameters() {
		for i, g := range p.Grad {
			if g != 0 {
				t.Fatalf("%s grad[%d] = %v after ZeroGrads", p.Name, i, g)
			}
		}
	}
}
