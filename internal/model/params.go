package model

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/kiln/internal/tensor"
)

// Parameter is one named learnable tensor. Data and Grad alias the live
// model buffers, so optimizers update the model in place.
type Parameter struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// Parameters enumerates all learnable tensors in checkpoint order. Grad
// buffers are allocated on first call.
func (m *Transformer) Parameters() []Parameter {
	m.EnsureGrads()

	params := make([]Parameter, 0, 2+9*len(m.Blocks))
	addMat := func(name string, w *tensor.Mat) {
		params = append(params, Parameter{Name: name, Shape: []int{w.R, w.C}, Data: w.Data, Grad: w.Grad})
	}
	addVec := func(name string, v *tensor.Vec) {
		params = append(params, Parameter{Name: name, Shape: []int{len(v.Data)}, Data: v.Data, Grad: v.Grad})
	}

	addMat("tok_embeddings.weight", m.TokEmbeddings)
	for l, bl := range m.Blocks {
		addMat(fmt.Sprintf("layers.%d.attention.wq.weight", l), bl.attn.Wq)
		addMat(fmt.Sprintf("layers.%d.attention.wk.weight", l), bl.attn.Wk)
		addMat(fmt.Sprintf("layers.%d.attention.wv.weight", l), bl.attn.Wv)
		addMat(fmt.Sprintf("layers.%d.attention.wo.weight", l), bl.attn.Wo)
		addVec(fmt.Sprintf("layers.%d.attention_norm.weight", l), bl.attnNorm)
		addMat(fmt.Sprintf("layers.%d.feed_forward.w1.weight", l), bl.ffn.W1)
		addMat(fmt.Sprintf("layers.%d.feed_forward.w2.weight", l), bl.ffn.W2)
		addMat(fmt.Sprintf("layers.%d.feed_forward.w3.weight", l), bl.ffn.W3)
		addVec(fmt.Sprintf("layers.%d.ffn_norm.weight", l), bl.ffnNorm)
	}
	addVec("norm.weight", m.Norm)
	addMat("output.weight", m.Output)
	return params
}

// NumParams returns the total learnable value count.
func (m *Transformer) NumParams() int {
	var n int
	for _, p := range m.Parameters() {
		n += len(p.Data)
	}
	return n
}

// EnsureGrads allocates gradient buffers for every parameter.
func (m *Transformer) EnsureGrads() {
	m.TokEmbeddings.EnsureGrad()
	m.Output.EnsureGrad()
	m.Norm.EnsureGrad()
	for _, bl := range m.Blocks {
		bl.attn.Wq.EnsureGrad()
		bl.attn.Wk.EnsureGrad()
		bl.attn.Wv.EnsureGrad()
		bl.attn.Wo.EnsureGrad()
		bl.ffn.W1.EnsureGrad()
		bl.ffn.W2.EnsureGrad()
		bl.ffn.W3.EnsureGrad()
		bl.attnNorm.EnsureGrad()
		bl.ffnNorm.EnsureGrad()
	}
}

// ZeroGrads clears every allocated gradient buffer.
func (m *Transformer) ZeroGrads() {
	for _, p := range m.Parameters() {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// InitRandom fills the weight matrices with values drawn from N(0, 0.02)
// using a fixed seed, leaving the norm scales at one. The draw order is
// the Parameters order, so a seed fully determines the model.
func (m *Transformer) InitRandom(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, p := range m.Parameters() {
		if len(p.Shape) != 2 {
			continue
		}
		for i := range p.Data {
			p.Data[i] = float32(rng.NormFloat64() * 0.02)
		}
	}
}
