package model

import "fmt"

// Args is the hyperparameter bundle for a Transformer. Zero values for
// the optional fields are replaced with defaults by Finalize; the derived
// fields are computed there and must not be set by callers.
type Args struct {
	Dim      int `yaml:"dim" json:"dim"`
	NLayers  int `yaml:"n_layers" json:"n_layers"`
	NHeads   int `yaml:"n_heads" json:"n_heads"`
	NKVHeads int `yaml:"n_kv_heads" json:"n_kv_heads"`

	VocabSize  int     `yaml:"vocab_size" json:"vocab_size"`
	MultipleOf int     `yaml:"multiple_of" json:"multiple_of"`
	FFNDimMult float64 `yaml:"ffn_dim_multiplier" json:"ffn_dim_multiplier"`
	NormEps    float32 `yaml:"norm_eps" json:"norm_eps"`
	MaxSeqLen  int     `yaml:"max_seq_len" json:"max_seq_len"`
	RopeTheta  float64 `yaml:"rope_theta" json:"rope_theta"`

	// Derived by Finalize.
	HeadDim          int `yaml:"-" json:"-"`
	IntermediateSize int `yaml:"-" json:"-"`
}

// DefaultArgs returns the reference hyperparameters for a full-size model.
// Callers typically shrink these before Finalize.
func DefaultArgs() Args {
	return Args{
		Dim:        4096,
		NLayers:    32,
		NHeads:     32,
		MultipleOf: 256,
		NormEps:    1e-5,
		MaxSeqLen:  2048,
	}
}

// Finalize fills defaults, validates the configuration and computes the
// derived fields. It must be called exactly once before the Args are used
// to build a Transformer. All validation failures wrap ErrConfig.
func (a *Args) Finalize() error {
	if a.NKVHeads == 0 {
		a.NKVHeads = a.NHeads
	}
	if a.FFNDimMult == 0 {
		a.FFNDimMult = 4.0 / 3.0
	}
	if a.NormEps == 0 {
		a.NormEps = 1e-5
	}
	if a.RopeTheta == 0 {
		a.RopeTheta = 10000.0
	}

	if a.Dim <= 0 || a.NLayers <= 0 || a.NHeads <= 0 {
		return fmt.Errorf("%w: dim, n_layers and n_heads must be positive (dim=%d n_layers=%d n_heads=%d)",
			ErrConfig, a.Dim, a.NLayers, a.NHeads)
	}
	if a.VocabSize <= 0 {
		return fmt.Errorf("%w: vocab_size must be positive, got %d", ErrConfig, a.VocabSize)
	}
	if a.MaxSeqLen <= 0 {
		return fmt.Errorf("%w: max_seq_len must be positive, got %d", ErrConfig, a.MaxSeqLen)
	}
	if a.MultipleOf <= 0 {
		return fmt.Errorf("%w: multiple_of must be positive, got %d", ErrConfig, a.MultipleOf)
	}
	if a.NKVHeads < 0 || a.NKVHeads > a.NHeads {
		return fmt.Errorf("%w: n_kv_heads %d must be in [1, n_heads=%d]", ErrConfig, a.NKVHeads, a.NHeads)
	}
	if a.Dim%a.NHeads != 0 {
		return fmt.Errorf("%w: dim %d not divisible by n_heads %d", ErrConfig, a.Dim, a.NHeads)
	}
	if a.NHeads%a.NKVHeads != 0 {
		return fmt.Errorf("%w: n_heads %d not divisible by n_kv_heads %d", ErrConfig, a.NHeads, a.NKVHeads)
	}

	a.HeadDim = a.Dim / a.NHeads
	if a.HeadDim%2 != 0 {
		return fmt.Errorf("%w: head dimension %d must be even for rotary embeddings", ErrConfig, a.HeadDim)
	}
	a.IntermediateSize = roundUpMultiple(int(2*a.FFNDimMult*float64(a.Dim)), a.MultipleOf)
	return nil
}

// roundUpMultiple rounds n up to the nearest multiple of k.
func roundUpMultiple(n, k int) int {
	if n%k == 0 {
		return n
	}
	return n + k - n%k
}
