package model

import (
	"fmt"
	"math"

	"github.com/samcharles93/kiln/internal/tensor"
)

// Transformer is a decoder-only transformer: token embedding, a stack of
// pre-norm residual blocks with grouped-query attention and SwiGLU, a
// final RMSNorm and an untied output projection.
//
// The model keeps no state between Forward calls: every call recomputes
// attention over the full token slice it is given, and startPos only
// selects which rotary rows apply. Callers who want incremental decoding
// must re-send the whole sequence.
type Transformer struct {
	Args Args

	TokEmbeddings *tensor.Mat // vocab x dim
	Blocks        []*Block
	Norm          *tensor.Vec
	Output        *tensor.Mat // vocab x dim

	// Training switches on activation caching so Backward can run after
	// a Forward. Inference callers leave it false.
	Training bool

	freqsCis []complex128
	cache    *fwdCache
}

// fwdCache holds everything Backward needs from the last training-mode
// Forward.
type fwdCache struct {
	tokens   []int // flattened, bsz*seq
	bsz, seq int
	freqs    []complex128

	blocks []blockCache
	xFinal []float32 // last block output, input to the final norm
	invF   []float32
	xnF    []float32 // final norm output
}

// New builds a Transformer for the given hyperparameters. The arguments
// are finalized here; weights start at zero (norm scales at one) and are
// filled by InitRandom or a checkpoint load.
//
// The rotary table covers twice MaxSeqLen positions so that generation
// can run past the training context.
func New(args Args) (*Transformer, error) {
	if err := args.Finalize(); err != nil {
		return nil, err
	}
	m := &Transformer{
		Args:          args,
		TokEmbeddings: tensor.NewMat(args.VocabSize, args.Dim),
		Norm:          tensor.NewVecOnes(args.Dim),
		Output:        tensor.NewMat(args.VocabSize, args.Dim),
		freqsCis:      precomputeFreqsCis(args.HeadDim, 2*args.MaxSeqLen, args.RopeTheta),
	}
	m.Blocks = make([]*Block, args.NLayers)
	for i := range m.Blocks {
		m.Blocks[i] = newBlock(args)
	}
	return m, nil
}

// Forward runs the model over a [batch][seq] slice of token ids and
// returns logits in row-major [batch][seq][vocab] order. startPos selects
// the first rotary row; with more than one position a causal mask is
// applied so each position attends only to itself and earlier positions.
func (m *Transformer) Forward(tokens [][]int, startPos int) ([]float32, error) {
	bsz := len(tokens)
	if bsz == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	seq := len(tokens[0])
	if seq == 0 {
		return nil, fmt.Errorf("%w: empty sequence in batch row 0", ErrShape)
	}
	for b := 1; b < bsz; b++ {
		if len(tokens[b]) != seq {
			return nil, fmt.Errorf("%w: batch row %d has length %d, want %d", ErrShape, b, len(tokens[b]), seq)
		}
	}
	if startPos < 0 {
		return nil, fmt.Errorf("%w: negative start position %d", ErrSequence, startPos)
	}
	half := m.Args.HeadDim / 2
	numPos := len(m.freqsCis) / half
	if startPos+seq > numPos {
		return nil, fmt.Errorf("%w: start position %d plus sequence length %d exceeds the %d precomputed positions",
			ErrSequence, startPos, seq, numPos)
	}

	dim := m.Args.Dim
	p := bsz * seq
	x := make([]float32, p*dim)
	flat := make([]int, p)
	for b, row := range tokens {
		for s, id := range row {
			if id < 0 || id >= m.Args.VocabSize {
				return nil, fmt.Errorf("%w: token id %d at [%d][%d] outside vocabulary of size %d",
					ErrShape, id, b, s, m.Args.VocabSize)
			}
			i := b*seq + s
			flat[i] = id
			m.TokEmbeddings.RowTo(x[i*dim:(i+1)*dim], id)
		}
	}

	freqs := m.freqsCis[startPos*half : (startPos+seq)*half]
	mask := causalMask(seq)

	var cache *fwdCache
	if m.Training {
		cache = &fwdCache{
			tokens: flat,
			bsz:    bsz,
			seq:    seq,
			freqs:  freqs,
			blocks: make([]blockCache, len(m.Blocks)),
		}
	}

	for l, bl := range m.Blocks {
		out := make([]float32, p*dim)
		var bc *blockCache
		if cache != nil {
			bc = &cache.blocks[l]
		}
		bl.forward(out, x, bsz, seq, freqs, mask, bc)
		x = out
	}

	xn := make([]float32, p*dim)
	var invF []float32
	if cache != nil {
		invF = make([]float32, p)
	}
	for i := 0; i < p; i++ {
		inv := tensor.RMSNorm(xn[i*dim:(i+1)*dim], x[i*dim:(i+1)*dim], m.Norm.Data, m.Args.NormEps)
		if invF != nil {
			invF[i] = inv
		}
	}

	logits := make([]float32, p*m.Args.VocabSize)
	for i := 0; i < p; i++ {
		tensor.MatVec(logits[i*m.Args.VocabSize:(i+1)*m.Args.VocabSize], m.Output, xn[i*dim:(i+1)*dim])
	}

	if cache != nil {
		cache.xFinal = x
		cache.invF = invF
		cache.xnF = xn
		m.cache = cache
	}
	return logits, nil
}

// Backward propagates dLogits (same layout as the Forward result) through
// the whole model, accumulating parameter gradients. It consumes the
// activations cached by the last training-mode Forward.
func (m *Transformer) Backward(dLogits []float32) error {
	c := m.cache
	if c == nil {
		return fmt.Errorf("no cached activations: run Forward with Training set before Backward")
	}
	m.cache = nil

	dim := m.Args.Dim
	vocab := m.Args.VocabSize
	p := c.bsz * c.seq
	if len(dLogits) != p*vocab {
		return fmt.Errorf("%w: gradient has %d values, want %d", ErrShape, len(dLogits), p*vocab)
	}
	m.EnsureGrads()

	dXn := make([]float32, p*dim)
	for i := 0; i < p; i++ {
		row := dLogits[i*vocab : (i+1)*vocab]
		tensor.AddOuter(m.Output, row, c.xnF[i*dim:(i+1)*dim])
		tensor.MatVecT(dXn[i*dim:(i+1)*dim], m.Output, row)
	}

	dX := make([]float32, p*dim)
	for i := 0; i < p; i++ {
		rmsNormBackward(dX[i*dim:(i+1)*dim], dXn[i*dim:(i+1)*dim],
			c.xFinal[i*dim:(i+1)*dim], m.Norm.Data, m.Norm.Grad, c.invF[i])
	}

	for l := len(m.Blocks) - 1; l >= 0; l-- {
		dIn := make([]float32, p*dim)
		m.Blocks[l].backward(dIn, dX, c.bsz, c.seq, c.freqs, &c.blocks[l])
		dX = dIn
	}

	for i, id := range c.tokens {
		tensor.Add(m.TokEmbeddings.GradRow(id), dX[i*dim:(i+1)*dim])
	}
	return nil
}

// causalMask returns the additive seq x seq mask: 0 on and below the
// diagonal, -inf above. A single position needs no mask.
func causalMask(seq int) []float32 {
	if seq <= 1 {
		return nil
	}
	negInf := float32(math.Inf(-1))
	mask := make([]float32, seq*seq)
	for i := 0; i < seq; i++ {
		for j := i + 1; j < seq; j++ {
			mask[i*seq+j] = negInf
		}
	}
	return mask
}
