// Package infer generates text with greedy decoding. Every step re-runs
// the model over the whole sequence; nothing is cached between steps, so
// generation cost grows with the square of the length.
package infer

import (
	"context"
	"fmt"

	"github.com/samcharles93/kiln/internal/logger"
	"github.com/samcharles93/kiln/internal/model"
	"github.com/samcharles93/kiln/internal/tokenizer"
)

// Options controls one generation call.
type Options struct {
	// MaxNewTokens bounds the continuation length; 0 means 128.
	MaxNewTokens int
	// Stream, when set, receives each new token's text as it is decoded.
	Stream func(text string)
}

// Generator decodes continuations from a trained model.
type Generator struct {
	model *model.Transformer
	tk    tokenizer.Tokenizer
	log   logger.Logger
}

// New builds a generator. The tokenizer's vocabulary must match the
// model's.
func New(m *model.Transformer, tk tokenizer.Tokenizer, log logger.Logger) (*Generator, error) {
	if tk.VocabSize() != m.Args.VocabSize {
		return nil, fmt.Errorf("%w: tokenizer vocabulary %d does not match model %d",
			model.ErrConfig, tk.VocabSize(), m.Args.VocabSize)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Generator{model: m, tk: tk, log: log.With("component", "infer")}, nil
}

// Generate greedily extends the prompt until EOS, the token budget, or
// the model's position limit, and returns the continuation text.
func (g *Generator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ids, err := g.tk.Encode(prompt)
	if err != nil {
		return "", fmt.Errorf("encoding prompt: %w", err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("prompt produced no tokens")
	}
	maxNew := opts.MaxNewTokens
	if maxNew <= 0 {
		maxNew = 128
	}
	// The rotary table covers 2*MaxSeqLen positions.
	limit := 2 * g.model.Args.MaxSeqLen
	if len(ids) >= limit {
		return "", fmt.Errorf("%w: prompt is %d tokens, limit is %d", model.ErrSequence, len(ids), limit)
	}

	eos := g.tk.EOSID()
	var generated []int
	for step := 0; step < maxNew && len(ids) < limit; step++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		logits, err := g.model.Forward([][]int{ids}, 0)
		if err != nil {
			return "", fmt.Errorf("forward at step %d: %w", step, err)
		}
		vocab := g.model.Args.VocabSize
		next := argmax(logits[(len(ids)-1)*vocab : len(ids)*vocab])
		if next == eos {
			break
		}
		ids = append(ids, next)
		generated = append(generated, next)
		if opts.Stream != nil {
			text, err := g.tk.Decode([]int{next})
			if err != nil {
				return "", fmt.Errorf("decoding token %d: %w", next, err)
			}
			opts.Stream(text)
		}
	}

	g.log.Debug("generation finished", "prompt_tokens", len(ids)-len(generated), "new_tokens", len(generated))
	return g.tk.Decode(generated)
}

// argmax returns the index of the largest value, taking the lowest index
// on ties so decoding is deterministic.
func argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
