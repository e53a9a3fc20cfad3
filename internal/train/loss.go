package train

import (
	"fmt"
	"math"

	"github.com/samcharles93/kiln/internal/corpus"
)

// CrossEntropy computes the mean next-token cross-entropy of logits
// ([batch][seq][vocab] row-major) against labels, skipping positions
// labeled corpus.IgnoreIndex. It returns the loss and the gradient of the
// logits, already scaled by 1/count so Backward can consume it directly.
func CrossEntropy(logits []float32, labels [][]int, vocab int) (float64, []float32, error) {
	bsz := len(labels)
	if bsz == 0 {
		return 0, nil, fmt.Errorf("empty label batch")
	}
	seq := len(labels[0])
	if len(logits) != bsz*seq*vocab {
		return 0, nil, fmt.Errorf("logits have %d values, want %d", len(logits), bsz*seq*vocab)
	}

	count := 0
	for _, row := range labels {
		if len(row) != seq {
			return 0, nil, fmt.Errorf("ragged label batch")
		}
		for _, l := range row {
			if l == corpus.IgnoreIndex {
				continue
			}
			if l < 0 || l >= vocab {
				return 0, nil, fmt.Errorf("label %d outside vocabulary of size %d", l, vocab)
			}
			count++
		}
	}
	if count == 0 {
		return 0, nil, fmt.Errorf("all labels ignored")
	}

	dLogits := make([]float32, len(logits))
	var loss float64
	probs := make([]float64, vocab)
	for b := 0; b < bsz; b++ {
		for s := 0; s < seq; s++ {
			label := labels[b][s]
			if label == corpus.IgnoreIndex {
				continue
			}
			row := logits[(b*seq+s)*vocab : (b*seq+s+1)*vocab]

			maxv := row[0]
			for _, v := range row[1:] {
				if v > maxv {
					maxv = v
				}
			}
			var sum float64
			for i, v := range row {
				p := math.Exp(float64(v - maxv))
				probs[i] = p
				sum += p
			}
			loss -= math.Log(probs[label] / sum)

			dRow := dLogits[(b*seq+s)*vocab : (b*seq+s+1)*vocab]
			inv := 1.0 / (sum * float64(count))
			for i := range dRow {
				dRow[i] = float32(probs[i] * inv)
			}
			dRow[label] -= float32(1.0 / float64(count))
		}
	}
	return loss / float64(count), dLogits, nil
}

// Perplexity is exp of the mean cross-entropy.
func Perplexity(loss float64) float64 {
	return math.Exp(loss)
}
