package train

import (
	"math"
	"testing"

	"github.com/samcharles93/kiln/internal/corpus"
)

func TestCrossEntropyUniformLogits(t *testing.T) {
	// Equal logits over a vocabulary of 4: loss is ln(4) per position.
	vocab := 4
	logits := make([]float32, 2*vocab)
	labels := [][]int{{1, 3}}
	loss, dLogits, err := CrossEntropy(logits, labels, vocab)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	want := math.Log(4)
	if math.Abs(loss-want) > 1e-6 {
		t.Fatalf("loss = %v, want ln(4) = %v", loss, want)
	}
	// Gradient per row: softmax minus one-hot, scaled by 1/count.
	for s, label := range labels[0] {
		row := dLogits[s*vocab : (s+1)*vocab]
		var sum float64
		for i, g := range row {
			sum += float64(g)
			if i == label && g >= 0 {
				t.Errorf("position %d: gradient at label = %v, want negative", s, g)
			}
			if i != label && g <= 0 {
				t.Errorf("position %d: gradient off label = %v, want positive", s, g)
			}
		}
		if math.Abs(sum) > 1e-6 {
			t.Errorf("position %d: gradient row sums to %v, want 0", s, sum)
		}
	}
}

func TestCrossEntropySkipsIgnoredPositions(t *testing.T) {
	vocab := 3
	logits := []float32{
		5, 0, 0,
		0, 9, 0,
	}
	labels := [][]int{{0, corpus.IgnoreIndex}}
	loss, dLogits, err := CrossEntropy(logits, labels, vocab)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	// Only the first position counts; its label has much the largest
	// logit, so the loss is small.
	if loss > 0.1 {
		t.Errorf("loss = %v, want near 0", loss)
	}
	for i := vocab; i < 2*vocab; i++ {
		if dLogits[i] != 0 {
			t.Fatalf("ignored position has gradient %v at %d", dLogits[i], i)
		}
	}
}

func TestCrossEntropyConfidentWrongPrediction(t *testing.T) {
	vocab := 2
	logits := []float32{10, -10}
	loss, _, err := CrossEntropy(logits, [][]int{{1}}, vocab)
	if err != nil {
		t.Fatalf("CrossEntropy: %v", err)
	}
	if loss < 19 {
		t.Errorf("loss = %v, want about 20 for a confident miss", loss)
	}
}

func TestCrossEntropyErrors(t *testing.T) {
	if _, _, err := CrossEntropy([]float32{1, 2}, [][]int{{5}}, 2); err == nil {
		t.Error("expected an error for an out-of-range label")
	}
	if _, _, err := CrossEntropy([]float32{1, 2}, [][]int{{corpus.IgnoreIndex}}, 2); err == nil {
		t.Error("expected an error when every label is ignored")
	}
	if _, _, err := CrossEntropy([]float32{1, 2, 3}, [][]int{{0}}, 2); err == nil {
		t.Error("expected an error for a logits/labels size mismatch")
	}
}

func TestPerplexity(t *testing.T) {
	if got := Perplexity(0); got != 1 {
		t.Errorf("Perplexity(0) = %v, want 1", got)
	}
	if got := Perplexity(math.Log(4)); math.Abs(got-4) > 1e-9 {
		t.Errorf("Perplexity(ln 4) = %v, want 4", got)
	}
}
