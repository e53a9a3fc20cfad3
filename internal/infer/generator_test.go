package infer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/samcharles93/kiln/internal/logger"
	"github.com/samcharles93/kiln/internal/model"
	"github.com/samcharles93/kiln/internal/tokenizer"
)

func testGenerator(t *testing.T) *Generator {
	t.Helper()
	tk := tokenizer.NewByte()
	m, err := model.New(model.Args{
		Dim:        16,
		NLayers:    1,
		NHeads:     2,
		NKVHeads:   1,
		VocabSize:  tk.VocabSize(),
		MultipleOf: 8,
		MaxSeqLen:  16,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.InitRandom(1)
	g, err := New(m, tk, logger.JSON(io.Discard, slog.LevelInfo))
	if err != nil {
		t.Fatalf("New generator: %v", err)
	}
	return g
}

func TestGenerateRespectsTokenBudget(t *testing.T) {
	g := testGenerator(t)
	out, err := g.Generate(context.Background(), "ab", Options{MaxNewTokens: 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) > 5 {
		t.Fatalf("generated %d bytes, budget was 5", len(out))
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := testGenerator(t)
	a, err := g.Generate(context.Background(), "hello", Options{MaxNewTokens: 8})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := g.Generate(context.Background(), "hello", Options{MaxNewTokens: 8})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a != b {
		t.Fatalf("greedy decoding not deterministic: %q vs %q", a, b)
	}
}

func TestGenerateStreamsTokens(t *testing.T) {
	g := testGenerator(t)
	var sb strings.Builder
	out, err := g.Generate(context.Background(), "x", Options{
		MaxNewTokens: 4,
		Stream:       func(text string) { sb.WriteString(text) },
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sb.String() != out {
		t.Fatalf("streamed %q but returned %q", sb.String(), out)
	}
}

func TestGenerateStopsAtPositionLimit(t *testing.T) {
	g := testGenerator(t)
	// Limit is 2*MaxSeqLen = 32; a 30-token prompt leaves room for 2.
	prompt := strings.Repeat("a", 30)
	out, err := g.Generate(context.Background(), prompt, Options{MaxNewTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) > 2 {
		t.Fatalf("generated %d tokens past the position limit", len(out))
	}
}

func TestGenerateRejectsOverlongPrompt(t *testing.T) {
	g := testGenerator(t)
	if _, err := g.Generate(context.Background(), strings.Repeat("a", 40), Options{}); err == nil {
		t.Fatal("expected an error for a prompt beyond the position limit")
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	g := testGenerator(t)
	if _, err := g.Generate(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected an error for an empty prompt")
	}
}

func TestGenerateHonorsCancellation(t *testing.T) {
	g := testGenerator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, "ab", Options{}); err == nil {
		t.Fatal("expected an error from a canceled context")
	}
}

func TestNewRejectsVocabMismatch(t *testing.T) {
	tk := tokenizer.NewByte()
	m, err := model.New(model.Args{
		Dim:        16,
		NLayers:    1,
		NHeads:     2,
		VocabSize:  100,
		MultipleOf: 8,
		MaxSeqLen:  16,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(m, tk, nil); err == nil {
		t.Fatal("expected an error for mismatched vocabulary sizes")
	}
}

func TestArgmaxTakesLowestOnTies(t *testing.T) {
	if got := argmax([]float32{1, 3, 3, 2}); got != 1 {
		t.Fatalf("argmax = %d, want 1", got)
	}
}
