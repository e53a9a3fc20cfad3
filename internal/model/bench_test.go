package model

import "testing"

func BenchmarkForward(b *testing.B) {
	m, err := New(Args{
		Dim:        128,
		NLayers:    2,
		NHeads:     4,
		NKVHeads:   2,
		VocabSize:  256,
		MultipleOf: 32,
		MaxSeqLen:  64,
	})
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	m.InitRandom(1)
	tokens := [][]int{make([]int, 32)}
	for i := range tokens[0] {
		tokens[0][i] = i % 256
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Forward(tokens, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkForwardBackward(b *testing.B) {
	m, err := New(Args{
		Dim:        64,
		NLayers:    2,
		NHeads:     4,
		NKVHeads:   2,
		VocabSize:  256,
		MultipleOf: 32,
		MaxSeqLen:  32,
	})
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	m.InitRandom(1)
	m.Training = true
	tokens := [][]int{make([]int, 16)}
	dLogits := make([]float32, 16*256)
	for i := range dLogits {
		dLogits[i] = 1.0 / float32(len(dLogits))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.Forward(tokens, 0); err != nil {
			b.Fatal(err)
		}
		if err := m.Backward(dLogits); err != nil {
			b.Fatal(err)
		}
	}
}
