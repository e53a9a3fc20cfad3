package tokenizer

import (
	"os"
	"path/filepath"
	"testing"
)

func testVocab() map[string]int {
	return map[string]int{
		"h": 0, "e": 1, "l": 2, "o": 3,
		"he": 4, "ll": 5, "hell": 6, "hello": 7,
		"Ġ": 8, "w": 9, "r": 10, "d": 11,
		"Ġw": 12, "or": 13,
		endOfText: 14,
	}
}

func testMerges() []string {
	return []string{
		"#version: 0.2",
		"h e",
		"l l",
		"he ll",
		"hell o",
		"Ġ w",
		"o r",
	}
}

func TestGPT2EncodeAppliesMergesInRankOrder(t *testing.T) {
	tk, err := NewGPT2(testVocab(), testMerges())
	if err != nil {
		t.Fatalf("NewGPT2: %v", err)
	}
	ids, err := tk.Encode("hello world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []int{7, 12, 13, 2, 11}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestGPT2RoundTrip(t *testing.T) {
	tk, err := NewGPT2(testVocab(), testMerges())
	if err != nil {
		t.Fatalf("NewGPT2: %v", err)
	}
	for _, text := range []string{"hello", "hello world", " world"} {
		ids, err := tk.Encode(text)
		if err != nil {
			t.Fatalf("Encode(%q): %v", text, err)
		}
		got, err := tk.Decode(ids)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != text {
			t.Fatalf("round trip of %q = %q", text, got)
		}
	}
}

func TestGPT2SpecialTokens(t *testing.T) {
	tk, err := NewGPT2(testVocab(), testMerges())
	if err != nil {
		t.Fatalf("NewGPT2: %v", err)
	}
	if tk.EOSID() != 14 {
		t.Fatalf("EOSID = %d, want 14", tk.EOSID())
	}
	ids, err := tk.Encode("hello<|endoftext|>hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []int{7, 14, 7}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestGPT2RejectsVocabWithoutEOS(t *testing.T) {
	vocab := testVocab()
	delete(vocab, endOfText)
	if _, err := NewGPT2(vocab, testMerges()); err == nil {
		t.Fatal("expected an error for a vocabulary without EOS")
	}
}

func TestGPT2DecodeRejectsBadID(t *testing.T) {
	tk, err := NewGPT2(testVocab(), testMerges())
	if err != nil {
		t.Fatalf("NewGPT2: %v", err)
	}
	if _, err := tk.Decode([]int{999}); err == nil {
		t.Fatal("expected an error for an out-of-range id")
	}
}

func TestLoadGPT2FromDir(t *testing.T) {
	dir := t.TempDir()
	vocabJSON := `{"h":0,"e":1,"l":2,"o":3,"he":4,"ll":5,"hell":6,"hello":7,"<|endoftext|>":8}`
	if err := os.WriteFile(filepath.Join(dir, "vocab.json"), []byte(vocabJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	merges := "h e\nl l\nhe ll\nhell o\n"
	if err := os.WriteFile(filepath.Join(dir, "merges.txt"), []byte(merges), 0o644); err != nil {
		t.Fatal(err)
	}

	tk, err := LoadGPT2(dir)
	if err != nil {
		t.Fatalf("LoadGPT2: %v", err)
	}
	ids, err := tk.Encode("hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(ids) != 1 || ids[0] != 7 {
		t.Fatalf("ids = %v, want [7]", ids)
	}
}

func TestByteTokenizerRoundTrip(t *testing.T) {
	tk := NewByte()
	text := "kiln fires at 1200°C"
	ids, err := tk.Encode(text)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := tk.Decode(ids)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != text {
		t.Fatalf("round trip = %q, want %q", got, text)
	}
	if tk.EOSID() != 256 || tk.VocabSize() != 257 {
		t.Fatalf("EOSID/VocabSize = %d/%d, want 256/257", tk.EOSID(), tk.VocabSize())
	}
}

func TestOpenSelectsImplementation(t *testing.T) {
	tk, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := tk.(*ByteTokenizer); !ok {
		t.Fatalf("Open(\"\") = %T, want *ByteTokenizer", tk)
	}
}
