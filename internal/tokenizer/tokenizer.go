// Package tokenizer maps text to token ids and back. Two implementations
// are provided: a GPT-2 style byte-level BPE tokenizer loaded from
// vocab.json and merges.txt, and a self-contained byte tokenizer that
// needs no assets. The EOS id doubles as the document separator during
// training and the stop condition during generation.
package tokenizer

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	EOSID() int
	VocabSize() int
}

// Open returns the tokenizer for dir: a GPT-2 BPE tokenizer when dir is
// set (expecting vocab.json and merges.txt inside), otherwise the
// asset-free byte tokenizer.
func Open(dir string) (Tokenizer, error) {
	if dir == "" {
		return NewByte(), nil
	}
	return LoadGPT2(dir)
}
