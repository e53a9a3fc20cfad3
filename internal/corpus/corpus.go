// Package corpus prepares next-token training data: documents are
// tokenized, joined with the tokenizer's EOS id and cut into fixed-length
// chunks with shifted-by-one labels.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samcharles93/kiln/internal/tokenizer"
)

// IgnoreIndex marks label positions the loss skips. The last position of
// every chunk carries it, since its target lies in the next chunk.
const IgnoreIndex = -100

// Batch is one training step's worth of sequences, inputs and labels in
// matching [batch][seq] layout.
type Batch struct {
	Inputs [][]int
	Labels [][]int
}

// Dataset is a tokenized corpus cut into equal-length chunks.
type Dataset struct {
	chunks [][]int
	seqLen int
}

// Load tokenizes every .txt file under dir (sorted by name, so the
// resulting ids are stable) and builds a dataset of seqLen-sized chunks.
func Load(dir string, tk tokenizer.Tokenizer, seqLen int) (*Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .txt documents in %s", dir)
	}
	sort.Strings(names)

	docs := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading document %s: %w", name, err)
		}
		docs = append(docs, string(raw))
	}
	return FromDocuments(docs, tk, seqLen)
}

// FromDocuments tokenizes the documents, joins them with EOS and chunks
// the id stream. A trailing remainder shorter than seqLen is dropped.
func FromDocuments(docs []string, tk tokenizer.Tokenizer, seqLen int) (*Dataset, error) {
	if seqLen < 2 {
		return nil, fmt.Errorf("sequence length %d too short for shifted labels", seqLen)
	}
	var ids []int
	for i, doc := range docs {
		enc, err := tk.Encode(doc)
		if err != nil {
			return nil, fmt.Errorf("tokenizing document %d: %w", i, err)
		}
		ids = append(ids, enc...)
		ids = append(ids, tk.EOSID())
	}

	var chunks [][]int
	for start := 0; start+seqLen <= len(ids); start += seqLen {
		chunk := make([]int, seqLen)
		copy(chunk, ids[start:start+seqLen])
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("corpus has %d tokens, need at least %d for one chunk", len(ids), seqLen)
	}
	return &Dataset{chunks: chunks, seqLen: seqLen}, nil
}

// Len returns the number of chunks.
func (d *Dataset) Len() int { return len(d.chunks) }

// SeqLen returns the chunk length.
func (d *Dataset) SeqLen() int { return d.seqLen }

// Batch assembles the chunks at the given indices. Labels are the inputs
// shifted left by one; the final position of each row is IgnoreIndex.
func (d *Dataset) Batch(indices []int) Batch {
	inputs := make([][]int, len(indices))
	labels := make([][]int, len(indices))
	for i, idx := range indices {
		chunk := d.chunks[idx]
		inputs[i] = chunk
		row := make([]int, d.seqLen)
		copy(row, chunk[1:])
		row[d.seqLen-1] = IgnoreIndex
		labels[i] = row
	}
	return Batch{Inputs: inputs, Labels: labels}
}
