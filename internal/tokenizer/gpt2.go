package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

const endOfText = "<|endoftext|>"

// pair is a candidate BPE merge.
type pair struct {
	a, b string
}

// GPT2Tokenizer is a byte-level BPE tokenizer compatible with GPT-2
// vocab.json and merges.txt assets.
type GPT2Tokenizer struct {
	encoder     map[string]int
	decoder     []string
	merges      map[pair]int
	cache       map[string][]string
	byteEncoder map[byte]string
	byteDecoder map[string]byte
	pattern     *regexp.Regexp
	special     []string
	eosID       int
}

// LoadGPT2 reads vocab.json and merges.txt from dir. The vocabulary must
// contain the <|endoftext|> token, which becomes the EOS id.
func LoadGPT2(dir string) (*GPT2Tokenizer, error) {
	vocabRaw, err := os.ReadFile(filepath.Join(dir, "vocab.json"))
	if err != nil {
		return nil, fmt.Errorf("reading vocab: %w", err)
	}
	var encoder map[string]int
	if err := json.Unmarshal(vocabRaw, &encoder); err != nil {
		return nil, fmt.Errorf("parsing vocab: %w", err)
	}
	if len(encoder) == 0 {
		return nil, fmt.Errorf("empty vocabulary in %s", dir)
	}

	mergesRaw, err := os.ReadFile(filepath.Join(dir, "merges.txt"))
	if err != nil {
		return nil, fmt.Errorf("reading merges: %w", err)
	}

	return NewGPT2(encoder, strings.Split(string(mergesRaw), "\n"))
}

// NewGPT2 builds the tokenizer from an in-memory vocabulary and merge
// list. Merge lines are "left right"; blank lines and # comments are
// skipped.
func NewGPT2(encoder map[string]int, mergeLines []string) (*GPT2Tokenizer, error) {
	maxID := -1
	for _, id := range encoder {
		if id > maxID {
			maxID = id
		}
	}
	decoder := make([]string, maxID+1)
	for tok, id := range encoder {
		if id < 0 {
			return nil, fmt.Errorf("negative id %d for token %q", id, tok)
		}
		decoder[id] = tok
	}

	eosID, ok := encoder[endOfText]
	if !ok {
		return nil, fmt.Errorf("vocabulary has no %s token", endOfText)
	}

	merges := make(map[pair]int, len(mergeLines))
	rank := 0
	for _, line := range mergeLines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			continue
		}
		p := pair{a: parts[0], b: parts[1]}
		if _, dup := merges[p]; !dup {
			merges[p] = rank
			rank++
		}
	}

	byteEncoder, byteDecoder := bytesToUnicode()
	// Go regexp has no lookahead; the trailing-whitespace branch of the
	// GPT-2 pattern collapses into a plain \s+ match.
	pattern := regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

	return &GPT2Tokenizer{
		encoder:     encoder,
		decoder:     decoder,
		merges:      merges,
		cache:       make(map[string][]string),
		byteEncoder: byteEncoder,
		byteDecoder: byteDecoder,
		pattern:     pattern,
		special:     collectSpecials(encoder),
		eosID:       eosID,
	}, nil
}

func (t *GPT2Tokenizer) Encode(text string) ([]int, error) {
	var ids []int
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		for _, chunk := range t.pattern.FindAllString(part.text, -1) {
			var sb strings.Builder
			for i := 0; i < len(chunk); i++ {
				sb.WriteString(t.byteEncoder[chunk[i]])
			}
			for _, tok := range t.bpe(sb.String()) {
				id, ok := t.encoder[tok]
				if !ok {
					return nil, fmt.Errorf("token %q not in vocabulary", tok)
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (t *GPT2Tokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		for _, r := range t.decoder[id] {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *GPT2Tokenizer) EOSID() int     { return t.eosID }
func (t *GPT2Tokenizer) VocabSize() int { return len(t.decoder) }

// bpe merges the byte-encoded chunk bottom-up, always taking the
// lowest-ranked adjacent pair next.
func (t *GPT2Tokenizer) bpe(chunk string) []string {
	if cached, ok := t.cache[chunk]; ok {
		return cached
	}
	word := make([]string, 0, len(chunk))
	for _, r := range chunk {
		word = append(word, string(r))
	}
	for len(word) > 1 {
		best := pair{}
		bestRank := -1
		for i := 0; i < len(word)-1; i++ {
			p := pair{a: word[i], b: word[i+1]}
			if rank, ok := t.merges[p]; ok && (bestRank < 0 || rank < bestRank) {
				best = p
				bestRank = rank
			}
		}
		if bestRank < 0 {
			break
		}
		word = applyMerge(word, best)
	}
	t.cache[chunk] = word
	return word
}

// applyMerge joins every adjacent occurrence of p in word.
func applyMerge(word []string, p pair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		if i+1 < len(word) && word[i] == p.a && word[i+1] == p.b {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

type textPart struct {
	text      string
	isSpecial bool
}

// collectSpecials returns the <|...|> tokens of the vocabulary, longest
// first so that splitSpecials prefers the longest match.
func collectSpecials(encoder map[string]int) []string {
	var out []string
	for tok := range encoder {
		if len(tok) >= 4 && strings.HasPrefix(tok, "<|") && strings.HasSuffix(tok, "|>") {
			out = append(out, tok)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// splitSpecials cuts text around special-token occurrences so they map to
// single ids instead of going through BPE.
func splitSpecials(text string, specials []string) []textPart {
	if len(specials) == 0 || !strings.Contains(text, "<|") {
		return []textPart{{text: text}}
	}
	var parts []textPart
	var buf strings.Builder
	for i := 0; i < len(text); {
		matched := ""
		for _, sp := range specials {
			if i+len(sp) <= len(text) && text[i:i+len(sp)] == sp {
				matched = sp
				break
			}
		}
		if matched == "" {
			buf.WriteByte(text[i])
			i++
			continue
		}
		if buf.Len() > 0 {
			parts = append(parts, textPart{text: buf.String()})
			buf.Reset()
		}
		parts = append(parts, textPart{text: matched, isSpecial: true})
		i += len(matched)
	}
	if buf.Len() > 0 {
		parts = append(parts, textPart{text: buf.String()})
	}
	return parts
}

// bytesToUnicode builds the reversible byte-to-printable-rune mapping
// used by GPT-2 vocabularies.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	present := make(map[int]bool, len(bs))
	for _, v := range bs {
		present[v] = true
	}
	cs := append([]int(nil), bs...)
	n := 0
	for b := 0; b < 256; b++ {
		if !present[b] {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	enc := make(map[byte]string, len(bs))
	dec := make(map[string]byte, len(bs))
	for i := range bs {
		s := string(rune(cs[i]))
		enc[byte(bs[i])] = s
		dec[s] = byte(bs[i])
	}
	return enc, dec
}
