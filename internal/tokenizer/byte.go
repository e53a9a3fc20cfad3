package tokenizer

import "fmt"

// byteEOS is the id reserved after the 256 byte values.
const byteEOS = 256

// ByteTokenizer maps every byte to its own id. It trades sequence length
// for a tiny vocabulary and zero external assets, which suits small
// training runs.
type ByteTokenizer struct{}

// NewByte returns the byte-level tokenizer.
func NewByte() *ByteTokenizer { return &ByteTokenizer{} }

func (t *ByteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (t *ByteTokenizer) Decode(ids []int) (string, error) {
	b := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id == byteEOS {
			continue
		}
		if id < 0 || id > 255 {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		b = append(b, byte(id))
	}
	return string(b), nil
}

func (t *ByteTokenizer) EOSID() int     { return byteEOS }
func (t *ByteTokenizer) VocabSize() int { return byteEOS + 1 }
