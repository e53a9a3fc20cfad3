// Package checkpoint persists model weights in a single-file container
// using the safetensors layout: an 8-byte little-endian header length, a
// JSON header mapping tensor names to dtype, shape and byte offsets, and
// a raw little-endian float32 payload.
//
// The header's __metadata__ block carries caller metadata (run id, model
// configuration) plus an xxhash64 checksum per tensor, verified on load.
// Saving and loading the same weights round-trips bit-exactly.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/samcharles93/kiln/internal/model"
)

const dtypeF32 = "F32"

type tensorHeader struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Save writes the parameters and metadata to path. The file is written to
// a temporary sibling first and renamed into place, so readers never see
// a partial checkpoint.
func Save(path string, params []model.Parameter, meta map[string]string) error {
	header := make(map[string]json.RawMessage, len(params)+1)

	metaOut := make(map[string]string, len(meta)+len(params))
	for k, v := range meta {
		metaOut[k] = v
	}

	offset := 0
	for _, p := range params {
		raw := f32Bytes(p.Data)
		metaOut["checksum."+p.Name] = fmt.Sprintf("%016x", xxhash.Sum64(raw))

		th := tensorHeader{
			Dtype:       dtypeF32,
			Shape:       p.Shape,
			DataOffsets: [2]int{offset, offset + len(raw)},
		}
		enc, err := json.Marshal(th)
		if err != nil {
			return fmt.Errorf("encoding header for %s: %w", p.Name, err)
		}
		header[p.Name] = enc
		offset += len(raw)
	}

	metaEnc, err := json.Marshal(metaOut)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	header["__metadata__"] = metaEnc

	headerBytes, err := marshalSorted(header)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	if _, err := tmp.Write(lenBuf[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header length: %w", err)
	}
	if _, err := tmp.Write(headerBytes); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	for _, p := range params {
		if _, err := tmp.Write(f32Bytes(p.Data)); err != nil {
			tmp.Close()
			return fmt.Errorf("writing tensor %s: %w", p.Name, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}
	return nil
}

// Load reads the checkpoint at path into the given parameters, which must
// match the stored tensors in name and shape. It returns the stored
// metadata. Checksums are verified before any data is copied into the
// model.
func Load(path string, params []model.Parameter) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	headers, meta, dataStart, err := readHeader(f)
	if err != nil {
		return nil, err
	}

	if len(headers) != len(params) {
		return nil, fmt.Errorf("%w: checkpoint has %d tensors, model has %d",
			model.ErrWeightMismatch, len(headers), len(params))
	}
	for _, p := range params {
		th, ok := headers[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: checkpoint is missing tensor %s", model.ErrWeightMismatch, p.Name)
		}
		if th.Dtype != dtypeF32 {
			return nil, fmt.Errorf("%w: tensor %s has dtype %s, want %s",
				model.ErrWeightMismatch, p.Name, th.Dtype, dtypeF32)
		}
		if !shapeEqual(th.Shape, p.Shape) {
			return nil, fmt.Errorf("%w: tensor %s has shape %v, model wants %v",
				model.ErrWeightMismatch, p.Name, th.Shape, p.Shape)
		}
		if th.DataOffsets[1]-th.DataOffsets[0] != 4*len(p.Data) {
			return nil, fmt.Errorf("%w: tensor %s has %d bytes, want %d",
				model.ErrWeightMismatch, p.Name, th.DataOffsets[1]-th.DataOffsets[0], 4*len(p.Data))
		}
	}

	for _, p := range params {
		th := headers[p.Name]
		raw := make([]byte, th.DataOffsets[1]-th.DataOffsets[0])
		if _, err := f.ReadAt(raw, dataStart+int64(th.DataOffsets[0])); err != nil {
			return nil, fmt.Errorf("reading tensor %s: %w", p.Name, err)
		}
		if want, ok := meta["checksum."+p.Name]; ok {
			got := fmt.Sprintf("%016x", xxhash.Sum64(raw))
			if got != want {
				return nil, fmt.Errorf("%w: tensor %s checksum %s does not match stored %s",
					model.ErrWeightMismatch, p.Name, got, want)
			}
		}
		for i := range p.Data {
			p.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	}
	return meta, nil
}

// ReadMeta returns the metadata block of the checkpoint at path without
// touching tensor data.
func ReadMeta(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()
	_, meta, _, err := readHeader(f)
	return meta, err
}

func readHeader(f *os.File) (map[string]tensorHeader, map[string]string, int64, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, nil, 0, fmt.Errorf("reading header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > 256<<20 {
		return nil, nil, 0, fmt.Errorf("unreasonable header length %d", headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, nil, 0, fmt.Errorf("reading header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, nil, 0, fmt.Errorf("parsing header: %w", err)
	}

	meta := map[string]string{}
	if m, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, nil, 0, fmt.Errorf("parsing metadata: %w", err)
		}
		delete(raw, "__metadata__")
	}

	headers := make(map[string]tensorHeader, len(raw))
	for name, enc := range raw {
		var th tensorHeader
		if err := json.Unmarshal(enc, &th); err != nil {
			return nil, nil, 0, fmt.Errorf("parsing header for %s: %w", name, err)
		}
		headers[name] = th
	}
	return headers, meta, int64(8 + headerLen), nil
}

// marshalSorted encodes the header with deterministic key order so the
// same weights always produce the same file.
func marshalSorted(header map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, header[k]...)
	}
	return append(out, '}'), nil
}

func f32Bytes(data []float32) []byte {
	out := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
