package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/kiln/internal/model"
)

func tinyArgs() model.Args {
	return model.Args{
		Dim:        8,
		NLayers:    1,
		NHeads:     2,
		NKVHeads:   1,
		VocabSize:  16,
		MultipleOf: 4,
		MaxSeqLen:  8,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	src, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src.InitRandom(42)

	path := filepath.Join(t.TempDir(), "model.safetensors")
	meta := map[string]string{"run_id": "test-run"}
	if err := Save(path, src.Parameters(), meta); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gotMeta, err := Load(path, dst.Parameters())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotMeta["run_id"] != "test-run" {
		t.Errorf("run_id = %q, want test-run", gotMeta["run_id"])
	}

	sp, dp := src.Parameters(), dst.Parameters()
	for i := range sp {
		for j := range sp[i].Data {
			if sp[i].Data[j] != dp[i].Data[j] {
				t.Fatalf("%s[%d] = %v after round trip, want %v",
					sp[i].Name, j, dp[i].Data[j], sp[i].Data[j])
			}
		}
	}

	// Same weights, same input: logits must match bit for bit.
	tokens := [][]int{{1, 2, 3}}
	want, err := src.Forward(tokens, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	got, err := dst.Forward(tokens, 0)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("logit %d = %v after reload, want %v", i, got[i], want[i])
		}
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	m, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.InitRandom(1)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.safetensors")
	b := filepath.Join(dir, "b.safetensors")
	if err := Save(a, m.Parameters(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(b, m.Parameters(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ab, _ := os.ReadFile(a)
	bb, _ := os.ReadFile(b)
	if string(ab) != string(bb) {
		t.Fatal("identical weights produced different files")
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	src, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := Save(path, src.Parameters(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	other := tinyArgs()
	other.Dim = 16
	dst, err := model.New(other)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := Load(path, dst.Parameters()); !errors.Is(err, model.ErrWeightMismatch) {
		t.Fatalf("error = %v, want ErrWeightMismatch", err)
	}
}

func TestLoadRejectsLayerCountMismatch(t *testing.T) {
	src, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := Save(path, src.Parameters(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	other := tinyArgs()
	other.NLayers = 2
	dst, err := model.New(other)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := Load(path, dst.Parameters()); !errors.Is(err, model.ErrWeightMismatch) {
		t.Fatalf("error = %v, want ErrWeightMismatch", err)
	}
}

func TestLoadDetectsCorruption(t *testing.T) {
	src, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src.InitRandom(3)
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := Save(path, src.Parameters(), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Flip a byte near the end of the payload.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-5] ^= 0xff
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := Load(path, dst.Parameters()); !errors.Is(err, model.ErrWeightMismatch) {
		t.Fatalf("error = %v, want ErrWeightMismatch", err)
	}
}

func TestReadMeta(t *testing.T) {
	m, err := model.New(tinyArgs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.safetensors")
	if err := Save(path, m.Parameters(), map[string]string{"config": "{}"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	meta, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta["config"] != "{}" {
		t.Errorf("config = %q, want {}", meta["config"])
	}
}
