package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// writeRaw writes a safetensors file from an arbitrary header and payload so
// malformed files can be produced.
func writeRaw(t *testing.T, path string, header map[string]any, payload []byte) {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	buf := append(lenBuf[:], headerBytes...)
	buf = append(buf, payload...)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestWriteThenOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "codebook.safetensors")
	want := map[string]Tensor{
		"first_stage.quantize.embedding.weight": {Shape: []int{4, 2}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}},
		"transformer.head.bias":                 {Shape: []int{3}, Data: []float32{-1, 0, 1}},
	}
	if err := Write(path, want, map[string]string{"format": "phylonn"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if diff := cmp.Diff([]string{"first_stage.quantize.embedding.weight", "transformer.head.bias"}, f.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if f.Metadata["format"] != "phylonn" {
		t.Fatalf("metadata not preserved: %v", f.Metadata)
	}
	for name, tensor := range want {
		got, info, err := f.ReadTensorF32(name)
		if err != nil {
			t.Fatalf("ReadTensorF32(%s): %v", name, err)
		}
		if info.DType != "F32" {
			t.Fatalf("%s: dtype %q", name, info.DType)
		}
		if diff := cmp.Diff(tensor.Data, got); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff(tensor.Shape, info.Shape); diff != "" {
			t.Fatalf("%s shape mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestWriteHalfPrecision(t *testing.T) {
	t.Parallel()
	values := []float32{1, -2, 0.5, 0}
	tests := []struct {
		dtype string
	}{
		{dtype: "F16"},
		{dtype: "BF16"},
	}
	for _, tt := range tests {
		t.Run(tt.dtype, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "half.safetensors")
			err := Write(path, map[string]Tensor{"w": {DType: tt.dtype, Shape: []int{2, 2}, Data: values}}, nil)
			if err != nil {
				t.Fatalf("Write: %v", err)
			}
			f, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer func() { _ = f.Close() }()
			got, info, err := f.ReadTensorF32("w")
			if err != nil {
				t.Fatalf("ReadTensorF32: %v", err)
			}
			if info.DType != tt.dtype {
				t.Fatalf("dtype = %q, want %q", info.DType, tt.dtype)
			}
			// all values are exactly representable in both formats
			if diff := cmp.Diff(values, got); diff != "" {
				t.Fatalf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	err := Write(path, map[string]Tensor{"w": {Shape: []int{3}, Data: []float32{1, 2}}}, nil)
	if err == nil {
		t.Fatal("expected error for shape mismatch")
	}
}

func TestWriteRejectsUnknownDType(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	err := Write(path, map[string]Tensor{"w": {DType: "Q4", Shape: []int{1}, Data: []float32{1}}}, nil)
	if err == nil {
		t.Fatal("expected error for unknown dtype")
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	truncated := filepath.Join(dir, "truncated.safetensors")
	if err := os.WriteFile(truncated, []byte{0, 0, 0, 0}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	badJSON := filepath.Join(dir, "json.safetensors")
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 12)
	if err := os.WriteFile(badJSON, append(lenBuf[:], []byte("not valid js")...), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	hugeHeader := filepath.Join(dir, "huge.safetensors")
	binary.LittleEndian.PutUint64(lenBuf[:], 1<<40)
	if err := os.WriteFile(hugeHeader, append(lenBuf[:], '{', '}'), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	badOffsets := filepath.Join(dir, "offsets.safetensors")
	writeRaw(t, badOffsets, map[string]any{
		"bad": map[string]any{"dtype": "F32", "shape": []int{1}, "data_offsets": []int64{0}},
	}, nil)

	tests := []struct {
		name    string
		path    string
		corrupt bool
	}{
		{name: "missing", path: filepath.Join(dir, "nope.safetensors")},
		{name: "truncated", path: truncated, corrupt: true},
		{name: "invalid json", path: badJSON, corrupt: true},
		{name: "header too large", path: hugeHeader, corrupt: true},
		{name: "bad offsets", path: badOffsets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.corrupt && !errors.Is(err, ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestReadTensorErrors(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "errors.safetensors")
	writeRaw(t, path, map[string]any{
		"ints":     map[string]any{"dtype": "I32", "shape": []int{2}, "data_offsets": []int64{0, 8}},
		"short":    map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 8}},
		"overflow": map[string]any{"dtype": "F32", "shape": []int{4}, "data_offsets": []int64{0, 64}},
	}, make([]byte, 8))

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, _, err := f.ReadTensor("missing"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("expected ErrTensorNotFound, got %v", err)
	}
	for _, name := range []string{"ints", "short", "overflow"} {
		if _, _, err := f.ReadTensorF32(name); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "close.safetensors")
	if err := Write(path, map[string]Tensor{"w": {Shape: []int{1}, Data: []float32{1}}}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
