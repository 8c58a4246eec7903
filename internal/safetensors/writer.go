package safetensors

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor is a float tensor to be written. DType selects the on-disk encoding
// and defaults to F32.
type Tensor struct {
	DType string
	Shape []int
	Data  []float32
}

// Write stores tensors in the safetensors format. Tensors are laid out in
// name order so identical inputs produce identical files.
func Write(path string, tensors map[string]Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	payloads := make([][]byte, 0, len(names))
	var offset int64
	for _, name := range names {
		t := tensors[name]
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v needs %d values, got %d", name, t.Shape, n, len(t.Data))
		}
		dtype := t.DType
		if dtype == "" {
			dtype = "F32"
		}
		raw, err := encode(dtype, t.Data)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		header[name] = tensorHeader{
			DType:       dtype,
			Shape:       t.Shape,
			DataOffsets: []int64{offset, offset + int64(len(raw))},
		}
		offset += int64(len(raw))
		payloads = append(payloads, raw)
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	// pad the header so the payload starts 8-byte aligned
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		_ = f.Close()
		return err
	}
	for _, p := range payloads {
		if _, err := w.Write(p); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encode(dtype string, data []float32) ([]byte, error) {
	switch dtype {
	case "F32":
		out := make([]byte, len(data)*4)
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case "F16":
		out := make([]byte, len(data)*2)
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	case "BF16":
		return bfloat16.EncodeFloat32(data), nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
}
