// Package checkpoint loads, filters and applies named parameter tensors.
//
// A checkpoint is a flat state dict: parameter name to tensor. Names use the
// dotted module paths of the training framework ("transformer.head.weight",
// "first_stage_model.quantize.embedding.weight"), so partial restores work by
// prefix.
package checkpoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/safetensors"
)

var (
	ErrKeyMismatch       = errors.New("checkpoint: state dict keys do not match")
	ErrUnsupportedFormat = errors.New("checkpoint: unsupported format")
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

func (t Tensor) numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// StateDict maps parameter names to tensors.
type StateDict map[string]Tensor

// Names returns the parameter names in sorted order.
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter returns a copy of sd without the keys that start with any of the
// ignore prefixes. Every dropped key is logged.
func (sd StateDict) Filter(ignore []string, log logger.Logger) StateDict {
	if log == nil {
		log = logger.Discard()
	}
	out := make(StateDict, len(sd))
	for _, name := range sd.Names() {
		drop := false
		for _, prefix := range ignore {
			if prefix != "" && strings.HasPrefix(name, prefix) {
				drop = true
				break
			}
		}
		if drop {
			log.Info("deleting key from state dict", "key", name)
			continue
		}
		out[name] = sd[name]
	}
	return out
}

// Sub returns the entries under prefix with the prefix stripped. A trailing
// dot is added to prefix when missing.
func (sd StateDict) Sub(prefix string) StateDict {
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	out := make(StateDict)
	for name, t := range sd {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			out[rest] = t
		}
	}
	return out
}

// Module is anything with named parameter slots. The returned tensors must
// alias the module's storage so Apply can write into them.
type Module interface {
	Params() StateDict
}

// LoadResult lists the keys that did not line up during a non-strict load.
type LoadResult struct {
	Missing    []string
	Unexpected []string
}

// Apply copies sd into the parameters of m. A strict load fails with
// ErrKeyMismatch when any key is missing or unexpected; a non-strict load
// copies the overlap and reports both lists. Shape disagreements on a shared
// key are always an error.
func Apply(m Module, sd StateDict, strict bool) (LoadResult, error) {
	params := m.Params()
	var res LoadResult
	for name := range params {
		if _, ok := sd[name]; !ok {
			res.Missing = append(res.Missing, name)
		}
	}
	for name := range sd {
		if _, ok := params[name]; !ok {
			res.Unexpected = append(res.Unexpected, name)
		}
	}
	sort.Strings(res.Missing)
	sort.Strings(res.Unexpected)
	if strict && (len(res.Missing) > 0 || len(res.Unexpected) > 0) {
		return res, fmt.Errorf("%w: missing %v, unexpected %v", ErrKeyMismatch, res.Missing, res.Unexpected)
	}

	for name, dst := range params {
		src, ok := sd[name]
		if !ok {
			continue
		}
		if !slices.Equal(dst.Shape, src.Shape) || len(src.Data) != len(dst.Data) {
			return res, fmt.Errorf("checkpoint: %s: shape %v does not match parameter %v", name, src.Shape, dst.Shape)
		}
		copy(dst.Data, src.Data)
	}
	return res, nil
}

// Collect snapshots the parameters of m into an independent state dict.
func Collect(m Module) StateDict {
	params := m.Params()
	out := make(StateDict, len(params))
	for name, t := range params {
		out[name] = Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
	}
	return out
}

// Load reads a checkpoint, choosing the decoder from the file extension:
// .safetensors, or .ckpt/.pt/.pth for PyTorch pickles.
func Load(path string) (StateDict, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return LoadSafetensors(path)
	case ".ckpt", ".pt", ".pth", ".bin":
		return LoadTorch(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadSafetensors reads every tensor of a safetensors file.
func LoadSafetensors(path string) (StateDict, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sd := make(StateDict, len(f.Tensors))
	for _, name := range f.Names() {
		data, info, err := f.ReadTensorF32(name)
		if err != nil {
			return nil, err
		}
		sd[name] = Tensor{Shape: slices.Clone(info.Shape), Data: data}
	}
	return sd, nil
}

// Save writes sd as a safetensors file in the given dtype (F32, F16 or BF16).
func Save(path string, sd StateDict, dtype string) error {
	tensors := make(map[string]safetensors.Tensor, len(sd))
	for name, t := range sd {
		if t.numel() != len(t.Data) {
			return fmt.Errorf("checkpoint: %s: shape %v holds %d values", name, t.Shape, len(t.Data))
		}
		tensors[name] = safetensors.Tensor{DType: dtype, Shape: t.Shape, Data: t.Data}
	}
	return safetensors.Write(path, tensors, map[string]string{"format": "phylonn"})
}
