package checkpoint

import (
	"container/list"
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

// LoadTorch reads a PyTorch checkpoint. Both a bare state dict and a
// Lightning checkpoint (a dict holding "state_dict") are accepted; entries
// that are not tensors are skipped.
func LoadTorch(path string) (StateDict, error) {
	obj, err := pytorch.Load(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", path, err)
	}
	if inner, ok := lookup(obj, "state_dict"); ok {
		obj = inner
	}

	sd := make(StateDict)
	err = each(obj, func(key, value any) error {
		name, ok := key.(string)
		if !ok {
			return nil
		}
		t, ok := value.(*pytorch.Tensor)
		if !ok {
			return nil
		}
		tensor, err := fromTorch(t)
		if err != nil {
			return fmt.Errorf("checkpoint: %s: %w", name, err)
		}
		sd[name] = tensor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sd, nil
}

func lookup(obj any, key string) (any, bool) {
	switch d := obj.(type) {
	case *types.Dict:
		return d.Get(key)
	case *types.OrderedDict:
		return d.Get(key)
	}
	return nil, false
}

func each(obj any, fn func(key, value any) error) error {
	switch d := obj.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			if err := fn(k, d.MustGet(k)); err != nil {
				return err
			}
		}
		return nil
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := entryOf(e)
			if entry == nil {
				continue
			}
			if err := fn(entry.Key, entry.Value); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: top-level object is %T", ErrUnsupportedFormat, obj)
	}
}

func entryOf(e *list.Element) *types.OrderedDictEntry {
	entry, _ := e.Value.(*types.OrderedDictEntry)
	return entry
}

// fromTorch materialises a (possibly strided) torch tensor as a dense
// row-major float32 tensor.
func fromTorch(t *pytorch.Tensor) (Tensor, error) {
	var get func(i int) float32
	var size int
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		get, size = func(i int) float32 { return s.Data[i] }, len(s.Data)
	case *pytorch.HalfStorage:
		get, size = func(i int) float32 { return s.Data[i] }, len(s.Data)
	case *pytorch.BFloat16Storage:
		get, size = func(i int) float32 { return s.Data[i] }, len(s.Data)
	case *pytorch.DoubleStorage:
		get, size = func(i int) float32 { return float32(s.Data[i]) }, len(s.Data)
	default:
		return Tensor{}, fmt.Errorf("%w: storage %T", ErrUnsupportedFormat, t.Source)
	}

	shape := append([]int(nil), t.Size...)
	stride := t.Stride
	if len(stride) != len(shape) {
		stride = contiguousStride(shape)
	}
	out := Tensor{Shape: shape}
	n := out.numel()
	out.Data = make([]float32, n)
	idx := make([]int, len(shape))
	for i := 0; i < n; i++ {
		off := t.StorageOffset
		for d := range idx {
			off += idx[d] * stride[d]
		}
		if off < 0 || off >= size {
			return Tensor{}, fmt.Errorf("storage offset %d out of range %d", off, size)
		}
		out.Data[i] = get(off)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out, nil
}

func contiguousStride(shape []int) []int {
	stride := make([]int, len(shape))
	acc := 1
	for d := len(shape) - 1; d >= 0; d-- {
		stride[d] = acc
		acc *= shape[d]
	}
	return stride
}
