package tensor

import "fmt"

// Quant is a quantized latent laid out (batch, channels, height, width).
// The hierarchical backbone uses height for code positions and width for
// hierarchy levels, so concatenating phylo and non-phylo latents happens on
// the width axis.
type Quant struct {
	B, C, H, W int
	Data       []float32
}

// NewQuant allocates a zeroed latent.
func NewQuant(b, c, h, w int) Quant {
	if b < 0 || c < 0 || h < 0 || w < 0 {
		panic("negative dimension for quant")
	}
	return Quant{B: b, C: c, H: h, W: w, Data: make([]float32, b*c*h*w)}
}

// Shape returns the (B, C, H, W) dimensions.
func (q Quant) Shape() [4]int { return [4]int{q.B, q.C, q.H, q.W} }

func (q Quant) offset(b, c, h, w int) int {
	return ((b*q.C+c)*q.H+h)*q.W + w
}

func (q Quant) At(b, c, h, w int) float32 { return q.Data[q.offset(b, c, h, w)] }

func (q Quant) Set(b, c, h, w int, v float32) { q.Data[q.offset(b, c, h, w)] = v }

// ConcatW joins two latents along the width (level) axis.
func ConcatW(a, b Quant) (Quant, error) {
	if a.B != b.B || a.C != b.C || a.H != b.H {
		return Quant{}, fmt.Errorf("%w: concat %v with %v", ErrShape, a.Shape(), b.Shape())
	}
	out := NewQuant(a.B, a.C, a.H, a.W+b.W)
	for bi := 0; bi < a.B; bi++ {
		for c := 0; c < a.C; c++ {
			for h := 0; h < a.H; h++ {
				dst := out.offset(bi, c, h, 0)
				copy(out.Data[dst:dst+a.W], a.Data[a.offset(bi, c, h, 0):a.offset(bi, c, h, 0)+a.W])
				copy(out.Data[dst+a.W:dst+a.W+b.W], b.Data[b.offset(bi, c, h, 0):b.offset(bi, c, h, 0)+b.W])
			}
		}
	}
	return out, nil
}

// SplitW is the inverse of ConcatW: the first w columns go left.
func (q Quant) SplitW(w int) (Quant, Quant, error) {
	if w < 0 || w > q.W {
		return Quant{}, Quant{}, fmt.Errorf("%w: split width %d of %d", ErrShape, w, q.W)
	}
	left := NewQuant(q.B, q.C, q.H, w)
	right := NewQuant(q.B, q.C, q.H, q.W-w)
	for b := 0; b < q.B; b++ {
		for c := 0; c < q.C; c++ {
			for h := 0; h < q.H; h++ {
				src := q.offset(b, c, h, 0)
				copy(left.Data[left.offset(b, c, h, 0):], q.Data[src:src+w])
				copy(right.Data[right.offset(b, c, h, 0):], q.Data[src+w:src+q.W])
			}
		}
	}
	return left, right, nil
}
