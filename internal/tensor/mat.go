package tensor

import (
	"errors"
	"math/rand"
)

// ErrShape is returned when tensor dimensions disagree with their data.
var ErrShape = errors.New("tensor: shape mismatch")

// Mat represents a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows and equals C for every
// matrix built by this package. Codebooks are stored as [codebook size x
// embedding dim] matrices and transformer logits as [positions x vocab].
//
// Out-of-range row indices panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed matrix with the given number of rows and columns.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// NewMatFromData wraps existing data. It checks that len(data) == r*c.
func NewMatFromData(r, c int, data []float32) (Mat, error) {
	if r < 0 || c < 0 || r*c != len(data) {
		return Mat{}, ErrShape
	}
	return Mat{R: r, C: c, Stride: c, Data: data}, nil
}

// Row returns a view of the i-th row. Writes through the slice update the
// matrix.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// Rows returns a view of rows [from, to) as a new Mat sharing storage.
func (m *Mat) Rows(from, to int) Mat {
	if from < 0 || to > m.R || from > to {
		panic("row range out of bounds")
	}
	return Mat{R: to - from, C: m.C, Stride: m.Stride, Data: m.Data[from*m.Stride : to*m.Stride]}
}

// Clone returns a deep copy with a compact stride.
func (m *Mat) Clone() Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// FillRand fills the matrix with reproducible values in roughly (-scale/2,
// scale/2). Calls with the same seed produce identical matrices.
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * scale
	}
}
