package tensor

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMatRowsShareStorage(t *testing.T) {
	t.Parallel()
	m, err := NewMatFromData(3, 2, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("NewMatFromData: %v", err)
	}
	view := m.Rows(1, 3)
	view.Row(0)[1] = 40
	if m.Row(1)[1] != 40 {
		t.Fatalf("expected write-through, got %v", m.Row(1))
	}
	clone := m.Clone()
	clone.Row(0)[0] = -1
	if m.Row(0)[0] != 1 {
		t.Fatal("Clone shares storage")
	}
}

func TestNewMatFromDataRejectsBadLength(t *testing.T) {
	t.Parallel()
	if _, err := NewMatFromData(2, 2, []float32{1, 2, 3}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestFillRandDeterministic(t *testing.T) {
	t.Parallel()
	a, b := NewMat(4, 4), NewMat(4, 4)
	FillRand(&a, 7, 0.02)
	FillRand(&b, 7, 0.02)
	if diff := cmp.Diff(a.Data, b.Data); diff != "" {
		t.Fatalf("FillRand not deterministic (-a +b):\n%s", diff)
	}
}

func TestSoftmax(t *testing.T) {
	t.Parallel()
	x := []float32{1, 2, float32(math.Inf(-1)), 3}
	Softmax(x)
	var sum float32
	for _, v := range x {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Fatalf("softmax sums to %v", sum)
	}
	if x[2] != 0 {
		t.Fatalf("masked entry got probability %v", x[2])
	}
	if !(x[3] > x[1] && x[1] > x[0]) {
		t.Fatalf("softmax not monotone: %v", x)
	}
}

func TestSoftmaxAllMasked(t *testing.T) {
	t.Parallel()
	inf := float32(math.Inf(-1))
	x := []float32{inf, inf}
	Softmax(x)
	if x[0] != 0.5 || x[1] != 0.5 {
		t.Fatalf("expected uniform fallback, got %v", x)
	}
}

func TestArgmaxFirstOfTies(t *testing.T) {
	t.Parallel()
	if got := Argmax([]float32{1, 5, 5, 2}); got != 1 {
		t.Fatalf("Argmax = %d, want 1", got)
	}
}

func TestConcatSplitW(t *testing.T) {
	t.Parallel()
	a := NewQuant(2, 3, 4, 2)
	b := NewQuant(2, 3, 4, 1)
	for i := range a.Data {
		a.Data[i] = float32(i)
	}
	for i := range b.Data {
		b.Data[i] = float32(-i)
	}
	joined, err := ConcatW(a, b)
	if err != nil {
		t.Fatalf("ConcatW: %v", err)
	}
	if joined.Shape() != [4]int{2, 3, 4, 3} {
		t.Fatalf("unexpected shape %v", joined.Shape())
	}
	if joined.At(1, 2, 3, 1) != a.At(1, 2, 3, 1) || joined.At(1, 2, 3, 2) != b.At(1, 2, 3, 0) {
		t.Fatal("ConcatW placed values incorrectly")
	}
	left, right, err := joined.SplitW(2)
	if err != nil {
		t.Fatalf("SplitW: %v", err)
	}
	if diff := cmp.Diff(a, left); diff != "" {
		t.Fatalf("left mismatch:\n%s", diff)
	}
	if diff := cmp.Diff(b, right); diff != "" {
		t.Fatalf("right mismatch:\n%s", diff)
	}
}

func TestConcatWShapeMismatch(t *testing.T) {
	t.Parallel()
	if _, err := ConcatW(NewQuant(1, 2, 3, 1), NewQuant(1, 2, 4, 1)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestResizeNearestCopiesValues(t *testing.T) {
	t.Parallel()
	src := NewImage(2, 4, 4)
	for i := range src.Pix {
		src.Pix[i] = float32(i) * 0.01
	}
	down := Resize(src, 2, 2)
	if down.C != 2 || down.H != 2 || down.W != 2 {
		t.Fatalf("unexpected dims %dx%dx%d", down.C, down.H, down.W)
	}
	seen := make(map[float32]bool, len(src.Pix))
	for _, v := range src.Pix {
		seen[v] = true
	}
	for _, v := range down.Pix {
		if !seen[v] {
			t.Fatalf("resized value %v does not come from the source", v)
		}
	}

	same := Resize(src, 4, 4)
	if diff := cmp.Diff(src.Pix, same.Pix); diff != "" {
		t.Fatalf("identity resize changed values:\n%s", diff)
	}
}

func TestImageRoundTripThroughNRGBA(t *testing.T) {
	t.Parallel()
	src := NewImage(3, 2, 2)
	for i := range src.Pix {
		src.Pix[i] = -1 + float32(i)*2/11
	}
	back := FromImage(src.ToNRGBA(), 3)
	for i := range src.Pix {
		if math.Abs(float64(src.Pix[i]-back.Pix[i])) > 2.0/255 {
			t.Fatalf("pixel %d: got %v want %v", i, back.Pix[i], src.Pix[i])
		}
	}
}
