package stage

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/phylonn/internal/tensor"
)

func images(n int) []tensor.Image {
	out := make([]tensor.Image, n)
	for i := range out {
		out[i] = tensor.NewImage(3, 4, 4)
	}
	return out
}

func ancestry() [][]int {
	// four species, two genera, one family
	return [][]int{{0, 0}, {0, 0}, {0, 1}, {0, 1}}
}

func TestSOSProvider(t *testing.T) {
	t.Parallel()
	enc, err := SOSProvider{Token: 7}.Encode(Batch{Images: images(3), Labels: []int{1, 2, 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if diff := cmp.Diff([][]int{{7}, {7}, {7}}, enc.Indices); diff != "" {
		t.Fatalf("indices (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, enc.Truth); diff != "" {
		t.Fatalf("truth (-want +got):\n%s", diff)
	}
}

func TestLabelCondWithMapper(t *testing.T) {
	t.Parallel()
	m, err := NewPhyloMapper(1, ancestry())
	if err != nil {
		t.Fatalf("NewPhyloMapper: %v", err)
	}
	if m.NumClasses() != 2 {
		t.Fatalf("NumClasses = %d, want 2", m.NumClasses())
	}
	cond := LabelCond{PhyloMapper: m}
	enc, err := cond.Encode(Batch{Images: images(2), Labels: []int{1, 3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if diff := cmp.Diff([][]int{{0}, {1}}, enc.Indices); diff != "" {
		t.Fatalf("indices (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 3}, enc.Truth); diff != "" {
		t.Fatalf("truth keeps fine labels (-want +got):\n%s", diff)
	}
	if level, ok := cond.Level(); !ok || level != 1 {
		t.Fatalf("Level = %d, %v", level, ok)
	}
	if _, ok := (LabelCond{}).Level(); ok {
		t.Fatal("label cond without mapper reported a level")
	}
}

func TestLabelCondErrors(t *testing.T) {
	t.Parallel()
	if _, err := (LabelCond{}).Encode(Batch{Images: images(2)}); !errors.Is(err, ErrNoLabels) {
		t.Fatalf("expected ErrNoLabels, got %v", err)
	}
	m, _ := NewPhyloMapper(0, ancestry())
	if _, err := (LabelCond{PhyloMapper: m}).Encode(Batch{Images: images(1), Labels: []int{9}}); !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
	if _, err := NewPhyloMapper(2, ancestry()); err == nil {
		t.Fatal("expected error for level beyond ancestry depth")
	}
}

func TestBatchHead(t *testing.T) {
	t.Parallel()
	b := Batch{Images: images(4), Labels: []int{0, 1, 2, 3}}
	h := b.Head(2)
	if h.Len() != 2 || len(h.Labels) != 2 || h.Cond != nil {
		t.Fatalf("unexpected head %+v", h)
	}
	if len(b.Head(10).Images) != 4 {
		t.Fatal("Head beyond length should return the whole batch")
	}
	if len(h.CondImages()) != 2 {
		t.Fatal("CondImages should fall back to Images")
	}
}

func TestBatchSplit(t *testing.T) {
	t.Parallel()
	b := Batch{Images: images(5), Labels: []int{0, 1, 2, 3, 4}, Cond: images(5)}
	parts := b.Split(2)
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	var labels []int
	for _, p := range parts {
		if len(p.Cond) != p.Len() {
			t.Fatalf("cond not split with images: %d vs %d", len(p.Cond), p.Len())
		}
		labels = append(labels, p.Labels...)
	}
	if diff := cmp.Diff(b.Labels, labels); diff != "" {
		t.Fatalf("labels (-want +got):\n%s", diff)
	}
	if parts[2].Len() != 1 {
		t.Fatalf("last part has %d elements, want 1", parts[2].Len())
	}
	if got := len(b.Split(0)); got != 1 {
		t.Fatalf("Split(0) gave %d parts, want 1", got)
	}
	if got := len((Batch{}).Split(3)); got != 0 {
		t.Fatalf("empty batch split into %d parts", got)
	}
}
