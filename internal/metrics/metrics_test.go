package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestF1(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		average Average
		pred    []int
		truth   []int
		want    float64
	}{
		{name: "perfect", pred: []int{0, 1, 2}, truth: []int{0, 1, 2}, want: 1},
		{name: "micro equals accuracy", pred: []int{0, 1, 1, 2}, truth: []int{0, 1, 2, 2}, want: 0.75},
		{name: "all wrong", pred: []int{1, 0}, truth: []int{0, 1}, want: 0},
		{name: "empty", pred: nil, truth: nil, want: 0},
		// class 0: tp1 -> 1; class 1: tp1 fp1 -> 2/3; class 2: tp1 fn1 -> 2/3
		{name: "macro", average: Macro, pred: []int{0, 1, 1, 2}, truth: []int{0, 1, 2, 2}, want: (1 + 2.0/3 + 2.0/3) / 3},
		{name: "out of range prediction", pred: []int{7, 1}, truth: []int{0, 1}, want: 2.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := F1{NumClasses: 3, Average: tt.average}.Score(tt.pred, tt.truth)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestF1LengthMismatch(t *testing.T) {
	t.Parallel()
	if _, err := (F1{NumClasses: 2}).Score([]int{0}, []int{0, 1}); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
}

func TestParseAverage(t *testing.T) {
	t.Parallel()
	if a, err := ParseAverage(""); err != nil || a != Micro {
		t.Fatalf("ParseAverage(\"\") = %v, %v", a, err)
	}
	if a, err := ParseAverage("macro"); err != nil || a != Macro {
		t.Fatalf("ParseAverage(macro) = %v, %v", a, err)
	}
	if _, err := ParseAverage("weighted"); err == nil {
		t.Fatal("expected error for unknown average")
	}
}

func TestTracker(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Log("train/loss", 2)
	tr.Log("train/loss", 4)
	tr.Log("train/f1_x_sample_det", 0.5)

	if m, ok := tr.Mean("train/loss"); !ok || m != 3 {
		t.Fatalf("Mean = %v, %v", m, ok)
	}
	if v, ok := tr.Last("train/loss"); !ok || v != 4 {
		t.Fatalf("Last = %v, %v", v, ok)
	}
	if _, ok := tr.Mean("val/loss"); ok {
		t.Fatal("Mean reported a value for an unknown name")
	}

	epoch := tr.EndEpoch()
	want := map[string]float64{"train/loss": 3, "train/f1_x_sample_det": 0.5}
	if diff := cmp.Diff(want, epoch, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("EndEpoch (-want +got):\n%s", diff)
	}
	if tr.Count("train/loss") != 0 {
		t.Fatal("EndEpoch did not reset buffers")
	}
	if diff := cmp.Diff([]string{"train/f1_x_sample_det", "train/loss"}, tr.Names()); diff != "" {
		t.Fatalf("Names (-want +got):\n%s", diff)
	}
}
