package permute

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i * 7 % 13
	}
	return s
}

func TestInverseLaw(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		p       Permuter
		lengths []int
	}{
		{name: "identity", p: Identity{}, lengths: []int{0, 1, 5, 40}},
		{name: "reverse", p: Reverse{}, lengths: []int{0, 1, 5, 40}},
		{name: "shuffle", p: NewShuffle(3), lengths: []int{0, 1, 5, 40}},
		{name: "level major", p: LevelMajor{Positions: 4}, lengths: []int{0, 4, 8, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for _, n := range tt.lengths {
				in := seq(n)
				fwd, err := tt.p.Forward(in)
				if err != nil {
					t.Fatalf("Forward(%d): %v", n, err)
				}
				back, err := tt.p.Reverse(fwd)
				if err != nil {
					t.Fatalf("Reverse(%d): %v", n, err)
				}
				if diff := cmp.Diff(in, back); diff != "" {
					t.Fatalf("length %d (-want +got):\n%s", n, diff)
				}
			}
		})
	}
}

func TestShuffleIsStable(t *testing.T) {
	t.Parallel()
	in := seq(32)
	a, _ := NewShuffle(11).Forward(in)
	b, _ := NewShuffle(11).Forward(in)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed gave different permutations:\n%s", diff)
	}
	s := NewShuffle(11)
	first, _ := s.Forward(in)
	second, _ := s.Forward(in)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated calls differ:\n%s", diff)
	}
	other, _ := NewShuffle(12).Forward(in)
	if cmp.Equal(a, other) {
		t.Fatal("different seeds produced the same permutation")
	}
}

func TestLevelMajorLayout(t *testing.T) {
	t.Parallel()
	// positions 2, levels 3: p0=[a0 a1 a2] p1=[b0 b1 b2]
	got, err := LevelMajor{Positions: 2}.Forward([]int{0, 1, 2, 10, 11, 12})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if diff := cmp.Diff([]int{0, 10, 1, 11, 2, 12}, got); diff != "" {
		t.Fatalf("layout (-want +got):\n%s", diff)
	}
	if _, err := (LevelMajor{Positions: 4}).Forward(make([]int, 6)); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"", "identity", "reverse", "shuffle"} {
		if _, err := New(Spec{Kind: kind}); err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
	}
	if _, err := New(Spec{Kind: "level_major", Positions: 8}); err != nil {
		t.Fatalf("New(level_major): %v", err)
	}
	if _, err := New(Spec{Kind: "level_major"}); err == nil {
		t.Fatal("expected error for level_major without positions")
	}
	if _, err := New(Spec{Kind: "zigzag"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestBatchHelpers(t *testing.T) {
	t.Parallel()
	p := LevelMajor{Positions: 2}
	in := [][]int{{1, 2, 3, 4}, {5, 6, 7, 8}}
	fwd, err := ForwardBatch(p, in)
	if err != nil {
		t.Fatalf("ForwardBatch: %v", err)
	}
	back, err := ReverseBatch(p, fwd)
	if err != nil {
		t.Fatalf("ReverseBatch: %v", err)
	}
	if diff := cmp.Diff(in, back); diff != "" {
		t.Fatalf("batch round trip (-want +got):\n%s", diff)
	}
	if _, err := ForwardBatch(p, [][]int{{1, 2, 3}}); !errors.Is(err, ErrLength) {
		t.Fatalf("expected ErrLength, got %v", err)
	}
}
