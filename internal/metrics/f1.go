// Package metrics scores classification consistency and aggregates step
// metrics.
package metrics

import (
	"errors"
	"fmt"
)

var ErrLength = errors.New("metrics: prediction and truth lengths differ")

// Average selects how per-class scores are combined.
type Average int

const (
	// Micro pools true/false positives over all classes. For single-label
	// multiclass data this equals accuracy.
	Micro Average = iota
	// Macro averages per-class F1 over the classes present in either
	// predictions or truth.
	Macro
)

func (a Average) String() string {
	switch a {
	case Micro:
		return "micro"
	case Macro:
		return "macro"
	default:
		return fmt.Sprintf("Average(%d)", int(a))
	}
}

// ParseAverage maps "micro" and "macro" to an Average. Empty means Micro.
func ParseAverage(s string) (Average, error) {
	switch s {
	case "", "micro":
		return Micro, nil
	case "macro":
		return Macro, nil
	default:
		return 0, fmt.Errorf("metrics: unknown average %q", s)
	}
}

// F1 is a multiclass F1 scorer over NumClasses labels.
type F1 struct {
	NumClasses int
	Average    Average
}

// Score compares predicted labels with truth. Labels outside
// [0, NumClasses) count as wrong predictions and are ignored in per-class
// counts. An empty batch scores zero.
func (f F1) Score(pred, truth []int) (float64, error) {
	if len(pred) != len(truth) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLength, len(pred), len(truth))
	}
	if len(pred) == 0 {
		return 0, nil
	}
	tp := make([]int, f.NumClasses)
	fp := make([]int, f.NumClasses)
	fn := make([]int, f.NumClasses)
	valid := func(c int) bool { return c >= 0 && c < f.NumClasses }
	for i := range pred {
		p, t := pred[i], truth[i]
		if p == t && valid(p) {
			tp[p]++
			continue
		}
		if valid(p) {
			fp[p]++
		}
		if valid(t) {
			fn[t]++
		}
	}

	switch f.Average {
	case Macro:
		var sum float64
		present := 0
		for c := 0; c < f.NumClasses; c++ {
			if tp[c]+fp[c]+fn[c] == 0 {
				continue
			}
			present++
			sum += f1(tp[c], fp[c], fn[c])
		}
		if present == 0 {
			return 0, nil
		}
		return sum / float64(present), nil
	default:
		var t, p, n int
		for c := 0; c < f.NumClasses; c++ {
			t += tp[c]
			p += fp[c]
			n += fn[c]
		}
		return f1(t, p, n), nil
	}
}

func f1(tp, fp, fn int) float64 {
	den := 2*tp + fp + fn
	if den == 0 {
		return 0
	}
	return float64(2*tp) / float64(den)
}
