package metrics

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// Tracker collects named scalar values logged per step and reports their
// epoch means.
type Tracker struct {
	mu     sync.Mutex
	values map[string][]float64
	last   map[string]float64
}

func NewTracker() *Tracker {
	return &Tracker{values: make(map[string][]float64), last: make(map[string]float64)}
}

// Log records one value for name.
func (t *Tracker) Log(name string, v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[name] = append(t.values[name], v)
	t.last[name] = v
}

// Last returns the most recent value of name.
func (t *Tracker) Last(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.last[name]
	return v, ok
}

// Count returns how many values were logged for name this epoch.
func (t *Tracker) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values[name])
}

// Mean returns the mean of the values logged for name this epoch.
func (t *Tracker) Mean(name string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	vs := t.values[name]
	if len(vs) == 0 {
		return 0, false
	}
	return stat.Mean(vs, nil), true
}

// EndEpoch returns the per-name means and clears the epoch buffers.
func (t *Tracker) EndEpoch() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.values))
	for name, vs := range t.values {
		if len(vs) > 0 {
			out[name] = stat.Mean(vs, nil)
		}
	}
	t.values = make(map[string][]float64)
	return out
}

// Names returns every name logged so far, sorted.
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.last))
	for name := range t.last {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
