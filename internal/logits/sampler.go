// Package logits turns next-code logits into code choices.
package logits

import (
	"math"
	"math/rand"

	"github.com/samcharles93/phylonn/internal/tensor"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
	// TopK keeps every logit at least as large as the k-th largest; zero
	// disables the filter.
	TopK int
	// Stochastic draws from the distribution; otherwise the most likely
	// code is chosen.
	Stochastic bool
}

type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	topVal []float32
	prob   []float32
}

// NewSampler returns a new sampler with the provided configuration. A nil
// rng is replaced by one seeded from cfg.Seed.
func NewSampler(cfg SamplerConfig, rng *rand.Rand) *Sampler {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK < 0 {
		cfg.TopK = 0
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}
	return &Sampler{rng: rng, cfg: cfg}
}

// Config returns the normalised configuration.
func (s *Sampler) Config() SamplerConfig { return s.cfg }

// Probs copies logits, applies Filter and Softmax and returns the resulting
// distribution. The slice is reused by the next call.
func (s *Sampler) Probs(logits []float32) []float32 {
	if cap(s.prob) < len(logits) {
		s.prob = make([]float32, len(logits))
	}
	p := s.prob[:len(logits)]
	copy(p, logits)
	s.topVal = filter(p, s.cfg.Temperature, s.cfg.TopK, s.topVal)
	tensor.Softmax(p)
	return p
}

// Choose picks one index from a row of logits:
//
//  1. The logits are divided by the temperature.
//  2. With TopK > 0, logits below the k-th largest become -Inf. Ties with the
//     k-th value are kept.
//  3. A softmax turns the logits into probabilities.
//  4. A stochastic sampler draws from the distribution; a deterministic one
//     returns the first most likely index.
func (s *Sampler) Choose(logits []float32) int {
	p := s.Probs(logits)
	if !s.cfg.Stochastic {
		return tensor.Argmax(p)
	}
	return s.draw(p)
}

func (s *Sampler) draw(p []float32) int {
	r := s.rng.Float64()
	var c float64
	last := 0
	for i, v := range p {
		if v <= 0 {
			continue
		}
		last = i
		c += float64(v)
		if r < c {
			return i
		}
	}
	// rounding left r above the cumulative mass
	return last
}

// Filter divides logits by temperature and masks everything below the k-th
// largest value with -Inf, in place. topK <= 0 or topK >= len(logits) leaves
// the scaled logits unmasked.
func Filter(logits []float32, temperature float32, topK int) {
	filter(logits, temperature, topK, nil)
}

func filter(logits []float32, temperature float32, topK int, buf []float32) []float32 {
	if temperature > 0 && temperature != 1 {
		tensor.Scale(logits, 1/temperature)
	}
	if topK <= 0 || topK >= len(logits) {
		return buf
	}
	buf = kthLargest(logits, topK, buf)
	threshold := buf[topK-1]
	neg := float32(math.Inf(-1))
	for i, v := range logits {
		if v < threshold {
			logits[i] = neg
		}
	}
	return buf
}

// kthLargest keeps the k largest values of x in buf, ordered from largest to
// smallest. This is an O(V*K) insertion suitable for small K.
func kthLargest(x []float32, k int, buf []float32) []float32 {
	if cap(buf) < k+1 {
		buf = make([]float32, 0, k+1)
	}
	top := buf[:0]
	for _, v := range x {
		pos := len(top)
		for pos > 0 && top[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		top = append(top, 0)
		copy(top[pos+1:], top[pos:])
		top[pos] = v
		if len(top) > k {
			top = top[:k]
		}
	}
	return top
}
