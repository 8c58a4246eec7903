package seqmodel

import (
	"math"
	"testing"

	"github.com/samcharles93/phylonn/internal/codes"
	"github.com/samcharles93/phylonn/internal/logger"
	"github.com/samcharles93/phylonn/internal/permute"
	"github.com/samcharles93/phylonn/internal/stage"
	"github.com/samcharles93/phylonn/internal/tensor"
	"github.com/samcharles93/phylonn/internal/toy"
)

const (
	testVocab = 16
	testBlock = 16
)

func testHierarchy() codes.Hierarchy {
	return codes.Hierarchy{CodebooksPerLevel: 4, PhyloLevels: 2, NonAttrLevels: 1, CodebookSize: testVocab, EmbedDim: 3}
}

// recordingTransformer marks row i of every output with a one at column
// i % vocab and remembers its inputs.
type recordingTransformer struct {
	vocab  int
	block  int
	inputs [][][]int
}

func (r *recordingTransformer) Forward(seqs [][]int) ([]tensor.Mat, error) {
	snapshot := make([][]int, len(seqs))
	for b, s := range seqs {
		snapshot[b] = append([]int(nil), s...)
	}
	r.inputs = append(r.inputs, snapshot)
	out := make([]tensor.Mat, len(seqs))
	for b, s := range seqs {
		m := tensor.NewMat(len(s), r.vocab)
		for i := range s {
			m.Row(i)[i%r.vocab] = 1
		}
		out[b] = m
	}
	return out, nil
}

func (r *recordingTransformer) BlockSize() int { return r.block }

func (r *recordingTransformer) VocabSize() int { return r.vocab }

func newBackbone(t *testing.T) *toy.Backbone {
	t.Helper()
	b, err := toy.NewBackbone(toy.BackboneConfig{Hierarchy: testHierarchy(), ImageSize: 8, Channels: 3, Seed: 4})
	if err != nil {
		t.Fatalf("NewBackbone: %v", err)
	}
	return b
}

func newBigram(t *testing.T, block int) *toy.Bigram {
	t.Helper()
	m, err := toy.NewBigram(testVocab, 8, block, 9)
	if err != nil {
		t.Fatalf("NewBigram: %v", err)
	}
	return m
}

func ancestry() [][]int {
	return [][]int{{0, 0}, {0, 1}, {1, 2}, {1, 3}}
}

func testBatch(n int) stage.Batch {
	b := stage.Batch{}
	for i := 0; i < n; i++ {
		img := tensor.NewImage(3, 8, 8)
		for j := range img.Pix {
			img.Pix[j] = float32(math.Sin(float64(i*31+j) * 0.17))
		}
		b.Images = append(b.Images, img)
		b.Labels = append(b.Labels, i%4)
	}
	return b
}

type modelOption func(*Config, *Deps)

func withPKeep(p float64) modelOption { return func(c *Config, _ *Deps) { c.PKeep = p } }

func withTransformer(tr stage.Transformer) modelOption {
	return func(_ *Config, d *Deps) { d.Transformer = tr }
}

func withCond(cond stage.CondStage) modelOption { return func(_ *Config, d *Deps) { d.Cond = cond } }

func withPermuter(p permute.Permuter) modelOption { return func(_ *Config, d *Deps) { d.Permuter = p } }

func withClassifier(c stage.Classifier) modelOption {
	return func(_ *Config, d *Deps) { d.Classifier = c }
}

func newPhyloModel(t *testing.T, opts ...modelOption) *Model {
	t.Helper()
	bb := newBackbone(t)
	cfg := Config{Strategy: StrategyPhylo, PKeep: 1, Seed: 1}
	deps := Deps{
		Phylo:       bb,
		Cond:        stage.SOSProvider{Token: 0},
		Transformer: newBigram(t, testBlock),
		Permuter:    permute.NewShuffle(2),
		Logger:      logger.Discard(),
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	m, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}
