package toy

import (
	"fmt"

	"github.com/samcharles93/phylonn/internal/checkpoint"
	"github.com/samcharles93/phylonn/internal/tensor"
)

// Bigram is a minimal next-code model used for tests and the CLI. It
// consists of a token embedding, a positional embedding, a projection back
// to vocab logits and a bias vector. Each position only sees its own token
// and index, so row i of the output depends on seq[i] and i alone.
type Bigram struct {
	Vocab  int
	Hidden int
	Block  int

	Emb  tensor.Mat // [Vocab x Hidden] token embedding
	Pos  tensor.Mat // [Block x Hidden] positional embedding
	W    tensor.Mat // [Hidden x Vocab] projection weights
	Bias []float32  // [Vocab] bias added to logits
}

// NewBigram constructs a model with the given vocabulary, hidden size and
// context length. Embeddings and weights are filled from seed; biases are
// zero.
func NewBigram(vocab, hidden, block int, seed int64) (*Bigram, error) {
	if vocab <= 0 || hidden <= 0 || block <= 0 {
		return nil, fmt.Errorf("%w: bigram sizes vocab=%d hidden=%d block=%d", ErrConfig, vocab, hidden, block)
	}
	m := &Bigram{
		Vocab:  vocab,
		Hidden: hidden,
		Block:  block,
		Emb:    tensor.NewMat(vocab, hidden),
		Pos:    tensor.NewMat(block, hidden),
		W:      tensor.NewMat(hidden, vocab),
		Bias:   make([]float32, vocab),
	}
	tensor.FillRand(&m.Emb, seed+11, 2)
	tensor.FillRand(&m.Pos, seed+17, 0.2)
	tensor.FillRand(&m.W, seed+23, 2)
	return m, nil
}

func (m *Bigram) BlockSize() int { return m.Block }

func (m *Bigram) VocabSize() int { return m.Vocab }

// Forward returns one [len(seq) x Vocab] logit matrix per sequence. Tokens
// outside [0, Vocab) and sequences longer than the block size are errors.
func (m *Bigram) Forward(seqs [][]int) ([]tensor.Mat, error) {
	out := make([]tensor.Mat, len(seqs))
	for b, seq := range seqs {
		if len(seq) > m.Block {
			return nil, fmt.Errorf("toy: sequence of %d exceeds block size %d", len(seq), m.Block)
		}
		h := tensor.NewMat(len(seq), m.Hidden)
		logits := tensor.NewMat(len(seq), m.Vocab)
		for i, tok := range seq {
			if tok < 0 || tok >= m.Vocab {
				return nil, fmt.Errorf("toy: token %d outside vocab %d", tok, m.Vocab)
			}
			emb, pos, row := m.Emb.Row(tok), m.Pos.Row(i), h.Row(i)
			for k := range row {
				row[k] = emb[k] + pos[k]
			}
			copy(logits.Row(i), m.Bias)
		}
		tensor.Gemm(&logits, &h, &m.W, 1, 1, 0)
		out[b] = logits
	}
	return out, nil
}

// Params names the parameters the way the training checkpoints do.
func (m *Bigram) Params() checkpoint.StateDict {
	return checkpoint.StateDict{
		"tok_emb.weight": {Shape: []int{m.Vocab, m.Hidden}, Data: m.Emb.Data},
		"pos_emb":        {Shape: []int{m.Block, m.Hidden}, Data: m.Pos.Data},
		"head.weight":    {Shape: []int{m.Hidden, m.Vocab}, Data: m.W.Data},
		"head.bias":      {Shape: []int{m.Vocab}, Data: m.Bias},
	}
}
