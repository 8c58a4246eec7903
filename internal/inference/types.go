package inference

import (
	"context"
	"time"

	"github.com/samcharles93/phylonn/internal/seqmodel"
	"github.com/samcharles93/phylonn/internal/tensor"
)

type Engine interface {
	Sample(ctx context.Context, req *Request) (*Result, error)
	Info() seqmodel.Info
	Close() error
}

// Request asks for one generation per batch element. Images and Labels
// condition the model; without images, N blank images of the configured
// size stand in for the batch.
type Request struct {
	Images []tensor.Image
	Labels []int
	N      int

	Seed        int64
	Temperature float32
	TopK        int
	Stochastic  bool
}

type Result struct {
	Generation seqmodel.Generation
	Stats      Stats
}

type Stats struct {
	Samples        int
	CodesGenerated int
	Duration       time.Duration
	CodesPerSecond float64
}
