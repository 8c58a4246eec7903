package api

import (
	"github.com/samcharles93/phylonn/internal/inference"
	"github.com/samcharles93/phylonn/internal/seqmodel"
)

// SampleRequest is the body of POST /v1/samples. Images are base64 encoded
// PNG, JPEG, BMP, TIFF or WebP files; without them N blank images of the
// model's size are used.
type SampleRequest struct {
	N             int      `json:"n,omitempty"`
	Labels        []int    `json:"labels,omitempty"`
	Images        []string `json:"images,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Temperature   *float32 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	Stochastic    *bool    `json:"stochastic,omitempty"`
	IncludeImages bool     `json:"include_images,omitempty"`
	Store         *bool    `json:"store,omitempty"`
}

type SampleResponse struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`
	CreatedAt int64                `json:"created_at"`
	Codes     [][]int              `json:"codes"`
	Native    [][]int              `json:"native"`
	Latent    seqmodel.LatentShape `json:"latent"`
	Images    []string             `json:"images,omitempty"`
	Usage     SampleUsage          `json:"usage"`
}

type SampleUsage struct {
	Samples        int     `json:"samples"`
	CodesGenerated int     `json:"codes_generated"`
	DurationMS     int64   `json:"duration_ms"`
	CodesPerSecond float64 `json:"codes_per_second"`
}

func usageFromStats(s inference.Stats) SampleUsage {
	return SampleUsage{
		Samples:        s.Samples,
		CodesGenerated: s.CodesGenerated,
		DurationMS:     s.Duration.Milliseconds(),
		CodesPerSecond: s.CodesPerSecond,
	}
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
