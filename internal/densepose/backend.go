package densepose

import "context"

// Backend runs the inference step of the analysis pipeline. Implementations
// must be safe for concurrent use: the pipeline shares a single instance
// across all requests.
type Backend interface {
	// Name identifies the backend in logs, cache keys and the health payload.
	Name() string
	// Analyze produces DensePose results for a decoded image.
	Analyze(ctx context.Context, img *Image) (*AnalysisResponse, error)
	// Close releases any resources held by the backend.
	Close() error
}
