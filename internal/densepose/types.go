package densepose

import "image"

// AnalysisRequest is the /analyze request body. Image holds a base64-encoded
// image, optionally prefixed with a data URL header.
type AnalysisRequest struct {
	Image string `json:"image"`
}

// InstanceResult is the per-person output: an IUV chart covering the instance
// plus its detection box and confidence. The three grids share the same
// square dimensions; U and V are only meaningful where BodyParts is nonzero.
type InstanceResult struct {
	BodyParts [][]int     `json:"body_parts"`
	U         [][]float64 `json:"u_coordinates"`
	V         [][]float64 `json:"v_coordinates"`
	BBox      [4]float64  `json:"bbox"`
	Score     float64     `json:"score"`
}

// AnalysisResponse is the /analyze response body.
type AnalysisResponse struct {
	NumInstances int              `json:"num_instances"`
	Instances    []InstanceResult `json:"instances"`
}

// NewResponse builds a response whose num_instances matches the instance
// list. A nil list marshals as [] rather than null.
func NewResponse(instances []InstanceResult) *AnalysisResponse {
	if instances == nil {
		instances = []InstanceResult{}
	}
	return &AnalysisResponse{
		NumInstances: len(instances),
		Instances:    instances,
	}
}

// Image carries one decoded request image through the pipeline. Raw holds the
// image bytes after base64 decoding so backends that re-transmit the image do
// not have to re-encode pixels.
type Image struct {
	Raw     []byte
	Decoded image.Image
	Format  string
	Width   int
	Height  int
}
