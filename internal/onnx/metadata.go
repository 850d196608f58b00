package onnx

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes the exported model: tensor names, input geometry and the
// pixel normalization the export was trained with. It ships as a JSON sidecar
// next to the .onnx file.
type Metadata struct {
	InputName   string      `json:"input_name"`
	InputWidth  int         `json:"input_width"`
	InputHeight int         `json:"input_height"`
	PixelMean   []float32   `json:"pixel_mean"`
	PixelStd    []float32   `json:"pixel_std"`
	Outputs     OutputNames `json:"outputs"`
}

// OutputNames maps the model's output tensors to their roles. The DensePose
// head emits per-instance boxes, scores and chart tensors (coarse foreground
// mask, fine part segmentation, U and V surface coordinates).
type OutputNames struct {
	Boxes      string `json:"boxes"`
	Scores     string `json:"scores"`
	CoarseSegm string `json:"coarse_segm"`
	FineSegm   string `json:"fine_segm"`
	U          string `json:"u"`
	V          string `json:"v"`
}

// Fixed positions of the outputs when running the session; must line up with
// the slice returned by names().
const (
	outBoxes = iota
	outScores
	outCoarseSegm
	outFineSegm
	outU
	outV
	outputCount
)

func (o *OutputNames) names() []string {
	return []string{o.Boxes, o.Scores, o.CoarseSegm, o.FineSegm, o.U, o.V}
}

// applyDefaults fills unset output names with the detectron2 export names, so
// a sidecar only has to list the tensors that were renamed.
func (o *OutputNames) applyDefaults() {
	if o.Boxes == "" {
		o.Boxes = "pred_boxes"
	}
	if o.Scores == "" {
		o.Scores = "scores"
	}
	if o.CoarseSegm == "" {
		o.CoarseSegm = "coarse_segm"
	}
	if o.FineSegm == "" {
		o.FineSegm = "fine_segm"
	}
	if o.U == "" {
		o.U = "pred_u"
	}
	if o.V == "" {
		o.V = "pred_v"
	}
}

// LoadMetadata reads and validates the model metadata sidecar. Pixel
// normalization defaults to the detectron2 BGR means when omitted.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse model metadata: %w", err)
	}

	if meta.InputName == "" {
		meta.InputName = "images"
	}
	if len(meta.PixelMean) == 0 {
		meta.PixelMean = []float32{103.53, 116.28, 123.675}
	}
	if len(meta.PixelStd) == 0 {
		meta.PixelStd = []float32{1, 1, 1}
	}
	meta.Outputs.applyDefaults()

	if meta.InputWidth <= 0 || meta.InputHeight <= 0 {
		return nil, fmt.Errorf("model metadata: invalid input size %dx%d", meta.InputWidth, meta.InputHeight)
	}
	if len(meta.PixelMean) != 3 || len(meta.PixelStd) != 3 {
		return nil, fmt.Errorf("model metadata: pixel_mean and pixel_std must have 3 channels")
	}
	for i, std := range meta.PixelStd {
		if std == 0 {
			return nil, fmt.Errorf("model metadata: pixel_std[%d] is zero", i)
		}
	}

	return &meta, nil
}
