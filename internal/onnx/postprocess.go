package onnx

import (
	"fmt"
	"math"

	"github.com/ayadtren/posing-coach/internal/densepose"
)

// tensorData is a shape/data view of one output tensor. The data slice
// borrows the tensor's buffer and is only valid until the tensor is
// destroyed.
type tensorData struct {
	shape []int64
	data  []float32
}

func (t tensorData) dim(i int) int { return int(t.shape[i]) }

// rawOutputs groups the six DensePose head tensors for one inference run:
// boxes [N,4], scores [N], coarse segmentation [N,2,S,S] and the fine
// segmentation, U and V charts, each [N,C,S,S].
type rawOutputs struct {
	boxes      tensorData
	scores     tensorData
	coarseSegm tensorData
	fineSegm   tensorData
	u          tensorData
	v          tensorData
}

func (o *rawOutputs) validate() error {
	if len(o.boxes.shape) != 2 || o.boxes.dim(1) != 4 {
		return fmt.Errorf("model output: boxes must have shape [N,4], got %v", o.boxes.shape)
	}
	n := o.boxes.dim(0)
	if len(o.scores.shape) != 1 || o.scores.dim(0) != n {
		return fmt.Errorf("model output: scores must have shape [%d], got %v", n, o.scores.shape)
	}
	for _, t := range []struct {
		name string
		td   tensorData
	}{
		{"coarse_segm", o.coarseSegm},
		{"fine_segm", o.fineSegm},
		{"u", o.u},
		{"v", o.v},
	} {
		if len(t.td.shape) != 4 || t.td.dim(0) != n {
			return fmt.Errorf("model output: %s must have shape [%d,C,S,S], got %v", t.name, n, t.td.shape)
		}
	}
	if o.coarseSegm.dim(1) != 2 {
		return fmt.Errorf("model output: coarse_segm must have 2 channels, got %d", o.coarseSegm.dim(1))
	}
	gridSize := o.fineSegm.dim(2)
	for _, t := range []struct {
		name string
		td   tensorData
	}{
		{"fine_segm", o.fineSegm},
		{"u", o.u},
		{"v", o.v},
	} {
		if t.td.dim(2) != gridSize || t.td.dim(3) != gridSize {
			return fmt.Errorf("model output: %s grid must be %dx%d, got %v", t.name, gridSize, gridSize, t.td.shape)
		}
	}
	if o.u.dim(1) != o.fineSegm.dim(1) || o.v.dim(1) != o.fineSegm.dim(1) {
		return fmt.Errorf("model output: u/v channels must match fine_segm, got %d/%d vs %d",
			o.u.dim(1), o.v.dim(1), o.fineSegm.dim(1))
	}
	return nil
}

// mapInstances turns the raw head tensors into API results. Detections below
// threshold are dropped and box coordinates are rescaled from model input
// space back to the source image.
func mapInstances(out *rawOutputs, srcWidth, srcHeight, inputWidth, inputHeight int, threshold float32) ([]densepose.InstanceResult, error) {
	if err := out.validate(); err != nil {
		return nil, err
	}

	scaleX := float64(srcWidth) / float64(inputWidth)
	scaleY := float64(srcHeight) / float64(inputHeight)

	var instances []densepose.InstanceResult
	for i := 0; i < out.boxes.dim(0); i++ {
		if out.scores.data[i] < threshold {
			continue
		}
		instances = append(instances, buildInstance(out, i, scaleX, scaleY))
	}
	return instances, nil
}

// buildInstance assembles the body part and UV grids for one detection. The
// part label at each cell is the argmax over fine segmentation channels,
// gated to zero wherever the coarse mask scores background above foreground.
func buildInstance(out *rawOutputs, idx int, scaleX, scaleY float64) densepose.InstanceResult {
	channels := out.fineSegm.dim(1)
	gridSize := out.fineSegm.dim(2)
	plane := gridSize * gridSize

	coarseBase := idx * 2 * plane
	fineBase := idx * channels * plane

	parts := make([][]int, gridSize)
	uGrid := make([][]float64, gridSize)
	vGrid := make([][]float64, gridSize)
	for row := 0; row < gridSize; row++ {
		parts[row] = make([]int, gridSize)
		uGrid[row] = make([]float64, gridSize)
		vGrid[row] = make([]float64, gridSize)
		for col := 0; col < gridSize; col++ {
			cell := row*gridSize + col

			bg := out.coarseSegm.data[coarseBase+cell]
			fg := out.coarseSegm.data[coarseBase+plane+cell]
			if fg <= bg {
				continue
			}

			part := 0
			best := float32(math.Inf(-1))
			for c := 0; c < channels; c++ {
				if v := out.fineSegm.data[fineBase+c*plane+cell]; v > best {
					best = v
					part = c
				}
			}
			if part == 0 {
				continue
			}

			parts[row][col] = part
			uGrid[row][col] = clampUnitInterval(float64(out.u.data[fineBase+part*plane+cell]))
			vGrid[row][col] = clampUnitInterval(float64(out.v.data[fineBase+part*plane+cell]))
		}
	}

	box := out.boxes.data[idx*4 : idx*4+4]
	return densepose.InstanceResult{
		BodyParts: parts,
		U:         uGrid,
		V:         vGrid,
		BBox: [4]float64{
			float64(box[0]) * scaleX,
			float64(box[1]) * scaleY,
			float64(box[2]) * scaleX,
			float64(box[3]) * scaleY,
		},
		Score: float64(out.scores.data[idx]),
	}
}

// clampUnitInterval clips a surface coordinate into [0,1). The head can emit
// values slightly outside the range near chart borders.
func clampUnitInterval(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x >= 1 {
		return math.Nextafter(1, 0)
	}
	return x
}
