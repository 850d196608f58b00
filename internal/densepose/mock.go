package densepose

import "context"

// Chart dimension and canned detection the mock reports for every image.
const (
	mockGridSize = 256
	mockScore    = 0.98
)

// Part IDs used by the mock chart: 1 is the torso, 10/11 the left/right arm.
const (
	mockPartTorso    = 1
	mockPartLeftArm  = 10
	mockPartRightArm = 11
)

// MockBackend fabricates a deterministic single-person result without looking
// at the image, so integrations can be exercised without model weights.
type MockBackend struct{}

// NewMockBackend creates a new mock backend.
func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Close() error { return nil }

// Analyze synthesizes one instance: three rectangular body-part regions on a
// 256x256 chart, with U/V derived from the cell position inside labeled
// cells. The response is rebuilt on every call; nothing is shared between
// requests.
func (b *MockBackend) Analyze(_ context.Context, _ *Image) (*AnalysisResponse, error) {
	parts := make([][]int, mockGridSize)
	u := make([][]float64, mockGridSize)
	v := make([][]float64, mockGridSize)
	for row := range parts {
		parts[row] = make([]int, mockGridSize)
		u[row] = make([]float64, mockGridSize)
		v[row] = make([]float64, mockGridSize)
	}

	fillRegion(parts, 100, 150, 100, 200, mockPartTorso)
	fillRegion(parts, 80, 100, 100, 130, mockPartLeftArm)
	fillRegion(parts, 150, 170, 100, 130, mockPartRightArm)

	for row := 0; row < mockGridSize; row++ {
		for col := 0; col < mockGridSize; col++ {
			if parts[row][col] > 0 {
				u[row][col] = float64(row%100) / 100
				v[row][col] = float64(col%100) / 100
			}
		}
	}

	instance := InstanceResult{
		BodyParts: parts,
		U:         u,
		V:         v,
		BBox:      [4]float64{50, 50, 200, 400},
		Score:     mockScore,
	}
	return NewResponse([]InstanceResult{instance}), nil
}

// fillRegion labels the half-open cell range [r0,r1) x [c0,c1).
func fillRegion(parts [][]int, r0, r1, c0, c1, id int) {
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			parts[row][col] = id
		}
	}
}
