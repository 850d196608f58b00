package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/ayadtren/posing-coach/internal/config"
	"github.com/ayadtren/posing-coach/internal/densepose"
)

// Backend runs DensePose inference in-process through ONNX Runtime. Session
// setup happens on the first request unless Warmup is called first; a failed
// attempt is retried on the next request instead of being latched.
type Backend struct {
	cfg    config.ONNXConfig
	logger *zap.Logger

	sem chan struct{}

	mu      sync.Mutex
	meta    *Metadata
	session *ort.DynamicAdvancedSession
	ownsEnv bool
	ready   bool
}

// NewBackend constructs a new ONNX-backed inference backend.
func NewBackend(cfg config.ONNXConfig, logger *zap.Logger) *Backend {
	slots := cfg.MaxConcurrent
	if slots < 1 {
		slots = 1
	}
	return &Backend{
		cfg:    cfg,
		logger: logger.Named("onnx_backend"),
		sem:    make(chan struct{}, slots),
	}
}

func (b *Backend) Name() string { return "onnx" }

// Warmup loads the model eagerly so a broken deployment fails at startup
// instead of on the first request.
func (b *Backend) Warmup() error { return b.ensureSession() }

func (b *Backend) ensureSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}

	meta, err := LoadMetadata(b.cfg.MetadataPath)
	if err != nil {
		return err
	}

	if !ort.IsInitialized() {
		if b.cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(b.cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
		b.ownsEnv = true
	}

	session, err := ort.NewDynamicAdvancedSession(b.cfg.ModelPath,
		[]string{meta.InputName}, meta.Outputs.names(), nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	b.meta = meta
	b.session = session
	b.ready = true
	b.logger.Info("DensePose model loaded",
		zap.String("model_path", b.cfg.ModelPath),
		zap.Int("input_width", meta.InputWidth),
		zap.Int("input_height", meta.InputHeight))
	return nil
}

func (b *Backend) Analyze(ctx context.Context, img *densepose.Image) (*densepose.AnalysisResponse, error) {
	if err := b.ensureSession(); err != nil {
		return nil, err
	}

	release, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	input, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(b.meta.InputHeight), int64(b.meta.InputWidth)),
		buildInput(img.Decoded, b.meta))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.ArbitraryTensor, outputCount)
	if err := b.session.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer destroyTensors(outputs)

	raw, err := collectOutputs(outputs, b.meta)
	if err != nil {
		return nil, err
	}

	instances, err := mapInstances(raw, img.Width, img.Height,
		b.meta.InputWidth, b.meta.InputHeight, b.cfg.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	return densepose.NewResponse(instances), nil
}

// acquire takes an inference slot, waiting at most the configured queue
// timeout when all slots are busy.
func (b *Backend) acquire(ctx context.Context) (func(), error) {
	if b.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.QueueTimeout)
		defer cancel()
	}
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("inference queue saturated: %w", ctx.Err())
	}
}

// collectOutputs views the six head tensors as shape/data pairs. The views
// borrow the ONNX-owned buffers and must be consumed before the outputs are
// destroyed.
func collectOutputs(outputs []ort.ArbitraryTensor, meta *Metadata) (*rawOutputs, error) {
	names := meta.Outputs.names()
	grab := func(i int) (tensorData, error) {
		t, ok := outputs[i].(*ort.Tensor[float32])
		if !ok {
			return tensorData{}, fmt.Errorf("model output %s: expected float32 tensor, got %T", names[i], outputs[i])
		}
		return tensorData{shape: t.GetShape(), data: t.GetData()}, nil
	}

	var raw rawOutputs
	var err error
	if raw.boxes, err = grab(outBoxes); err != nil {
		return nil, err
	}
	if raw.scores, err = grab(outScores); err != nil {
		return nil, err
	}
	if raw.coarseSegm, err = grab(outCoarseSegm); err != nil {
		return nil, err
	}
	if raw.fineSegm, err = grab(outFineSegm); err != nil {
		return nil, err
	}
	if raw.u, err = grab(outU); err != nil {
		return nil, err
	}
	if raw.v, err = grab(outV); err != nil {
		return nil, err
	}
	return &raw, nil
}

func destroyTensors(tensors []ort.ArbitraryTensor) {
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// Close releases the session and, when this backend initialized it, the
// runtime environment.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	b.meta = nil
	b.ready = false
	if b.ownsEnv {
		b.ownsEnv = false
		return ort.DestroyEnvironment()
	}
	return nil
}
