package remote

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/ayadtren/posing-coach/internal/config"
	"github.com/ayadtren/posing-coach/internal/densepose"
)

// Backend forwards analysis to another DensePose HTTP service speaking the
// same wire contract, typically a GPU deployment sitting behind this one.
type Backend struct {
	client *resty.Client
	logger *zap.Logger
}

type analyzeRequest struct {
	Image string `json:"image"`
}

type upstreamError struct {
	Message string `json:"error"`
}

// NewBackend constructs a new client for the configured upstream service.
func NewBackend(cfg config.RemoteConfig, logger *zap.Logger) *Backend {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount)
	return &Backend{client: client, logger: logger.Named("remote_backend")}
}

func (b *Backend) Name() string { return "remote" }

func (b *Backend) Analyze(ctx context.Context, img *densepose.Image) (*densepose.AnalysisResponse, error) {
	var (
		result  densepose.AnalysisResponse
		failure upstreamError
	)

	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(analyzeRequest{Image: base64.StdEncoding.EncodeToString(img.Raw)}).
		SetResult(&result).
		SetError(&failure).
		Post("/analyze")
	if err != nil {
		b.logger.Error("upstream DensePose call failed", zap.Error(err))
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.IsError() {
		b.logger.Error("upstream DensePose returned error",
			zap.Int("status", resp.StatusCode()),
			zap.String("message", failure.Message))
		if failure.Message != "" {
			return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode(), failure.Message)
		}
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode())
	}

	return densepose.NewResponse(result.Instances), nil
}

func (b *Backend) Close() error { return nil }
