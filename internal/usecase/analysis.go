package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayadtren/posing-coach/internal/densepose"
	"github.com/ayadtren/posing-coach/internal/logging"
)

// AnalysisUseCase orchestrates decode, cache lookup and backend inference for
// one analysis request.
type AnalysisUseCase struct {
	backend        densepose.Backend
	cache          Cache
	cacheTTL       time.Duration
	logger         *zap.Logger
	stats          *Stats
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisUseCase constructs the use case. A nil cache disables caching
// entirely; the request path is otherwise unchanged.
func NewAnalysisUseCase(backend densepose.Backend, cache Cache, cacheTTL time.Duration, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		backend:        backend,
		cache:          cache,
		cacheTTL:       cacheTTL,
		logger:         logger.Named("analysis_usecase"),
		stats:          NewStats(),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// BackendName reports which analysis backend is serving requests.
func (uc *AnalysisUseCase) BackendName() string { return uc.backend.Name() }

// Analyze decodes the base64 payload and runs DensePose estimation on it.
// Identical images analyzed by the same backend are served from cache when
// one is configured; cache failures degrade to a plain inference run.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, payload string) (string, *densepose.AnalysisResponse, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_image", requestID)
	start := time.Now()

	img, err := densepose.DecodeImage(payload)
	if err != nil {
		uc.stats.RecordFailure()
		wrapped := logging.NewOperationError("usecase.decode_image", requestID, err)
		opLogger.Warn("failed to decode request image", zap.Error(wrapped))
		return "", nil, wrapped
	}

	cacheKey := analysisCacheKey(uc.backend.Name(), img.Raw)
	if uc.cache != nil {
		if cached, err := uc.withCacheGet(ctx, requestID, "cache.get.analysis", cacheKey); err == nil {
			var resp densepose.AnalysisResponse
			if err := json.Unmarshal([]byte(cached), &resp); err != nil {
				opLogger.Warn("failed to decode cached analysis", zap.Error(err))
			} else {
				if resp.Instances == nil {
					resp.Instances = []densepose.InstanceResult{}
				}
				uc.stats.RecordCacheHit(resp.NumInstances, time.Since(start))
				opLogger.Debug("serving cached analysis", zap.String("cache_key", cacheKey))
				return requestID, &resp, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read analysis cache", zap.Error(err))
		}
	}

	resp, err := uc.backend.Analyze(ctx, img)
	if err != nil {
		uc.stats.RecordFailure()
		wrapped := logging.NewOperationError("usecase.backend_analyze", requestID, err)
		opLogger.Error("backend analysis failed",
			zap.Error(wrapped), zap.String("backend", uc.backend.Name()))
		return "", nil, wrapped
	}

	if uc.cache != nil {
		if serialized, err := json.Marshal(resp); err != nil {
			opLogger.Warn("failed to serialize analysis for cache", zap.Error(err))
		} else if err := uc.withCacheRetry(ctx, requestID, "cache.set.analysis", func() error {
			return uc.cache.Set(ctx, cacheKey, string(serialized), uc.cacheTTL)
		}); err != nil {
			opLogger.Warn("failed to cache analysis result", zap.Error(err))
		}
	}

	uc.stats.RecordSuccess(resp.NumInstances, time.Since(start))
	opLogger.Info("analysis complete",
		zap.Int("num_instances", resp.NumInstances),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Duration("elapsed", time.Since(start)))
	return requestID, resp, nil
}

// analysisCacheKey derives the cache key from the decoded image bytes and the
// backend name, so the same picture re-submitted with different base64
// framing still hits, and backends never share entries.
func analysisCacheKey(backendName string, imageBytes []byte) string {
	hash := sha1.Sum(imageBytes)
	return fmt.Sprintf("densepose:%s:%s", backendName, hex.EncodeToString(hash[:]))
}

func (uc *AnalysisUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// redis.Nil is a miss, not a failure.
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *AnalysisUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
