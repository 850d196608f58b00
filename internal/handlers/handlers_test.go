package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ayadtren/posing-coach/internal/densepose"
	"github.com/ayadtren/posing-coach/internal/middleware"
	"github.com/ayadtren/posing-coach/internal/usecase"
)

type failingBackend struct{ err error }

func (f *failingBackend) Name() string { return "onnx" }

func (f *failingBackend) Analyze(ctx context.Context, img *densepose.Image) (*densepose.AnalysisResponse, error) {
	return nil, f.err
}

func (f *failingBackend) Close() error { return nil }

func newTestRouter(backend densepose.Backend) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	uc := usecase.NewAnalysisUseCase(backend, nil, 0, zap.NewNop())
	RegisterRoutes(router, uc)
	return router
}

func pngPayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postAnalyze(router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not a JSON error object: %v", err)
	}
	return body["error"]
}

func TestHealthReportsMockService(t *testing.T) {
	router := newTestRouter(densepose.NewMockBackend())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["message"] != "DensePose mock service is running" {
		t.Errorf("unexpected health message: %q", body["message"])
	}
}

func TestHealthReportsRealService(t *testing.T) {
	router := newTestRouter(&failingBackend{err: errors.New("unused")})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if body["message"] != "DensePose service is running" {
		t.Errorf("unexpected health message: %q", body["message"])
	}
}

func TestAnalyzeRejectsMissingImageField(t *testing.T) {
	router := newTestRouter(densepose.NewMockBackend())

	for _, body := range []string{`{}`, `{"image": ""}`, `not json at all`} {
		w := postAnalyze(router, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, w.Code)
			continue
		}
		if msg := decodeError(t, w); msg != msgMissingImage {
			t.Errorf("body %q: unexpected error message %q", body, msg)
		}
	}
}

func TestAnalyzeRejectsUndecodableImage(t *testing.T) {
	router := newTestRouter(densepose.NewMockBackend())

	for _, payload := range []string{"!!! not base64 !!!", base64.StdEncoding.EncodeToString([]byte("not an image"))} {
		w := postAnalyze(router, `{"image": "`+payload+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("payload %q: expected 400, got %d", payload, w.Code)
			continue
		}
		if msg := decodeError(t, w); msg != msgDecodeFailed {
			t.Errorf("payload %q: unexpected error message %q", payload, msg)
		}
	}
}

func TestAnalyzeMockBackendResponse(t *testing.T) {
	router := newTestRouter(densepose.NewMockBackend())

	w := postAnalyze(router, `{"image": "`+pngPayload(t)+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp densepose.AnalysisResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.NumInstances != 1 || len(resp.Instances) != 1 {
		t.Fatalf("expected a single instance, got %+v", resp)
	}

	inst := resp.Instances[0]
	if inst.Score != 0.98 {
		t.Errorf("expected score 0.98, got %v", inst.Score)
	}
	if inst.BBox != [4]float64{50, 50, 200, 400} {
		t.Errorf("unexpected bbox: %v", inst.BBox)
	}
	if inst.BodyParts[120][150] != 1 {
		t.Errorf("expected torso at (120,150), got %d", inst.BodyParts[120][150])
	}
	if inst.BodyParts[90][110] != 10 {
		t.Errorf("expected left arm at (90,110), got %d", inst.BodyParts[90][110])
	}
	if inst.BodyParts[160][110] != 11 {
		t.Errorf("expected right arm at (160,110), got %d", inst.BodyParts[160][110])
	}
	if inst.U[120][150] != 0.20 || inst.V[120][150] != 0.50 {
		t.Errorf("unexpected uv at (120,150): (%v, %v)", inst.U[120][150], inst.V[120][150])
	}
}

func TestAnalyzeBackendFailureReturns500(t *testing.T) {
	router := newTestRouter(&failingBackend{err: errors.New("model exploded")})

	w := postAnalyze(router, `{"image": "`+pngPayload(t)+`"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if msg := decodeError(t, w); !strings.Contains(msg, "model exploded") {
		t.Errorf("expected backend error in message, got %q", msg)
	}
}

func TestAnalyzeOversizedBodyReturns413(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.MaxBodyBytes(128))
	uc := usecase.NewAnalysisUseCase(densepose.NewMockBackend(), nil, 0, zap.NewNop())
	RegisterRoutes(router, uc)

	w := postAnalyze(router, `{"image": "`+strings.Repeat("A", 512)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if msg := decodeError(t, w); msg != msgBodyTooLarge {
		t.Errorf("unexpected error message %q", msg)
	}
}

func TestStatsReflectsTraffic(t *testing.T) {
	router := newTestRouter(densepose.NewMockBackend())

	if w := postAnalyze(router, `{"image": "`+pngPayload(t)+`"}`); w.Code != http.StatusOK {
		t.Fatalf("analyze failed with %d", w.Code)
	}
	if w := postAnalyze(router, `{"image": "garbage"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for garbage payload, got %d", w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var summary usecase.StatsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if summary.Backend != "mock" {
		t.Errorf("expected backend mock, got %q", summary.Backend)
	}
	if summary.TotalRequests != 2 || summary.SuccessfulRequests != 1 || summary.FailedRequests != 1 {
		t.Errorf("unexpected counters: %+v", summary)
	}
}
