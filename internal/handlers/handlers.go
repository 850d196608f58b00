package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ayadtren/posing-coach/internal/config"
	"github.com/ayadtren/posing-coach/internal/densepose"
	"github.com/ayadtren/posing-coach/internal/usecase"
)

// Client-facing request error messages. Existing clients match on these
// strings, so they stay stable.
const (
	msgMissingImage = "Request must include 'image' field with base64-encoded image data"
	msgDecodeFailed = "Failed to decode image"
	msgBodyTooLarge = "Request body too large"
)

func healthMessage(backendName string) string {
	if backendName == config.BackendMock {
		return "DensePose mock service is running"
	}
	return "DensePose service is running"
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": healthMessage(uc.BackendName()),
		})
	})

	router.POST("/analyze", func(c *gin.Context) {
		var req densepose.AnalysisRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgBodyTooLarge})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingImage})
			return
		}
		if req.Image == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingImage})
			return
		}

		_, resp, err := uc.Analyze(c.Request.Context(), req.Image)
		if err != nil {
			if errors.Is(err, densepose.ErrInvalidImage) {
				c.JSON(http.StatusBadRequest, gin.H{"error": msgDecodeFailed})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.GetStatsSummary())
	})
}
