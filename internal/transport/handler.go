package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"go-degen-pov/internal/assets"
	apperrors "go-degen-pov/internal/errors"
	"go-degen-pov/internal/logger"
	"go-degen-pov/pkg/models"
)

// Pipeline runs one overlay request
type Pipeline interface {
	Run(ctx context.Context, req models.PipelineRequest) (*models.CompositeResult, error)
}

// Catalog is the read-only registry view served by /v1/assets
type Catalog interface {
	Assets() []*assets.OverlayAsset
	Groups() []string
	Len() int
}

// Options configures the HTTP handler
type Options struct {
	MaxRequestBodySize int64
	RequestTimeout     time.Duration
	Homepage           string
	Gatherer           prometheus.Gatherer
}

// StatusFor returns the HTTP status for a pipeline error. Detail reasons keep
// their own status, so an oversized download answers 413.
func StatusFor(err error) int {
	return apperrors.GetStatusCode(err)
}

func NewHandler(pipeline Pipeline, catalog Catalog, opts Options) http.Handler {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(opts.MaxRequestBodySize),
	)

	// Configure routes
	r.GET("/", homepage(opts.Homepage))
	r.GET("/health", healthCheck(catalog))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.GET("/assets", listAssets(catalog))
	v1.POST("/overlay", createOverlay(pipeline, opts.RequestTimeout))

	return r
}

func createOverlay(pipeline Pipeline, timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.OverlayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, http.StatusRequestEntityTooLarge,
					apperrors.NewInvalidInputError("request body too large", err))
				return
			}
			respondError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("invalid request format", err))
			return
		}

		pipelineReq := models.PipelineRequest{SourceURL: req.URL, AssetID: req.AssetID}
		if timeout > 0 {
			pipelineReq.Deadline = time.Now().Add(timeout)
		}

		result, err := pipeline.Run(c.Request.Context(), pipelineReq)
		if err != nil {
			if apperrors.IsReason(err, apperrors.ReasonBusy) {
				c.Header("Retry-After", "5")
			}
			respondError(c, StatusFor(err), err)
			return
		}

		c.Data(http.StatusOK, result.ContentType, result.Bytes)
	}
}

func listAssets(catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := catalog.Assets()
		resp := models.AssetsResponse{
			Assets: make([]models.AssetInfo, 0, len(list)),
			Groups: catalog.Groups(),
		}
		for _, a := range list {
			resp.Assets = append(resp.Assets, a.Info())
		}
		c.JSON(http.StatusOK, resp)
	}
}

func homepage(target string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if target == "" {
			c.Status(http.StatusNoContent)
			return
		}
		c.Redirect(http.StatusFound, target)
	}
}

func healthCheck(catalog Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "available",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Assets:    catalog.Len(),
		})
	}
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request completed with server error")
			return
		}
		entry.Debug("Request completed")
	}
}

func respondError(c *gin.Context, code int, err error) {
	reason := apperrors.ReasonOf(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		// the cause may carry upstream detail that is not meant for clients
		message = appErr.Message
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"reason":      reason,
		"path":        c.Request.URL.Path,
		"ip":          c.ClientIP(),
	}).Info("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Reason:  string(reason),
		Message: message,
	})
}
