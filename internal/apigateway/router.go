// Package apigateway assembles the HTTP surface: public transcription and
// health routes plus the token-protected admin group.
package apigateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"voice-transcription-service/internal/auth"
	"voice-transcription-service/internal/metrics"
	"voice-transcription-service/internal/transcribe"
)

const serviceVersion = "1.0.0"

// Pinger reports datastore liveness for the health endpoint.
type Pinger interface {
	Ping() error
}

// Dependencies carries everything the router needs. All fields are required
// except Metrics, which disables instrumentation when nil.
type Dependencies struct {
	Transcribe *transcribe.Handler
	Admin      *auth.AdminHandlers
	AdminToken string
	Store      Pinger
	EngineName string
	Metrics    *metrics.Metrics
}

// SetupRouter builds the Gin router with all service routes registered.
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(metricsMiddleware(deps.Metrics))
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "Voice Transcription Service",
			"version": serviceVersion,
			"status":  "running",
		})
	})

	router.GET("/health", func(c *gin.Context) {
		if err := deps.Store.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"detail": "database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"engine": deps.EngineName,
		})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.POST("/transcribe", deps.Transcribe.HandleTranscribe)

	adminRoutes := router.Group("/admin")
	adminRoutes.Use(auth.AdminTokenMiddleware(deps.AdminToken))
	{
		adminRoutes.POST("/api-keys", deps.Admin.CreateAPIKey)
		adminRoutes.POST("/api-keys/deactivate", deps.Admin.DeactivateAPIKey)
	}

	return router
}

// metricsMiddleware records per-request counters and latency. The route
// template is used as the endpoint label so path parameters do not explode
// cardinality.
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
