package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, invalidationSecret, diagnosticsToken string) *gin.Engine {
	// Set Gin mode (can be controlled via GIN_MODE environment variable)
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// Middleware
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, x-m10z-invalidation-secret, x-m10z-diagnostics-token")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Routes
	setupRoutes(r, handler, invalidationSecret, diagnosticsToken)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, handler *Handler, invalidationSecret, diagnosticsToken string) {
	// Public feed endpoint
	r.GET("/feeds/:name", handler.GetFeed)

	// Health endpoint
	r.GET("/health", handler.GetHealth)

	// Invalidation webhook (conditionally enabled with authentication)
	if invalidationSecret != "" {
		r.POST("/invalidate/:type", handler.requireSecret("invalidate", invalidationSecret, invalidationCredential), handler.Invalidate)
		slog.Info("Invalidation endpoint enabled with authentication")
	} else {
		slog.Warn("Invalidation endpoint disabled (INVALIDATION_SECRET not set)")
	}

	// Diagnostics endpoint (conditionally enabled with authentication)
	if diagnosticsToken != "" {
		r.GET("/diagnostics", handler.requireSecret("diagnostics", diagnosticsToken, diagnosticsCredential), handler.GetDiagnostics)
		slog.Info("Diagnostics endpoint enabled with authentication")
	} else {
		slog.Warn("Diagnostics endpoint disabled (DIAGNOSTICS_TOKEN not set)")
	}

	// Root endpoint with basic information
	r.GET("/", handler.GetRoot)

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}

func invalidationCredential(c *gin.Context) string {
	return c.GetHeader("x-m10z-invalidation-secret")
}

// diagnosticsCredential accepts the token as a query parameter so the
// endpoint can be opened directly in a browser.
func diagnosticsCredential(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.GetHeader("x-m10z-diagnostics-token")
}
