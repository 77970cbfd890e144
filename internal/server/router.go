package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/reelview/internal/catalog"
	"github.com/MarcoPoloResearchLab/reelview/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	homeMessage = "Welcome to ReelView"
	apiMessage  = "Welcome to the ReelView API"

	healthCheckTimeout = 5 * time.Second
)

var (
	errMissingBatchProcessor = errors.New("batch processor dependency required")
	errMissingHealthChecker  = errors.New("health checker dependency required")
)

// BatchProcessor resolves a batch of usernames with the requested flags.
type BatchProcessor interface {
	Process(ctx context.Context, usernames []string, flags users.Flags) (map[string]users.Result, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	BatchProcessor BatchProcessor
	HealthChecker  HealthChecker
	Logger         *zap.Logger
	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
	// RateLimitPerMinute bounds requests per client address. Zero disables the limit.
	RateLimitPerMinute int
	// RequestTimeout is the deadline applied to every request. Zero disables it.
	RequestTimeout time.Duration
}

// NewHTTPHandler builds the gin engine serving the ReelView API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.BatchProcessor == nil {
		return nil, errMissingBatchProcessor
	}
	if deps.HealthChecker == nil {
		return nil, errMissingHealthChecker
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(requestLogMiddleware(logger))
	router.Use(recoveryMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(rateLimitMiddleware(newClientLimiter(deps.RateLimitPerMinute)))
	router.Use(deadlineMiddleware(deps.RequestTimeout))

	handler := &httpHandler{
		batch:  deps.BatchProcessor,
		health: deps.HealthChecker,
		logger: logger,
	}

	router.GET("/", handler.handleHome)
	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.GET("/", handler.handleAPIHome)
	api.POST("/search", handler.handleBatch(users.Flags{Suggest: true}))
	api.POST("/find", handler.handleBatch(users.Flags{Find: true, Add: true}))
	api.POST("/sync", handler.handleBatch(users.Flags{Sync: true}))

	return router, nil
}

type httpHandler struct {
	batch  BatchProcessor
	health HealthChecker
	logger *zap.Logger
}

func (h *httpHandler) handleHome(c *gin.Context) {
	c.String(http.StatusOK, homeMessage)
}

func (h *httpHandler) handleAPIHome(c *gin.Context) {
	c.String(http.StatusOK, apiMessage)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleBatch(flags users.Flags) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			h.logger.Warn("failed to read request body", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJSON.Error()})
			return
		}
		usernames, err := parseUsernames(body)
		if err != nil {
			h.logger.Warn("rejected batch request", zap.String("path", c.FullPath()), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		results, err := h.batch.Process(c.Request.Context(), usernames, flags)
		if err != nil {
			h.writeBatchError(c, err)
			return
		}
		c.JSON(http.StatusOK, newBatchResponse(results))
	}
}

func (h *httpHandler) writeBatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.logger.Warn("batch did not finish before the request deadline", zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request_timeout", "code": http.StatusGatewayTimeout})
	case catalog.IsStoreFault(err):
		fields := []zap.Field{zap.Error(err)}
		var serviceErr *catalog.ServiceError
		if errors.As(err, &serviceErr) {
			fields = append(fields, zap.String("code", serviceErr.Code()))
		}
		h.logger.Error("batch aborted by database error", fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database_error", "code": http.StatusInternalServerError})
	default:
		h.logger.Error("batch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": serverErrorMessage, "code": http.StatusInternalServerError})
	}
}
