// Package api exposes the trigger and read endpoints over HTTP. Run triggers
// return 202 immediately and execute in the background; a run can take tens of
// seconds of metric-store and CloudWatch round trips.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftwatch/metric-sentinel/internal/config"
	"github.com/driftwatch/metric-sentinel/internal/models"
	"github.com/driftwatch/metric-sentinel/internal/services"
)

// runTimeout bounds a background run kicked off by a trigger endpoint.
const runTimeout = 5 * time.Minute

// ReportRunner is the service surface the handlers drive.
type ReportRunner interface {
	RunAnomalyCheck(ctx context.Context, opts services.RunOptions) (models.AnomalyReport, error)
	RunCurrentCheck(ctx context.Context, opts services.RunOptions) (models.AnomalyReport, error)
	LatestReport(ctx context.Context) (models.AnomalyReport, error)
	LatencyP95() time.Duration
}

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	logger *slog.Logger
	runner ReportRunner
}

// NewHandlers constructs the handler set.
func NewHandlers(logger *slog.Logger, runner ReportRunner) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, runner: runner}
}

// NewRouter builds the gin engine with all routes and middleware attached.
func NewRouter(cfg config.ServerConfig, h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.handleHealth)

	v1 := router.Group("/api/v1", apiKeyAuth(cfg.APIKey))
	v1.POST("/runs/anomaly", h.handleRunAnomaly)
	v1.POST("/runs/current", h.handleRunCurrent)
	v1.GET("/reports/latest", h.handleLatestReport)

	return router
}

// apiKeyAuth rejects requests without the configured X-API-Key. An empty
// configured key disables auth for local development.
func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key != "" && c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing api key"})
			return
		}
		c.Next()
	}
}

// runRequest is the optional trigger body overriding parts of the window policy.
type runRequest struct {
	DaysBefore   *int `json:"days_before"`
	WidthMinutes *int `json:"width_minutes"`
}

func (r runRequest) options() services.RunOptions {
	opts := services.RunOptions{DaysBefore: r.DaysBefore}
	if r.WidthMinutes != nil {
		width := time.Duration(*r.WidthMinutes) * time.Minute
		opts.Width = &width
	}
	return opts
}

func (h *Handlers) handleRunAnomaly(c *gin.Context) {
	h.launchRun(c, "anomaly", h.runner.RunAnomalyCheck)
}

func (h *Handlers) handleRunCurrent(c *gin.Context) {
	h.launchRun(c, "current", h.runner.RunCurrentCheck)
}

// launchRun validates the trigger body, acknowledges with 202, and executes
// the run in a detached goroutine with its own deadline.
func (h *Handlers) launchRun(c *gin.Context, kind string, run func(context.Context, services.RunOptions) (models.AnomalyReport, error)) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}
	if req.DaysBefore != nil && *req.DaysBefore < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days_before must be >= 0"})
		return
	}
	if req.WidthMinutes != nil && *req.WidthMinutes <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width_minutes must be > 0"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := run(ctx, req.options()); err != nil {
			h.logger.Error("triggered run failed", slog.String("kind", kind), slog.Any("error", err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "kind": kind})
}

func (h *Handlers) handleLatestReport(c *gin.Context) {
	report, err := h.runner.LatestReport(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoReport) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no report available yet"})
			return
		}
		h.logger.Error("latest report lookup failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"run_p95": h.runner.LatencyP95().String(),
	})
}
