package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/ai-radar/internal/coordinator"
	"github.com/example/ai-radar/internal/mirror"
	"github.com/example/ai-radar/internal/pipeline"
	"github.com/example/ai-radar/internal/repository"
	"github.com/example/ai-radar/internal/status"
)

// Controller is the slice of the coordinator exposed over HTTP.
type Controller interface {
	Status() status.Record
	State() pipeline.State
	HasGrant() bool
	Tap(ctx context.Context) error
	GrantConsent(ctx context.Context, token string) error
	Revoke()
	RunNow(ctx context.Context) error
	MetricsSummary(ctx context.Context) (*coordinator.MetricsSummary, error)
	FindRun(ctx context.Context, requestID string) (*repository.RunLog, error)
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	status.Record
	State string `json:"state"`
	Grant bool   `json:"grant"`
}

type consentRequest struct {
	Token string `json:"token" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, ctrl Controller, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	if authMiddleware != nil {
		v1.Use(authMiddleware)
	}

	v1.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, StatusResponse{
			Record: ctrl.Status(),
			State:  ctrl.State().String(),
			Grant:  ctrl.HasGrant(),
		})
	})

	v1.POST("/status/tap", func(c *gin.Context) {
		if err := ctrl.Tap(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true})
	})

	v1.POST("/consent", func(c *gin.Context) {
		var req consentRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
			return
		}
		if err := ctrl.GrantConsent(c.Request.Context(), req.Token); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"grant": true})
	})

	v1.DELETE("/consent", func(c *gin.Context) {
		ctrl.Revoke()
		c.Status(http.StatusNoContent)
	})

	v1.POST("/runs", func(c *gin.Context) {
		if err := ctrl.RunNow(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": true, "state": ctrl.State().String()})
	})

	v1.GET("/runs/metrics", func(c *gin.Context) {
		summary, err := ctrl.MetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	v1.GET("/runs/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}
		log, err := ctrl.FindRun(c.Request.Context(), requestID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, log)
	})
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusCode(err), gin.H{"error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrGrantMissing):
		return http.StatusPreconditionFailed
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, mirror.ErrGrantHeld):
		return http.StatusConflict
	case errors.Is(err, mirror.ErrInvalidConsent), errors.Is(err, mirror.ErrConsentReused):
		return http.StatusUnauthorized
	case errors.Is(err, coordinator.ErrJournalDisabled), errors.Is(err, pipeline.ErrStopped), errors.Is(err, status.ErrNoTapHandler):
		return http.StatusServiceUnavailable
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
