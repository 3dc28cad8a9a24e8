// Package api exposes the questionnaire wizard over HTTP.
package api

import (
	"net/http"

	"advisory-portal/internal/common/auth"
	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/common/observability"
	"advisory-portal/internal/questionnaire/wizard"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Registry      *wizard.Registry
	Resolver      auth.IdentityResolver // nil disables sign-in
	Logger        logger.Logger
	Observability *observability.Observability
	Debug         bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(cfg.Logger))
	if cfg.Observability != nil {
		engine.Use(cfg.Observability.Middleware())
	}

	errs := apperrors.NewErrorHandler(cfg.Logger)
	h := NewWizardHandler(cfg.Registry, errs, cfg.Logger)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, apperrors.APIResponse{
			Success: true,
			Data:    gin.H{"status": "ok", "sessions": cfg.Registry.Len()},
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1/wizard")
	v1.Use(IdentityMiddleware(cfg.Resolver, errs))
	{
		v1.POST("/sessions", h.StartSession)
		v1.DELETE("/sessions", h.EndSession)
		v1.GET("/resume", h.Resume)

		v1.GET("/step", h.CurrentStep)
		v1.POST("/next", h.Next)
		v1.POST("/previous", h.Previous)

		v1.GET("/answers", h.Answers)
		v1.PUT("/answers/:key", h.UpdateAnswer)
		v1.PUT("/answers/:key/:subkey", h.UpdateNestedAnswer)

		v1.GET("/goals/qualified", h.QualifiedGoals)
		v1.POST("/goals", h.AddGoal)
		v1.PATCH("/goals/:id", h.UpdateGoal)
		v1.DELETE("/goals/:id", h.RemoveGoal)
		v1.PUT("/goals/:id/details/:field", h.UpdateGoalDetail)

		v1.GET("/progress", h.Progress)
		v1.POST("/checkpoint", h.Checkpoint)
	}

	return engine
}
