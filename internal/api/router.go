package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"automation-service/internal/config"
	"automation-service/internal/db"
)

// NewRouter wires the administrative CRUD surface, the execution history
// queries, the live execution feed and the operational endpoints.
func NewRouter(database *db.DB, logger *logrus.Logger, cfg config.Config, hub *Hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(database, logger)
	api := r.Group(cfg.API.BasePath)
	{
		// Templates
		api.POST("/templates", h.CreateTemplate)
		api.GET("/templates", h.ListTemplates)
		api.GET("/templates/:id", h.GetTemplate)
		api.PUT("/templates/:id", h.UpdateTemplate)
		api.DELETE("/templates/:id", h.DeleteTemplate)

		// Rules
		api.POST("/rules", h.CreateRule)
		api.GET("/rules", h.ListRules)
		api.GET("/rules/:id", h.GetRule)
		api.PUT("/rules/:id", h.UpdateRule)
		api.DELETE("/rules/:id", h.DeleteRule)
		api.POST("/rules/:id/activate", h.ActivateRule)
		api.POST("/rules/:id/deactivate", h.DeactivateRule)

		// Execution history
		api.GET("/rules/:id/executions", h.ListRuleExecutions)
		api.GET("/executions/:id", h.GetExecution)
	}

	r.GET("/ws/executions", hub.Serve)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
