package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(h *Handler, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.GET("/charges/:externalID", h.GetCharge)

		admin := api.Group("/admin")
		{
			admin.POST("/parity-check", h.RunParityCheck)
			admin.POST("/expunge", h.RunExpunge)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
