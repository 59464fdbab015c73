package api

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"immostats/internal/auth"
)

func SetupRoutes(router *gin.Engine, handler *Handler, authorizer auth.Authorizer, logger *logrus.Logger) {
	router.Use(RequestID(), RequestLogger(logger))

	router.GET("/api/health", handler.Health)

	api := router.Group("/api")
	api.Use(auth.Middleware(authorizer, logger))
	{
		api.GET("/stats/market", handler.GetMarketStats)
		api.GET("/stats/cities", handler.GetCityRanking)
		api.GET("/stats/distribution", handler.GetPriceDistribution)
		api.GET("/stats/trends", handler.GetTrends)
		api.GET("/properties/nearby", handler.GetNearby)
		api.POST("/ingestion/run", handler.TriggerIngestion)
		api.GET("/ingestion/status", handler.GetIngestionStatus)
		api.POST("/admin/retention", handler.PurgeExpired)
	}
}
