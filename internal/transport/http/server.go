package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docchat/internal/bootstrap"
	"docchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerAPI(router, handler.NewSessionHandler(app.Sessions))
	return router
}

func registerAPI(router *gin.Engine, sessionHandler *handler.SessionHandler) {
	v1 := router.Group("/api/v1")

	sessions := v1.Group("/sessions")
	sessions.POST("", sessionHandler.CreateSession)
	sessions.GET("", sessionHandler.ListSessions)
	sessions.POST("/:id/documents", sessionHandler.UploadDocuments)
	sessions.POST("/:id/index", sessionHandler.BuildIndex)
	sessions.POST("/:id/open", sessionHandler.OpenSession)
	sessions.POST("/:id/ask", sessionHandler.Ask)
	sessions.GET("/:id/history", sessionHandler.GetHistory)
	sessions.DELETE("/:id/history", sessionHandler.DeleteHistory)

	v1.GET("/history", sessionHandler.GlobalHistory)
	v1.DELETE("/history", sessionHandler.DeleteAllHistory)
}
