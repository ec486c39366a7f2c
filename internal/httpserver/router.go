package httpserver

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailwarm/internal/handler"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(adminHandler *handler.AdminHandler, jwtSecret string) *Router {
	r := gin.Default()

	// Public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.POST("/accounts/:email/activate", adminHandler.ActivateAccount)
		auth.POST("/accounts/:email/pause", adminHandler.PauseAccount)
		auth.POST("/scheduler/run", adminHandler.TriggerGlobalCycle)
		auth.GET("/accounts/:email/volume", adminHandler.GetVolume)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
