package http

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter wires the relay endpoint and the health check. CORS is
// deliberately permissive: the health endpoint is a pairing convenience, not
// a sensitive surface, and the websocket endpoint does its own key check.
func SetupRouter(relayController *RelayController) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/health", relayController.Health)
	router.GET("/ws", relayController.Join)

	router.NoRoute(func(ctx *gin.Context) {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
			"path":  ctx.Request.URL.Path,
		})
	})

	return router
}
