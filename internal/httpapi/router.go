package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/image-edit/internal/common"
	"github.com/suPer8Hu/image-edit/internal/httpapi/handlers"
	"github.com/suPer8Hu/image-edit/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/", h.Health)
	r.GET("/ping", h.Health)

	api := r.Group("/api")
	api.POST("/jobs", h.CreateJob)
	api.GET("/jobs", h.ListJobs)
	api.GET("/jobs/:id", h.GetJob)
	api.GET("/jobs/:id/events", h.StreamJob)
	return r
}
