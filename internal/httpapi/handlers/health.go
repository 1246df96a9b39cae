package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/image-edit/internal/common"
)

func (h *Handler) Health(c *gin.Context) {
	common.OK(c, http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "image edit api is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
