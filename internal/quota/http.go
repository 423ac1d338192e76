package quota

import (
	"net/http"

	"github.com/abduss/bucketsvc/internal/auth"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the usage endpoint onto the router.
func RegisterRoutes(group *gin.RouterGroup, ledger *Ledger) {
	group.GET("/usage", func(c *gin.Context) {
		userID, _, ok := auth.RequireUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		usage, err := ledger.Summary(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute usage"})
			return
		}
		c.JSON(http.StatusOK, usage)
	})
}
