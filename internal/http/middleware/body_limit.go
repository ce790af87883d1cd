package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaxBody caps the request body at limit bytes. A non-positive limit disables the cap.
func MaxBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
