package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// requireAPIKey enforces the shared secret. The key is accepted either as
// the "key" query parameter (legacy trigger compatibility) or the
// X-Api-Key header. An empty configured key disables the check.
func requireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.Query("key")
		if got == "" {
			got = c.GetHeader("X-Api-Key")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid or missing api key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
