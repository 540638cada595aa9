package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const adminTokenHeader = "X-Admin-Token"

// AdminTokenMiddleware guards the API key management endpoints. The expected
// token comes from configuration; requests without a matching token are
// rejected before reaching the handler.
func AdminTokenMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedToken == "" {
			// Server misconfiguration, not a caller error.
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Admin token not configured on server"})
			c.Abort()
			return
		}

		token := c.GetHeader(adminTokenHeader)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Missing admin token"})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid admin token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
