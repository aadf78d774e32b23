package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenMachineMonitor/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	usernameKey = "username"
	roleKey     = "role"
)

// RequireBearer validates the Authorization header and stores username and
// role in the gin context.
func RequireBearer(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthorized, "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthorized, "invalid authorization header format", nil))
			return
		}

		claims, err := v.Verify(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse(types.CodeUnauthorized, "invalid or expired token", nil))
			return
		}

		c.Set(usernameKey, claims.Username)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// Username returns the authenticated user, empty without RequireBearer.
func Username(c *gin.Context) string {
	return c.GetString(usernameKey)
}

func Role(c *gin.Context) string {
	return c.GetString(roleKey)
}
