package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// operatorCtxKey is the Gin context key used to store the authenticated operator name.
const operatorCtxKey = "operator"

// APIKeyMiddleware maps X-API-Key to an operator name and rejects
// everything else with 401.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		operator, ok := lookup(keys, apiKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(operatorCtxKey, operator)
		c.Next()
	}
}

// Operator returns the authenticated operator name from the request context.
func Operator(c *gin.Context) string {
	v, _ := c.Get(operatorCtxKey)
	s, _ := v.(string)
	return s
}

// lookup compares against every configured key in constant time.
func lookup(keys map[string]string, candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}
	var (
		name  string
		found bool
	)
	for key, operator := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			name, found = operator, true
		}
	}
	return name, found
}
