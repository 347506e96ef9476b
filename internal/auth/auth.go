// Package auth provides bearer-token validation for the capture API.
package auth

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/qbitspark/sms-relay/pkg/types"
	"github.com/sirupsen/logrus"
)

// Validator handles authentication validation
type Validator struct {
	apiTokens map[string]bool
}

// NewValidator creates a validator from the API_TOKENS environment
// variable (comma separated). With no tokens configured the API is open,
// which is the expected mode for a loopback-only deployment.
func NewValidator() (*Validator, error) {
	validator := &Validator{
		apiTokens: make(map[string]bool),
	}

	for _, token := range strings.Split(os.Getenv("API_TOKENS"), ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			validator.apiTokens[token] = true
		}
	}

	if len(validator.apiTokens) == 0 {
		logrus.Warn("No API tokens configured, capture API is unauthenticated")
	}

	return validator, nil
}

// Middleware returns the gin middleware enforcing token auth.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(v.apiTokens) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header || !v.apiTokens[token] {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
				Error:   "unauthorized",
				Message: "valid bearer token required",
				Code:    401,
			})
			return
		}

		c.Next()
	}
}
