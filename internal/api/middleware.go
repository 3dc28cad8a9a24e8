package api

import (
	"strings"
	"time"

	"advisory-portal/internal/common/auth"
	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"

	"github.com/gin-gonic/gin"
)

const (
	HeaderSessionID = "X-Session-ID"

	identityKey = "identity"
)

// IdentityMiddleware resolves the bearer token, if any. Requests without a
// token run anonymously; a rejected token stops the request.
func IdentityMiddleware(resolver auth.IdentityResolver, errs *apperrors.ErrorHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" || resolver == nil {
			c.Next()
			return
		}

		identity, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			errs.HandleHTTPError(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func identityFrom(c *gin.Context) string {
	return c.GetString(identityKey)
}

// RequestLogger logs one line per request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if sid := c.GetHeader(HeaderSessionID); sid != "" {
			fields["session_id"] = sid
		}
		log.Debug("request handled", fields)
	}
}
