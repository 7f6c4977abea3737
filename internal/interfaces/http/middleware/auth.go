package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bowatch/bowatch/internal/shared/constants"
	apperrors "github.com/bowatch/bowatch/internal/shared/errors"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils"
)

// AuthMiddleware guards the admin API with a static bearer token. An empty
// token disables the check.
type AuthMiddleware struct {
	token  []byte
	logger logger.Interface
}

func NewAuthMiddleware(token string, log logger.Interface) *AuthMiddleware {
	return &AuthMiddleware{
		token:  []byte(token),
		logger: log,
	}
}

func (m *AuthMiddleware) Enabled() bool {
	return len(m.token) > 0
}

func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			utils.ErrorResponseWithError(c, apperrors.NewUnauthorizedError("missing authorization token"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.ErrorResponseWithError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), m.token) != 1 {
			m.logger.Warnw("rejected admin token", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			utils.ErrorResponseWithError(c, apperrors.NewUnauthorizedError("invalid admin token"))
			c.Abort()
			return
		}

		c.Next()
	}
}
