package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/response"
)

const (
	UserIDKey      = "user_id"
	UsernameKey    = "username"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
	AuthCookieName = "access_token"
	UserIDHeader   = "X-User-ID"
)

// TokenValidator validates an identity token.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates identity tokens locally.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth returns a Gin middleware that validates the bearer token or the
// access_token cookie.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := ExtractToken(c)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				response.Unauthorized(c, "token has expired")
			} else {
				response.Forbidden(c, "token is invalid")
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.Identity())
		c.Set(UsernameKey, claims.Username)
		c.Request = c.Request.WithContext(log.WithUser(c.Request.Context(), claims.Identity()))

		c.Next()
	}
}

// TrustHeader returns a Gin middleware that takes the caller identity from the
// X-User-ID header. Use it only behind a gateway that authenticates requests.
func TrustHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			response.Unauthorized(c, errMissingToken.Error())
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(log.WithUser(c.Request.Context(), userID))
		c.Next()
	}
}

var (
	errMissingToken = errors.New("you are not authenticated")
	errBadFormat    = errors.New("invalid authorization format")
)

// ExtractToken reads the token from the Authorization header, falling back to the cookie.
func ExtractToken(c *gin.Context) (string, error) {
	if authHeader := c.GetHeader(AuthHeaderKey); authHeader != "" {
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			return "", errBadFormat
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if token == "" {
			return "", errMissingToken
		}
		return token, nil
	}

	if cookie, err := c.Cookie(AuthCookieName); err == nil && cookie != "" {
		return cookie, nil
	}

	return "", errMissingToken
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	if id, exists := c.Get(UserIDKey); exists {
		return id.(string)
	}
	return ""
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(UsernameKey); exists {
		return username.(string)
	}
	return ""
}
