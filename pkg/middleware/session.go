package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"startline/pkg/response"
)

const (
	// AuthorizationHeader carries the session token as a bearer credential
	AuthorizationHeader = "Authorization"
	// ContextKeyUserID is the gin context key for the authenticated user
	ContextKeyUserID = "user_id"
	// ContextKeyCartID is the gin context key for the cart bound to the session
	ContextKeyCartID = "cart_id"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
)

// SessionClaims are the JWT claims minted for a cart session
type SessionClaims struct {
	UserID string `json:"uid"`
	CartID string `json:"cart_id,omitempty"`
	jwt.RegisteredClaims
}

// SessionConfig holds session token settings
type SessionConfig struct {
	Secret   string
	TokenTTL time.Duration
	Issuer   string
}

// SessionManager mints and verifies cart session tokens
type SessionManager struct {
	config *SessionConfig
}

// NewSessionManager creates a session manager
func NewSessionManager(cfg *SessionConfig) *SessionManager {
	return &SessionManager{config: cfg}
}

// Mint creates a signed session token for a user and cart
func (m *SessionManager) Mint(userID, cartID string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		UserID: userID,
		CartID: cartID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token
func (m *SessionManager) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SessionMiddleware validates the bearer token and stores the user in context.
// Requests without a token fall back to the X-User-ID header so load tests
// can skip the session handshake.
func SessionMiddleware(manager *SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			if userID := c.GetHeader("X-User-ID"); userID != "" {
				c.Set(ContextKeyUserID, userID)
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody("MISSING_SESSION", "session token is required"))
			return
		}

		claims, err := manager.Verify(tokenString)
		if err != nil {
			code := "INVALID_SESSION"
			if errors.Is(err, ErrExpiredToken) {
				code = "SESSION_EXPIRED"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody(code, err.Error()))
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		if claims.CartID != "" {
			c.Set(ContextKeyCartID, claims.CartID)
		}
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// GetUserID extracts the authenticated user ID from gin context
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

// GetCartID extracts the session-bound cart ID from gin context
func GetCartID(c *gin.Context) (string, bool) {
	cartID, exists := c.Get(ContextKeyCartID)
	if !exists {
		return "", false
	}
	id, ok := cartID.(string)
	return id, ok
}
