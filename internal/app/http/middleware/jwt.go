package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AccountIDKey is the gin context key holding the authenticated account id.
const AccountIDKey = "account_id"

var errNoToken = errors.New("authorization header missing")

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "JWT secret not configured"})
			return
		}
		accountID, err := authenticate(c, []byte(secret))
		if errors.Is(err, errNoToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// OptionalAuth sets the account id when a valid token is present and lets the
// request through either way. Handlers treat a missing id as unauthenticated.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			if accountID, err := authenticate(c, []byte(secret)); err == nil {
				c.Set(AccountIDKey, accountID)
			}
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, key []byte) (uint, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return 0, errNoToken
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return 0, errors.New("bearer token malformed")
	}

	token, err := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid token claims")
	}
	return accountIDFromClaims(claims)
}

// accountIDFromClaims accepts a numeric account_id (or legacy user_id) claim,
// falling back to a numeric subject.
func accountIDFromClaims(claims jwt.MapClaims) (uint, error) {
	for _, key := range []string{"account_id", "user_id"} {
		if v, ok := claims[key].(float64); ok && v >= 1 {
			return uint(v), nil
		}
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		id, err := strconv.ParseUint(sub, 10, 64)
		if err == nil && id > 0 {
			return uint(id), nil
		}
	}
	return 0, errors.New("token carries no account id")
}

// AccountID returns the authenticated account, or 0.
func AccountID(c *gin.Context) uint {
	return c.GetUint(AccountIDKey)
}
