// Package auth verifies bearer tokens issued by the storefront's identity
// service. Tokens are never minted here.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey = "user_id"
	roleKey   = "role"

	RoleAdmin = "admin"
)

var (
	errMissingToken = errors.New("authorization header is missing")
	errBadToken     = errors.New("invalid or expired token")
	errNoSubject    = errors.New("token has no subject")
)

// Claims carries the identity fields the API reads. Older tokens put the
// user id in "user_id" instead of "sub".
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) subject() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates an HMAC-signed token and returns its claims.
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errBadToken
	}
	if claims.subject() == "" {
		return nil, errNoSubject
	}
	return claims, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// caller's id and role on the context.
func (v *Verifier) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			unauthorized(c, errMissingToken)
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))

		claims, err := v.Parse(tokenString)
		if err != nil {
			unauthorized(c, err)
			return
		}
		c.Set(userIDKey, claims.subject())
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// RequireAdmin must run after RequireUser.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(roleKey) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "admin role required",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller set by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(roleKey) == RoleAdmin
}

func unauthorized(c *gin.Context, err error) {
	msg := err.Error()
	if errors.Is(err, errBadToken) {
		msg = errBadToken.Error()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": msg,
	})
}
