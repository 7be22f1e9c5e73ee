package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthContextKey = "user_id"
)

// Claims represents JWT claims
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator validates and issues HS256 bearer tokens
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator for the shared secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

var errNoToken = errors.New("no bearer token")

// parse extracts and validates the bearer token of a request
func (a *Authenticator) parse(c *gin.Context) (*Claims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errNoToken
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("invalid authorization format")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}
	if claims.UserID <= 0 {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parse(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Valid authentication required"})
			c.Abort()
			return
		}

		c.Set(AuthContextKey, claims.UserID)
		c.Next()
	}
}

// OptionalAuth identifies the user when a token is sent and lets anonymous
// requests through. A token that is sent but invalid is rejected.
func (a *Authenticator) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parse(c)
		switch {
		case errors.Is(err, errNoToken):
			c.Next()
		case err != nil:
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
		default:
			c.Set(AuthContextKey, claims.UserID)
			c.Next()
		}
	}
}

// GenerateToken generates a JWT token for a user
func (a *Authenticator) GenerateToken(userID int64, email string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// GetUserID retrieves the user ID from the context
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(AuthContextKey)
	if !exists {
		return 0, false
	}

	id, ok := userID.(int64)
	return id, ok
}
