package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// JWTClaims represents the JWT claims structure
type JWTClaims struct {
	UserID   string `json:"sub"`
	JTI      string `json:"jti"` // JWT ID for revocation
	DeviceID string `json:"device_id,omitempty"`
	Bridge   bool   `json:"bridge,omitempty"` // may relay payment-queue callbacks
	jwt.RegisteredClaims
}

// JWTMiddleware handles JWT validation and revocation checking
type JWTMiddleware struct {
	secret          []byte
	issuer          string
	blocklist       *redis.Client
	accessTTL       time.Duration
	blocklistPrefix string
	logger          *zap.Logger
}

// NewJWTMiddleware creates a new JWT middleware
func NewJWTMiddleware(secret, issuer string, redisClient *redis.Client, accessTTL time.Duration, logger *zap.Logger) *JWTMiddleware {
	return &JWTMiddleware{
		secret:          []byte(secret),
		issuer:          issuer,
		blocklist:       redisClient,
		accessTTL:       accessTTL,
		blocklistPrefix: "jwt:blocked:",
		logger:          logger,
	}
}

// AccessTTL returns the lifetime of issued access tokens
func (j *JWTMiddleware) AccessTTL() time.Duration {
	return j.accessTTL
}

// Authenticate validates the JWT token and sets user context
func (j *JWTMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Missing authorization header")
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := j.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		// Check if token is revoked
		ctx := c.Request.Context()
		blocklisted, err := j.blocklist.Get(ctx, j.blocklistPrefix+claims.JTI).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			j.logger.Error("failed to check token blocklist", zap.Error(err))
			// Fail closed for security
			response.ServiceUnavailable(c, "Token validation unavailable")
			c.Abort()
			return
		}

		if blocklisted != "" {
			response.Error(c, http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked")
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("jti", claims.JTI)
		if claims.DeviceID != "" {
			c.Set("device_id", claims.DeviceID)
		}
		c.Set("bridge", claims.Bridge)

		c.Next()
	}
}

// GenerateAccessToken creates a new access token for a device.
// Only bridge tokens may reach the payment-queue callbacks.
func (j *JWTMiddleware) GenerateAccessToken(userID, deviceID string, bridge bool) (string, string, error) {
	jti := uuid.New().String()
	now := time.Now()

	claims := &JWTClaims{
		UserID:   userID,
		JTI:      jti,
		DeviceID: deviceID,
		Bridge:   bridge,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessTTL)),
			Issuer:    j.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", "", err
	}

	return tokenString, jti, nil
}

// ParseToken parses a token string and returns the claims without checking the Redis blocklist.
func (j *JWTMiddleware) ParseToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithIssuer(j.issuer))
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RevokeToken adds a token to the blocklist
func (j *JWTMiddleware) RevokeToken(ctx context.Context, jti string, remainingTTL time.Duration) error {
	return j.blocklist.Set(ctx, j.blocklistPrefix+jti, "1", remainingTTL).Err()
}
