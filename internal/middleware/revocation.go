package middleware

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	appJWT "talentbridge-backend/pkg/jwt"
)

// Tokens revoked before expiry (logout, forced sign-out) are keyed by their
// JWT ID under this prefix. The auth service writes the keys; this service
// only reads them.
const revokedTokenPrefix = "blacklist:"

// RedisRevocationChecker looks up revoked tokens in Redis
type RedisRevocationChecker struct {
	client *redis.Client
}

// NewRedisRevocationChecker creates a new RedisRevocationChecker
func NewRedisRevocationChecker(client *redis.Client) *RedisRevocationChecker {
	return &RedisRevocationChecker{client: client}
}

// IsTokenRevoked reports whether the token's JWT ID is blacklisted. The
// signature was already verified by the auth middleware, so the token is only
// decoded here, not re-validated.
func (c *RedisRevocationChecker) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	claims, err := decodeClaims(tokenString)
	if err != nil {
		return false, err
	}
	if claims.ID == "" {
		return false, nil
	}

	exists, err := c.client.Exists(ctx, revokedTokenPrefix+claims.ID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation list: %w", err)
	}

	return exists > 0, nil
}

func decodeClaims(tokenString string) (*appJWT.Claims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &appJWT.Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*appJWT.Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	return claims, nil
}
