package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtSecretKey is used to verify JWT tokens minted by the authentication
// service. Both sides must be configured with the same JWT_SECRET.
var jwtSecretKey = []byte("dev-only-kds-backend-secret")

// SetJWTSecret overrides the signing secret. Called once from main after
// environment loading; not safe to call concurrently with token validation.
func SetJWTSecret(secret string) {
	if secret != "" {
		jwtSecretKey = []byte(secret)
	}
}

// AccessTokenTTL bounds tokens minted by GenerateAccessToken (dev/test helper).
const AccessTokenTTL = 12 * time.Hour

// Claims defines the JWT claims structure shared with the auth service.
// Role drives room authorization for viewer sessions; TableNumber is set
// only for customer sessions and scopes them to their own table room.
type Claims struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	TableNumber string `json:"table_number,omitempty"`
	jwt.RegisteredClaims
}

// GenerateAccessToken creates a signed access token. Production tokens come
// from the auth service; this helper exists for local development and tests.
func GenerateAccessToken(userID int64, username, role, tableNumber string) (string, error) {
	expirationTime := time.Now().Add(AccessTokenTTL)
	claims := &Claims{
		UserID:      userID,
		Username:    username,
		Role:        role,
		TableNumber: tableNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "kds-backend",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a JWT token string.
// It returns the claims if the token is valid, otherwise an error.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
