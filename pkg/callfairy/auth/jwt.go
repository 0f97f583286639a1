package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/config"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims represents the JWT claims. Role is informational; authorization
// always reloads the user.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

var (
	settingsMu sync.RWMutex
	settings   = config.JWTSettings{
		Secret: "callfairy-dev-secret-change-in-production",
		TTL:    24 * time.Hour,
		Issuer: "callfairy",
	}
)

// Configure replaces the signing settings used by GenerateToken and ValidateToken.
func Configure(cfg config.JWTSettings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	if cfg.Secret != "" {
		settings.Secret = cfg.Secret
	}
	if cfg.TTL > 0 {
		settings.TTL = cfg.TTL
	}
	if cfg.Issuer != "" {
		settings.Issuer = cfg.Issuer
	}
}

func currentSettings() config.JWTSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings
}

// GenerateToken creates a new JWT token for a user
func GenerateToken(userID uint, email string, role string) (string, error) {
	s := currentSettings()
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.Secret))
}

// ValidateToken validates a JWT token and returns the claims
func ValidateToken(tokenString string) (*Claims, error) {
	s := currentSettings()
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.Secret), nil
	}, jwt.WithIssuer(s.Issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
