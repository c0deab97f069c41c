package httpapi

import (
	"errors"
	"time"

	"github.com/BoldFlame-Enterprises/verigate-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies the session tokens that authenticate
// dashboard users and scanner devices. Access and refresh tokens use
// separate secrets so a leaked refresh secret cannot mint access tokens.
type TokenManager struct {
	secret        []byte
	refreshSecret []byte
	ttl           time.Duration
	refreshTTL    time.Duration
}

func NewTokenManager(secret, refreshSecret string, ttl, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:        []byte(secret),
		refreshSecret: []byte(refreshSecret),
		ttl:           ttl,
		refreshTTL:    refreshTTL,
	}
}

func (m *TokenManager) GeneratePair(user models.User) (access, refresh string, err error) {
	access, err = m.sign(user, m.secret, m.ttl)
	if err != nil {
		return "", "", err
	}
	refresh, err = m.sign(user, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (m *TokenManager) sign(user models.User, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "access-service",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *TokenManager) VerifyAccess(token string) (*Claims, error) {
	return verifyToken(token, m.secret)
}

func (m *TokenManager) VerifyRefresh(token string) (*Claims, error) {
	return verifyToken(token, m.refreshSecret)
}

func verifyToken(token string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}
