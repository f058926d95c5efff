package auth

import (
	"time"

	"campus-chat/domain"
	cerrors "campus-chat/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the data stored inside a session token. The role is a
// snapshot taken at issue time; authorization always re-reads the
// account row, so a stale claim only widens what gets re-checked, never
// what gets granted.
type Claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates session tokens with an HMAC secret
// loaded from configuration.
type TokenManager struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

func NewTokenManager(secret []byte, issuer string, lifetime time.Duration) *TokenManager {
	return &TokenManager{secret: secret, issuer: issuer, lifetime: lifetime}
}

// Generate creates a signed token for the account using HS256.
func (m *TokenManager) Generate(accountID uuid.UUID, role domain.Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		AccountID: accountID.String(),
		Role:      string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses the token, checks signature and expiry, and returns
// the embedded principal.
func (m *TokenManager) Validate(tokenString string) (domain.Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return domain.Principal{}, cerrors.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return domain.Principal{}, cerrors.ErrInvalidToken
	}
	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return domain.Principal{}, cerrors.ErrInvalidToken
	}
	role, ok := domain.ToRole(claims.Role)
	if !ok {
		return domain.Principal{}, cerrors.ErrInvalidToken
	}
	return domain.Principal{AccountID: accountID, Role: role}, nil
}
