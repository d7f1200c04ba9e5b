package mailer

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lettercast/internal/common/errors"
)

// UnsubscribeClaims carries the subscriber identity inside a signed
// unsubscribe link, so one-click unsubscribe needs no session.
type UnsubscribeClaims struct {
	Address      string `json:"addr"`
	SubscriberID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies unsubscribe tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer. Tokens stay valid for a long window
// so links in old emails keep working.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.ConfigError("unsubscribe secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed token for the given recipient.
func (t *TokenIssuer) Issue(address, subscriberID string) (string, error) {
	claims := UnsubscribeClaims{
		Address:      address,
		SubscriberID: subscriberID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "lettercast",
			Subject:   "unsubscribe",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses a token and returns its claims.
func (t *TokenIssuer) Verify(tokenString string) (*UnsubscribeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UnsubscribeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, errors.ValidationError("invalid unsubscribe token").WithContext("cause", err.Error())
	}

	claims, ok := token.Claims.(*UnsubscribeClaims)
	if !ok || !token.Valid {
		return nil, errors.ValidationError("invalid unsubscribe token")
	}
	return claims, nil
}
