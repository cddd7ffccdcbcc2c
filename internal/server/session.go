package server

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"reelmarket/internal/domain"
)

const defaultSessionTTL = 15 * time.Minute

// checkoutClaims carries the checkout chosen by the client between method
// selection and payment. The token is a tamper-evident handle, not a login.
type checkoutClaims struct {
	jwt.RegisteredClaims
	Method string  `json:"method,omitempty"`
	Amount float64 `json:"amount"`
}

var errSessionSecret = errors.New("checkout session secret not configured")

func signCheckoutSession(secret string, c domain.Checkout, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errSessionSecret
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	expires := now.Add(ttl)
	claims := checkoutClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.DealID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Method: c.Method,
		Amount: c.Amount,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

func parseCheckoutSession(secret, token string, now time.Time) (domain.Checkout, error) {
	if strings.TrimSpace(secret) == "" {
		return domain.Checkout{}, errSessionSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	claims := &checkoutClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Checkout{}, err
	}
	if !parsed.Valid {
		return domain.Checkout{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return domain.Checkout{}, errors.New("subject claim required")
	}
	if claims.ID == "" {
		return domain.Checkout{}, errors.New("jti claim required")
	}
	return domain.Checkout{DealID: claims.Subject, Method: claims.Method, Amount: claims.Amount, SessionID: claims.ID}, nil
}
