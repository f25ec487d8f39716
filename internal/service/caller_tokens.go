package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/boddenberg/retail-ledger/internal/domain"
)

const callerIssuer = "retail-ledger"

// CallerClaims identifies a service allowed to call the ledger API.
type CallerClaims struct {
	Caller string `json:"caller"`
	Scope  string `json:"scope"`
	jwt.RegisteredClaims
}

// CallerTokens signs and verifies HS256 caller tokens.
type CallerTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCallerTokens creates a token issuer. A non-positive ttl means one hour.
func NewCallerTokens(secret string, ttl time.Duration) (*CallerTokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("caller token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CallerTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for caller.
func (t *CallerTokens) Issue(caller, scope string) (string, error) {
	if caller == "" {
		return "", &domain.ErrValidation{Field: "caller", Message: "required"}
	}
	now := t.now()
	claims := CallerClaims{
		Caller: caller,
		Scope:  scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			Issuer:    callerIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign caller token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (t *CallerTokens) Parse(token string) (*CallerClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &CallerClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(callerIssuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired caller token"}
	}

	claims, ok := parsed.Claims.(*CallerClaims)
	if !ok || !parsed.Valid || claims.Caller == "" {
		return nil, &domain.ErrUnauthorized{Message: "invalid caller token"}
	}
	return claims, nil
}
