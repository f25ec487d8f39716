package service_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/service"
)

const testSecret = "0123456789abcdef0123"

func TestCallerTokens_RoundTrip(t *testing.T) {
	tokens, err := service.NewCallerTokens(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tokens.Issue("atm-gateway", "ledger:write")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := tokens.Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Caller != "atm-gateway" || claims.Scope != "ledger:write" || claims.Subject != "atm-gateway" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestCallerTokens_Rejects(t *testing.T) {
	tokens, _ := service.NewCallerTokens(testSecret, time.Minute)
	other, _ := service.NewCallerTokens("another-secret-of-enough-length", time.Minute)
	foreign, _ := other.Issue("atm-gateway", "")
	valid, _ := tokens.Issue("atm-gateway", "")

	cases := map[string]string{
		"garbage":       "not-a-token",
		"wrong secret":  foreign,
		"tampered":      valid[:len(valid)-2] + "xx",
		"empty":         "",
		"missing parts": strings.Join(strings.Split(valid, ".")[:2], "."),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Parse(tok)
			var unauth *domain.ErrUnauthorized
			if !errors.As(err, &unauth) {
				t.Fatalf("expected Unauthorized, got %v", err)
			}
		})
	}
}

func TestCallerTokens_Expired(t *testing.T) {
	tokens, _ := service.NewCallerTokens(testSecret, time.Nanosecond)
	tok, err := tokens.Issue("atm-gateway", "")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := tokens.Parse(tok); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestCallerTokens_ShortSecret(t *testing.T) {
	if _, err := service.NewCallerTokens("short", time.Minute); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	tokens, _ := service.NewCallerTokens(testSecret, time.Minute)
	if _, err := tokens.Issue("", ""); err == nil {
		t.Fatal("expected empty caller to be rejected")
	}
}
