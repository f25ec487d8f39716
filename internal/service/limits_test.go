package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/service"
)

func TestLimitPolicy_Check(t *testing.T) {
	debit := func(limit string) *domain.Card {
		return &domain.Card{ID: "c", Type: domain.CardDebit, Active: true, DailyWithdrawalLimit: domain.MoneyPtr(money(limit))}
	}
	credit := func(limit string, daily *domain.Money) *domain.Card {
		return &domain.Card{ID: "c", Type: domain.CardCredit, Active: true, CreditLimit: domain.MoneyPtr(money(limit)), DailyWithdrawalLimit: daily}
	}

	var (
		daily    *domain.ErrDailyLimitExceeded
		creditEx *domain.ErrCreditLimitExceeded
		cfg      *domain.ErrInvalidCardConfiguration
		inactive *domain.ErrCardInactive
	)

	tests := []struct {
		name    string
		card    *domain.Card
		in      service.LimitInput
		wantErr any
	}{
		{"debit within limit", debit("200.00"), service.LimitInput{Amount: money("60.00"), TodayTotal: money("60.00"), Balance: money("500.00")}, nil},
		{"debit exactly at limit", debit("120.00"), service.LimitInput{Amount: money("60.00"), TodayTotal: money("60.00")}, nil},
		{"debit over limit", debit("100.00"), service.LimitInput{Amount: money("60.00"), TodayTotal: money("60.00")}, &daily},
		{"debit commission ignored for daily", debit("50.00"), service.LimitInput{Amount: money("50.00"), Commission: money("2.00")}, nil},
		{"debit without daily limit", &domain.Card{ID: "c", Type: domain.CardDebit, Active: true}, service.LimitInput{Amount: money("1.00")}, &cfg},
		{"credit within line", credit("100.00", nil), service.LimitInput{Amount: money("150.00"), Balance: money("50.00")}, nil},
		{"credit over line", credit("100.00", nil), service.LimitInput{Amount: money("151.00"), Balance: money("50.00")}, &creditEx},
		{"credit commission counts", credit("100.00", nil), service.LimitInput{Amount: money("150.00"), Commission: money("2.00"), Balance: money("50.00")}, &creditEx},
		{"credit outstanding counts", credit("100.00", nil), service.LimitInput{Amount: money("30.01"), Balance: money("-70.00")}, &creditEx},
		{"credit with daily cap", credit("1000.00", domain.MoneyPtr(money("100.00"))), service.LimitInput{Amount: money("80.00"), TodayTotal: money("30.00"), Balance: money("500.00")}, &daily},
		{"credit without limit", &domain.Card{ID: "c", Type: domain.CardCredit, Active: true}, service.LimitInput{Amount: money("1.00")}, &cfg},
		{"inactive before config", &domain.Card{ID: "c", Type: domain.CardCredit}, service.LimitInput{Amount: money("1.00")}, &inactive},
	}

	var policy service.LimitPolicy
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Check(tt.card, tt.in)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.As(err, tt.wantErr) {
				t.Fatalf("expected %T, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLimitPolicy_WithdrawOptions(t *testing.T) {
	var policy service.LimitPolicy

	acc := &domain.Account{ID: "a", Balance: money("10.00")}
	card := &domain.Card{Type: domain.CardCredit, CreditLimit: domain.MoneyPtr(money("50.00"))}
	if !acc.CanWithdraw(money("60.00"), policy.WithdrawOptions(card)...) {
		t.Error("credit line should allow going 50.00 below zero")
	}
	if acc.CanWithdraw(money("60.01"), policy.WithdrawOptions(card)...) {
		t.Error("credit line exceeded")
	}
	if len(policy.WithdrawOptions(&domain.Card{Type: domain.CardDebit})) != 0 {
		t.Error("debit cards get no credit line")
	}
}

func TestCommissionSchedule(t *testing.T) {
	c := service.DefaultCommissionSchedule()
	if got := c.ForWithdrawal(true); got.String() != "2.00" {
		t.Errorf("expected external ATM fee 2.00, got %s", got)
	}
	if !c.ForWithdrawal(false).IsZero() {
		t.Error("own ATM must be free")
	}
	if !c.ForTransferOut(money("1000.00"), "ES7900491500051234567892").IsZero() {
		t.Error("default schedule charges no transfer commission")
	}

	if got := service.IBANBankCode("es91 2100 0418 4502 0005 1332"); got != "2100" {
		t.Errorf("expected bank code 2100, got %q", got)
	}
	if got := service.IBANBankCode("ES91"); got != "" {
		t.Errorf("expected no bank code, got %q", got)
	}
}

func TestCounterReferences_UniqueWithinYear(t *testing.T) {
	gen := service.NewCounterReferences()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	seen := make(map[string]struct{}, 10_000)
	for i := 0; i < 10_000; i++ {
		ref, err := gen.Next(context.Background(), at)
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[ref]; dup {
			t.Fatalf("duplicate reference %s after %d", ref, i)
		}
		seen[ref] = struct{}{}

		year, _, err := domain.ParseReference(ref)
		if err != nil || year != 2024 {
			t.Fatalf("malformed reference %s: %v", ref, err)
		}
	}
}
