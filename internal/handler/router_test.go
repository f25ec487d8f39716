package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/retail-ledger/internal/domain"
	"github.com/boddenberg/retail-ledger/internal/handler"
	"github.com/boddenberg/retail-ledger/internal/infra/cache"
	"github.com/boddenberg/retail-ledger/internal/infra/clock"
	"github.com/boddenberg/retail-ledger/internal/infra/lock"
	"github.com/boddenberg/retail-ledger/internal/infra/memstore"
	"github.com/boddenberg/retail-ledger/internal/infra/observability"
	"github.com/boddenberg/retail-ledger/internal/port"
	"github.com/boddenberg/retail-ledger/internal/service"
)

const secret = "router-test-secret-0123456789"

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string { return s.name }
func (s stubChecker) Ping(context.Context) error { return s.err }

type setup struct {
	devTools bool
	auth     bool
	checkers []port.HealthChecker
}

type env struct {
	router http.Handler
	store  *memstore.Store
	tokens *service.CallerTokens
}

func newEnv(t *testing.T, s setup) *env {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	store := memstore.New()
	mustNoErr(t, store.CreateCustomer(ctx, &domain.Customer{ID: "cus-1", Name: "Ana", Active: true}))
	mustNoErr(t, store.CreateAccount(ctx, &domain.Account{
		ID: "acc-1", CustomerID: "cus-1", Currency: "EUR", Active: true,
		Balance: domain.MustParseMoney("100.00"), Opening: domain.MustParseMoney("100.00"),
	}))
	mustNoErr(t, store.CreateCard(ctx, &domain.Card{
		ID: "card-1", AccountID: "acc-1", Type: domain.CardDebit, Active: true,
		DailyWithdrawalLimit: domain.MoneyPtr(domain.MustParseMoney("200.00")),
	}))

	clk := clock.NewFixed(time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC))
	locker := lock.NewLocal()
	ledger := service.NewLedgerService(store, locker, service.NewCounterReferencesFrom(0), clk, metrics, logger)
	entries := cache.New[*domain.LedgerEntry](time.Minute)
	t.Cleanup(entries.Close)

	d := handler.Deps{
		Ledger:     ledger,
		Statements: service.NewStatementService(store, store, entries, clk, time.UTC, metrics, logger),
		Reconciler: service.NewReconciler(store, locker, clk, metrics, logger),
		Metrics:    metrics,
		Checkers:   s.checkers,
	}
	if s.devTools {
		d.DevTools = service.NewDevToolsService(store, ledger, clk, logger, service.WithEntryCache(entries))
	}
	var tokens *service.CallerTokens
	if s.auth {
		var err error
		tokens, err = service.NewCallerTokens(secret, time.Minute)
		mustNoErr(t, err)
		d.Tokens = tokens
	}
	return &env{router: handler.NewRouter(d, logger), store: store, tokens: tokens}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- Operational endpoints ---

func TestHealthz(t *testing.T) {
	e := newEnv(t, setup{})
	if rec := e.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	e := newEnv(t, setup{checkers: []port.HealthChecker{stubChecker{name: "memory"}}})
	rec := e.do(t, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	status := decode[domain.HealthStatus](t, rec)
	if status.Status != "healthy" || len(status.Services) != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestReadyz_UnhealthyBackend(t *testing.T) {
	e := newEnv(t, setup{checkers: []port.HealthChecker{
		stubChecker{name: "postgres"},
		stubChecker{name: "redis", err: errors.New("connection refused")},
	}})
	rec := e.do(t, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	status := decode[domain.HealthStatus](t, rec)
	if status.Status != "unhealthy" || status.Services[1].Error == "" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestMetrics(t *testing.T) {
	e := newEnv(t, setup{})
	e.do(t, http.MethodPost, "/v1/accounts/acc-1/deposits", `{"amount":"5.00"}`)

	rec := e.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ledger_operations_total") {
		t.Error("ledger metrics not exposed")
	}

	rec = e.do(t, http.MethodGet, "/v1/metrics/ledger", "")
	snap := decode[domain.LedgerMetrics](t, rec)
	if snap.Committed["DEPOSIT"] != 1 {
		t.Errorf("expected one committed deposit, got %+v", snap.Committed)
	}
}

// --- Operations ---

func TestWithdraw_CreatedThenInsufficientFunds(t *testing.T) {
	e := newEnv(t, setup{})

	rec := e.do(t, http.MethodPost, "/v1/accounts/acc-1/withdrawals", `{"card_id":"card-1","amount":"60.00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	entry := decode[domain.LedgerEntry](t, rec)
	if entry.BalanceAfter.String() != "40.00" || entry.Amount.String() != "-60.00" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	rec = e.do(t, http.MethodPost, "/v1/accounts/acc-1/withdrawals", `{"card_id":"card-1","amount":"60.00"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestOperations_ErrorMapping(t *testing.T) {
	e := newEnv(t, setup{})
	cases := []struct {
		name, path, body string
		want             int
	}{
		{"bad json", "/v1/accounts/acc-1/deposits", `{"amount":`, http.StatusBadRequest},
		{"float-ish garbage", "/v1/accounts/acc-1/deposits", `{"amount":"1.005"}`, http.StatusBadRequest},
		{"zero amount", "/v1/accounts/acc-1/deposits", `{"amount":"0.00"}`, http.StatusBadRequest},
		{"unknown account", "/v1/accounts/nope/deposits", `{"amount":"1.00"}`, http.StatusNotFound},
		{"unknown card", "/v1/accounts/acc-1/withdrawals", `{"card_id":"nope","amount":"1.00"}`, http.StatusNotFound},
		{"daily limit", "/v1/accounts/acc-1/withdrawals", `{"card_id":"card-1","amount":"250.00"}`, http.StatusUnprocessableEntity},
		{"missing iban", "/v1/accounts/acc-1/transfers/out", `{"amount":"1.00","destination_name":"X"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, tc.path, tc.body)
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestTransfers(t *testing.T) {
	e := newEnv(t, setup{})

	rec := e.do(t, http.MethodPost, "/v1/accounts/acc-1/transfers/in",
		`{"amount":"25.00","origin_iban":"ES9121000418450200051332","origin_name":"Luis"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	rec = e.do(t, http.MethodPost, "/v1/accounts/acc-1/transfers/out",
		`{"amount":"50.00","destination_iban":"ES9121000418450200051332","destination_name":"Luis"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	entry := decode[domain.LedgerEntry](t, rec)
	if entry.BalanceAfter.String() != "75.00" || entry.CounterpartyName != "Luis" {
		t.Errorf("unexpected entry: %+v", entry)
	}
}

// --- Statements ---

func TestStatementRoutes(t *testing.T) {
	e := newEnv(t, setup{})
	for _, amount := range []string{"10.00", "20.00", "30.00"} {
		if rec := e.do(t, http.MethodPost, "/v1/accounts/acc-1/withdrawals", `{"card_id":"card-1","amount":"`+amount+`"}`); rec.Code != http.StatusCreated {
			t.Fatalf("withdrawal: %d %s", rec.Code, rec.Body)
		}
	}

	rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/balance", "")
	view := decode[domain.BalanceView](t, rec)
	if view.Balance.String() != "40.00" || view.EntryCount != 3 {
		t.Errorf("unexpected balance: %+v", view)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries?page=1&page_size=2&type=withdrawal", "")
	page := decode[domain.ListResponse[domain.LedgerEntry]](t, rec)
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("unexpected page: %+v", page)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries/latest?n=1", "")
	latest := decode[[]domain.LedgerEntry](t, rec)
	if len(latest) != 1 {
		t.Fatalf("expected one entry, got %d", len(latest))
	}

	rec = e.do(t, http.MethodGet, "/v1/entries/"+latest[0].Reference, "")
	if rec.Code != http.StatusOK {
		t.Errorf("lookup by reference: %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/entries/TXN-2024-99999999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/withdrawals/today?card_id=card-1", "")
	usage := decode[domain.DailyUsage](t, rec)
	if usage.Withdrawn.String() != "60.00" || usage.Remaining == nil || usage.Remaining.String() != "140.00" {
		t.Errorf("unexpected usage: %+v", usage)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/reconciliation", "")
	res := decode[domain.ReconciliationResult](t, rec)
	if !res.Consistent {
		t.Errorf("expected consistent ledger: %+v", res)
	}

	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries?until=tomorrow", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad until, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries?page=9223372036854775807&page_size=100", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an out-of-range page, got %d %s", rec.Code, rec.Body)
	}
}

func TestEntryCountAndRangeRoutes(t *testing.T) {
	e := newEnv(t, setup{})
	if rec := e.do(t, http.MethodPost, "/v1/accounts/acc-1/transfers/in",
		`{"amount":"25.00","origin_iban":"DE89370400440532013000","origin_name":"Jonas"}`); rec.Code != http.StatusCreated {
		t.Fatalf("transfer in: %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/v1/accounts/acc-1/withdrawals", `{"card_id":"card-1","amount":"10.00"}`); rec.Code != http.StatusCreated {
		t.Fatalf("withdrawal: %d %s", rec.Code, rec.Body)
	}

	rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries/count?since=2024-05-14T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("count: %d %s", rec.Code, rec.Body)
	}
	count := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if count.Count != 2 {
		t.Errorf("expected 2 entries, got %d", count.Count)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries/count?since=2024-05-15T00:00:00Z", "")
	if c := decode[struct {
		Count int `json:"count"`
	}](t, rec); c.Count != 0 {
		t.Errorf("expected no entries after today, got %d", c.Count)
	}

	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries/count", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without since, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/accounts/missing/entries/count?since=2024-05-14T00:00:00Z", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown account, got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries?counterparty_iban=de89+3704+0044+0532+0130+00", "")
	page := decode[domain.ListResponse[domain.LedgerEntry]](t, rec)
	if page.Total != 1 || page.Data[0].Type != domain.EntryTransferIn {
		t.Errorf("unexpected counterparty page: %+v", page)
	}

	rec = e.do(t, http.MethodGet, "/v1/accounts/acc-1/entries?until=2024-05-14T10:00:00Z", "")
	if p := decode[domain.ListResponse[domain.LedgerEntry]](t, rec); p.Total != 0 {
		t.Errorf("until is exclusive of the fixed clock instant, got %d entries", p.Total)
	}
}

// --- Auth ---

func TestCallerAuth(t *testing.T) {
	e := newEnv(t, setup{auth: true})

	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/balance", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/balance", "", "Authorization", "Token abc"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad scheme, got %d", rec.Code)
	}

	tok, err := e.tokens.Issue("atm-gateway", "")
	mustNoErr(t, err)
	if rec := e.do(t, http.MethodGet, "/v1/accounts/acc-1/balance", "", "Authorization", "Bearer "+tok); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}

	// Operational endpoints stay open.
	if rec := e.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz behind auth: %d", rec.Code)
	}
}

// --- Dev tools ---

func TestDevRoutes(t *testing.T) {
	off := newEnv(t, setup{})
	if rec := off.do(t, http.MethodPost, "/v1/dev/seed", `{"customerName":"M","pin":"1234"}`); rec.Code != http.StatusNotFound {
		t.Errorf("dev routes mounted while disabled: %d", rec.Code)
	}

	e := newEnv(t, setup{devTools: true})
	rec := e.do(t, http.MethodPost, "/v1/dev/seed", `{"customerName":"Marta","pin":"1234","openingBalance":"80.00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	seeded := decode[domain.DevSeedResponse](t, rec)
	if seeded.Account == nil || seeded.Account.Balance.String() != "80.00" {
		t.Errorf("unexpected seed: %+v", seeded)
	}
	if strings.Contains(rec.Body.String(), "$2a$") {
		t.Error("pin hash leaked in response")
	}

	rec = e.do(t, http.MethodDelete, "/v1/dev/customers/"+seeded.Customer.ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete: %d %s", rec.Code, rec.Body)
	}
}
