package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	accountrepository "github.com/paperwell/metering/internal/account/repository"
	"github.com/paperwell/metering/internal/billing/service"
	"github.com/paperwell/metering/internal/clock"
	"github.com/paperwell/metering/internal/config"
	"github.com/paperwell/metering/internal/idempotency"
	ledgerrepository "github.com/paperwell/metering/internal/ledger/repository"
	"github.com/paperwell/metering/internal/server"
	usagerepository "github.com/paperwell/metering/internal/usage/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serverSchema = `
CREATE TABLE accounts (
	id TEXT PRIMARY KEY,
	balance NUMERIC(12,3) NOT NULL DEFAULT 0,
	free_operations_used INTEGER NOT NULL DEFAULT 0,
	free_operations_reset_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE ledger_entries (
	id BIGINT PRIMARY KEY,
	account_id TEXT NOT NULL,
	amount NUMERIC(12,3) NOT NULL,
	balance_after NUMERIC(12,3) NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL,
	payment_id TEXT,
	created_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX ux_ledger_payment_id ON ledger_entries (payment_id) WHERE payment_id IS NOT NULL;

CREATE TABLE usage_records (
	id BIGINT PRIMARY KEY,
	account_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	day DATETIME NOT NULL,
	count INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX ux_usage_account_op_day ON usage_records (account_id, operation, day);

CREATE TABLE charge_keys (
	charge_key TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
`

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
	clk    *clock.FakeClock
}

func newTestServer(t *testing.T, freeQuota int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(serverSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	clk := clock.NewFakeClock(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
	holder, err := config.StaticPricingHolder(config.PricingConfig{UnitCost: "0.005", FreeQuota: freeQuota})
	if err != nil {
		t.Fatalf("pricing holder: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := service.NewService(service.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Pricing:  holder,
		Guard:    idempotency.NewGuard(idempotency.Params{Log: zap.NewNop(), Clock: clk}),
		Accounts: accountrepository.Provide(),
		Ledger:   ledgerrepository.Provide(),
		Usage:    usagerepository.Provide(),
	})

	engine := server.NewEngine(zap.NewNop(), nil)
	srv := server.NewServer(server.ServerParams{
		Gin:        engine,
		Cfg:        config.Config{},
		Log:        zap.NewNop(),
		BillingSvc: svc,
	})
	srv.RegisterAPIRoutes()

	return &testServer{engine: engine, db: conn, clk: clk}
}

func (ts *testServer) seedAccount(t *testing.T, id, balance string, used int, resetAt time.Time) {
	t.Helper()
	now := ts.clk.Now()
	err := ts.db.Exec(
		`INSERT INTO accounts (id, balance, free_operations_used, free_operations_reset_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, decimal.RequireFromString(balance), used, resetAt, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func (ts *testServer) do(t *testing.T, method, path, accountID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if accountID != "" {
		req.Header.Set(server.HeaderAccount, accountID)
	}

	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	payload, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error payload, got %q", rec.Body.String())
	}
	typ, _ := payload["type"].(string)
	return typ
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 3)
	rec := ts.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMissingAccountHeader(t *testing.T) {
	ts := newTestServer(t, 3)

	for _, path := range []string{
		"/api/billing/eligibility?operation=convert",
		"/api/billing/balance",
		"/api/usage/stats",
	} {
		rec := ts.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
		if typ := errorType(t, rec); typ != "unauthorized" {
			t.Fatalf("%s: unexpected error type %q", path, typ)
		}
	}

	rec := ts.do(t, http.MethodPost, "/api/operations/charge", "", `{"operation":"convert"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("charge: expected 401, got %d", rec.Code)
	}
}

func TestEligibilityEndpoint(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "1", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodGet, "/api/billing/eligibility?operation=convert", "acct-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["canPerform"] != true || body["hasFreeOperations"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestChargeEndpoint(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "1", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/operations/charge", "acct-1", `{"operation":"convert"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["usedFreeOperation"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestChargeEndpointInsufficientFunds(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.seedAccount(t, "acct-1", "0.001", 1, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/operations/charge", "acct-1", `{"operation":"convert"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if msg, _ := body["error"].(string); !strings.HasPrefix(msg, "insufficient balance") {
		t.Fatalf("unexpected error message %v", body["error"])
	}
}

func TestChargeEndpointUnknownAccount(t *testing.T) {
	ts := newTestServer(t, 3)

	rec := ts.do(t, http.MethodPost, "/api/operations/charge", "ghost", `{"operation":"convert"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != "account not found" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestChargeEndpointMalformedBody(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "1", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/operations/charge", "acct-1", `{"operation":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if typ := errorType(t, rec); typ != "validation_error" {
		t.Fatalf("unexpected error type %q", typ)
	}
}

func TestDepositEndpointDuplicate(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "0", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	payload := `{"accountId":"acct-1","amount":"5","paymentId":"pay-1"}`
	rec := ts.do(t, http.MethodPost, "/api/payments/deposits", "", payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Fatalf("unexpected body %v", body)
	}

	rec = ts.do(t, http.MethodPost, "/api/payments/deposits", "", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if typ := errorType(t, rec); typ != "duplicate_payment" {
		t.Fatalf("unexpected error type %q", typ)
	}
}

func TestDepositEndpointValidation(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "0", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/payments/deposits", "", `{"accountId":"acct-1","amount":"-1","paymentId":"pay-1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if typ := errorType(t, rec); typ != "validation_error" {
		t.Fatalf("unexpected error type %q", typ)
	}
}

func TestPendingDepositWebhookFlow(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "1", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/payments/deposits/pending", "", `{"accountId":"acct-1","amount":"4","paymentId":"pay-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/payments/webhooks/confirm", "", `{"paymentId":"pay-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["newBalance"] != "5" {
		t.Fatalf("unexpected new balance %v", body["newBalance"])
	}

	rec = ts.do(t, http.MethodPost, "/api/payments/webhooks/confirm", "", `{"paymentId":"pay-1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay, got %d: %s", rec.Code, rec.Body.String())
	}
	if typ := errorType(t, rec); typ != "deposit_not_pending" {
		t.Fatalf("unexpected error type %q", typ)
	}
}

func TestFailWebhook(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "1", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPost, "/api/payments/deposits/pending", "", `{"accountId":"acct-1","amount":"4","paymentId":"pay-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/payments/webhooks/fail", "", `{"paymentId":"pay-1","reason":"card declined"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "failed" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = ts.do(t, http.MethodGet, "/api/billing/balance", "acct-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	info := decodeBody(t, rec)
	if info["balance"] != "1" {
		t.Fatalf("failed deposit must not credit, balance = %v", info["balance"])
	}
}

func TestBalanceEndpointUnknownAccount(t *testing.T) {
	ts := newTestServer(t, 3)

	rec := ts.do(t, http.MethodGet, "/api/billing/balance", "ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
	if typ := errorType(t, rec); typ != "not_found" {
		t.Fatalf("unexpected error type %q", typ)
	}
}

func TestUsageStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, 3)
	ts.seedAccount(t, "acct-1", "1", 0, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	if rec := ts.do(t, http.MethodPost, "/api/operations/charge", "acct-1", `{"operation":"convert"}`); rec.Code != http.StatusOK {
		t.Fatalf("charge: expected 200, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/usage/stats", "acct-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["totalOperations"] != float64(1) {
		t.Fatalf("unexpected total %v", body["totalOperations"])
	}
}
