package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"finledger/internal/ledger"
	"finledger/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	svc := ledger.NewService(repo, nil, "EUR", 18)
	srv := NewServer(":0", svc)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := doJSON(t, srv, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestCreateTransaction(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/transactions",
		`{"user_id":1,"type":"expense","amount":"250.00","note":"coffee morning"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["category"] != "coffee" {
		t.Fatalf("expected category coffee, got %q", resp["category"])
	}
	if resp["amount"] != "250.00" {
		t.Fatalf("expected amount 250.00, got %q", resp["amount"])
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing user", `{"type":"expense","amount":"1.00"}`, http.StatusBadRequest},
		{"bad type", `{"user_id":1,"type":"transfer","amount":"1.00"}`, http.StatusUnprocessableEntity},
		{"bad amount", `{"user_id":1,"type":"expense","amount":"abc"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"user_id":1,"type":"expense","amount":"-5"}`, http.StatusUnprocessableEntity},
		{"not json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, srv, http.MethodPost, "/api/transactions", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestListTransactionsAndSummary(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{
		`{"user_id":1,"type":"income","amount":"20000.00","note":"salary june"}`,
		`{"user_id":1,"type":"expense","amount":"250.00","note":"coffee"}`,
	} {
		if rr := doJSON(t, srv, http.MethodPost, "/api/transactions", body); rr.Code != http.StatusCreated {
			t.Fatalf("seed transaction: %d %s", rr.Code, rr.Body.String())
		}
	}

	rr := doJSON(t, srv, http.MethodGet, "/api/transactions?user_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var listResp struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(listResp.Transactions))
	}
	// Newest first, so the expense comes before the income.
	if listResp.Transactions[0].Amount != "-250.00" {
		t.Fatalf("expected newest row -250.00, got %q", listResp.Transactions[0].Amount)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/summary?user_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d", rr.Code)
	}
	var sum map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum["income"] != "20000.00" || sum["expense"] != "250.00" || sum["net"] != "19750.00" {
		t.Fatalf("unexpected summary: %v", sum)
	}
}

func TestSummaryCacheInvalidatedByWrite(t *testing.T) {
	srv := newTestServer(t)

	// Prime the cache with an empty month.
	rr := doJSON(t, srv, http.MethodGet, "/api/summary?user_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d", rr.Code)
	}

	if rr := doJSON(t, srv, http.MethodPost, "/api/transactions",
		`{"user_id":1,"type":"expense","amount":"5.00","note":"coffee"}`); rr.Code != http.StatusCreated {
		t.Fatalf("seed transaction: %d", rr.Code)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/summary?user_id=1", "")
	var sum map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum["expense"] != "5.00" {
		t.Fatalf("expected fresh summary after write, got %v", sum)
	}
}

func TestSummaryRequiresUser(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/api/summary", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestExportCSV(t *testing.T) {
	srv := newTestServer(t)

	if rr := doJSON(t, srv, http.MethodPost, "/api/transactions",
		`{"user_id":1,"type":"expense","amount":"12.00","note":"taxi home"}`); rr.Code != http.StatusCreated {
		t.Fatalf("seed transaction: %d", rr.Code)
	}

	rr := doJSON(t, srv, http.MethodGet, "/api/export?user_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("export status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "ledger-") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if lines[0] != "timestamp_utc,type,amount,category,note" {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "expense,12.00,taxi,taxi home") {
		t.Fatalf("unexpected row: %q", lines[1])
	}
}

func TestBudgetEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/budgets",
		`{"user_id":1,"category":"Food","limit":"15000.00","period":"2024-06"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set budget status=%d: %s", rr.Code, rr.Body.String())
	}
	var setResp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &setResp); err != nil {
		t.Fatalf("decode set response: %v", err)
	}
	if setResp["category"] != "food" || setResp["limit"] != "15000.00" || setResp["period"] != "2024-06" {
		t.Fatalf("unexpected set response: %v", setResp)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/budgets?user_id=1&period=2024-06", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list budgets status=%d", rr.Code)
	}
	var listResp struct {
		Period  string `json:"period"`
		Budgets []struct {
			Category string `json:"category"`
			Limit    string `json:"limit"`
			Percent  int    `json:"percent"`
		} `json:"budgets"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listResp.Period != "2024-06" || len(listResp.Budgets) != 1 {
		t.Fatalf("unexpected budget list: %+v", listResp)
	}
	if listResp.Budgets[0].Category != "food" || listResp.Budgets[0].Limit != "15000.00" {
		t.Fatalf("unexpected budget: %+v", listResp.Budgets[0])
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/budgets",
		`{"user_id":1,"category":"food","limit":"-1","period":"2024-06"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for negative limit, got %d", rr.Code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/api/settings",
		`{"user_id":1,"digest_hour":7,"currency":"usd"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update settings status=%d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/settings?user_id=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get settings status=%d", rr.Code)
	}
	var resp struct {
		UserID     int64  `json:"user_id"`
		Currency   string `json:"currency"`
		DigestHour int    `json:"digest_hour"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if resp.Currency != "USD" || resp.DigestHour != 7 {
		t.Fatalf("unexpected settings: %+v", resp)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/settings", `{"user_id":1,"digest_hour":24}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for hour 24, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodDelete, "/api/transactions", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
