package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"billpoint/backend/internal/cache"
	"billpoint/backend/internal/domain"
	"billpoint/backend/internal/service"
	"billpoint/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager
// and real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopDashboardCache{}, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginToken(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return body.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func firstSeededProduct(t *testing.T, handler http.Handler, token string) domain.Product {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products failed: %d", rec.Code)
	}
	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products")
	}
	return body.Products[0]
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleBills_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/bills", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSettleBillEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)
	product := firstSeededProduct(t, handler, token)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 2}},
		"tax_rate":       10,
		"discount":       "1000",
		"payment_method": "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Bill domain.Bill `json:"bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode bill: %v", err)
	}
	if body.Bill.ID == "" {
		t.Fatalf("expected bill id in response")
	}
	if body.Bill.SettlementState != domain.SettlementComplete {
		t.Fatalf("settlement state = %s, want complete", body.Bill.SettlementState)
	}

	// The bill is readable afterwards.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/bills/"+body.Bill.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get bill failed: %d", rec.Code)
	}
}

func TestSettleBillInsufficientStockReturns409(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)
	product := firstSeededProduct(t, handler, token)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": product.Stock + 1}},
		"payment_method": "cash",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message naming the product")
	}
}

func TestSettleBillUnsupportedPaymentMethodReturns400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)
	product := firstSeededProduct(t, handler, token)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 1}},
		"payment_method": "crypto",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestReverseBillForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginToken(t, handler, "admin", "admin123")
	cashierToken := loginToken(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)
	product := firstSeededProduct(t, handler, adminToken)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", adminToken, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 1}},
		"payment_method": "card",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Bill domain.Bill `json:"bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode bill: %v", err)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/bills/"+body.Bill.ID, cashierToken, csrf, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier reversal, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/bills/"+body.Bill.ID, adminToken, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin reversal failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/bills/"+body.Bill.ID, adminToken, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for reversed bill, got %d", rec.Code)
	}
}

func TestBillListWindowFilter(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)
	product := firstSeededProduct(t, handler, token)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{
		"items":          []map[string]any{{"product_id": product.ID, "quantity": 1}},
		"payment_method": "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle failed: %d", rec.Code)
	}

	today := time.Now().UTC().Format("2006-01-02")
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/bills?start=%s&end=%s", today, today), token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("windowed list failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Bills []domain.Bill `json:"bills"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode bills: %v", err)
	}
	if len(body.Bills) != 1 {
		t.Fatalf("expected 1 bill in today's window, got %d", len(body.Bills))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/bills?start=2001-01-01&end=2001-01-02", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty-window list failed: %d", rec.Code)
	}
	body.Bills = nil
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode bills: %v", err)
	}
	if len(body.Bills) != 0 {
		t.Fatalf("expected empty window, got %d bills", len(body.Bills))
	}
}

func TestDashboardEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stats/dashboard", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var stats domain.DashboardStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if len(stats.DailySales) != 7 {
		t.Fatalf("daily series length = %d, want 7", len(stats.DailySales))
	}
}
