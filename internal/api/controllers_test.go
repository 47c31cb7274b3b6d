package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"tradeguard/internal/events"
	"tradeguard/internal/monitor"
	"tradeguard/internal/netguard"
	"tradeguard/internal/order"
	"tradeguard/internal/risk"
	"tradeguard/pkg/db"
	"tradeguard/pkg/exchanges/sim"
	"tradeguard/pkg/retry"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	bus := events.NewBus()
	sys := monitor.NewSystemMetrics()
	registry := prometheus.NewRegistry()
	sink := monitor.NewSink(registry, sys)

	resolver := netguard.NewResolver(&netguard.EndpointMap{
		Exchanges: map[string]map[string]netguard.EndpointSpec{
			"sim": {"place_order": {Method: "POST", Path: "/orders"}},
		},
	})
	limits := &netguard.RateLimitConfig{
		Exchanges: map[string]netguard.ExchangeLimits{
			"sim": {Default: netguard.LimitSpec{RatePerSec: 1000, Capacity: 1000, FailureThreshold: 10}},
		},
	}
	guard := netguard.New(resolver, limits, bus, sink, netguard.Config{
		AcquireTimeout: 100 * time.Millisecond,
		MaxRetries:     1,
		Backoff:        retry.Policy{InitialDelay: time.Millisecond, Multiplier: 2},
	})

	riskMgr := risk.NewInMemory(risk.Limits{MaxPositionSize: 100000}, bus)
	orders := order.NewService(riskMgr, guard, bus, nil)
	adapter := sim.New(sim.Config{Name: "sim"})
	adapter.SetPrice("BTC/USDT", 60000)
	orders.RegisterAdapter("sim", adapter)

	return NewServer(bus, database, riskMgr, orders, guard, sys, registry,
		SystemMeta{DryRun: true, Exchanges: []string{"sim"}, Version: "test"}, testSecret)
}

func doRequest(t *testing.T, s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := GenerateToken("op-1", testSecret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/risk/limits", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without token", w.Code)
	}

	bad, err := GenerateToken("op-1", "wrong-secret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	w = doRequest(t, s, http.MethodGet, "/api/risk/limits", nil, bad)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 with bad signature", w.Code)
	}
}

func TestRiskLimitsRoundtrip(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t)

	update := risk.Limits{MaxPositionSize: 5000, MaxDailyLoss: 1000}
	w := doRequest(t, s, http.MethodPut, "/api/risk/limits", update, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s, http.MethodGet, "/api/risk/limits", nil, token)
	var got risk.Limits
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode limits: %v", err)
	}
	if got.MaxPositionSize != 5000 || got.MaxDailyLoss != 1000 {
		t.Fatalf("limits = %+v, want the updated values", got)
	}
}

func TestRiskLimitsRejectNegative(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t)

	w := doRequest(t, s, http.MethodPut, "/api/risk/limits", risk.Limits{MaxDailyLoss: -5}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for negative limits", w.Code)
	}
}

func TestSubmitOrder(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t)

	body := submitOrderRequest{
		Exchange:   "sim",
		Symbol:     "BTC/USDT",
		Side:       "buy",
		OrderType:  "LIMIT",
		Quantity:   0.1,
		LimitPrice: 60000,
		Seq:        1,
	}
	w := doRequest(t, s, http.MethodPost, "/api/orders", body, token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var res order.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Status != order.StatusAccepted {
		t.Fatalf("status = %s (%s), want ACCEPTED", res.Status, res.Error)
	}
	if res.ClientOrderID == "" {
		t.Fatal("result missing client order ID")
	}
}

func TestSubmitOrderValidatesPayload(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t)

	tests := []struct {
		name string
		body submitOrderRequest
	}{
		{"missing exchange", submitOrderRequest{Symbol: "BTC/USDT", Side: "BUY", Quantity: 1}},
		{"zero quantity", submitOrderRequest{Exchange: "sim", Symbol: "BTC/USDT", Side: "BUY"}},
		{"bad side", submitOrderRequest{Exchange: "sim", Symbol: "BTC/USDT", Side: "HOLD", Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodPost, "/api/orders", tt.body, token)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestGetOrderNotFound(t *testing.T) {
	s := newTestServer(t)
	token := operatorToken(t)

	w := doRequest(t, s, http.MethodGet, "/api/orders/nope", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSystemStatusExposesBreakers(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/system/status", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["dry_run"] != true {
		t.Fatalf("status = %+v, want dry_run true", status)
	}
}
