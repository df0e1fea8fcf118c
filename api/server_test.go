package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/seenimoa/backtestcore/internal/config"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

func testServer(t *testing.T) *Server {
	t.Helper()
	return &Server{cfg: &config.Config{}}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// ════════════════════════════════════════════════════════════════════
// APIResponse type tests
// ════════════════════════════════════════════════════════════════════

func TestAPIResponseJSON(t *testing.T) {
	tests := []struct {
		name string
		resp APIResponse
	}{
		{"success with data", APIResponse{Success: true, Data: map[string]string{"key": "value"}}},
		{"error", APIResponse{Success: false, Error: "something went wrong"}},
		{"success with nil data", APIResponse{Success: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got APIResponse
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Success != tt.resp.Success {
				t.Errorf("Success: got %v, want %v", got.Success, tt.resp.Success)
			}
			if got.Error != tt.resp.Error {
				t.Errorf("Error: got %q, want %q", got.Error, tt.resp.Error)
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Health handler tests
// ════════════════════════════════════════════════════════════════════

func TestHandleHealth(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	srv.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("expected success=true")
	}

	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatal("data should be a map")
	}
	if data["status"] != "ok" {
		t.Errorf("status: got %q", data["status"])
	}
	if _, ok := data["time"]; !ok {
		t.Error("missing time")
	}
}

func TestHealthResponse_ContentType(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	srv.handleHealth(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
}

// ════════════════════════════════════════════════════════════════════
// toBacktestConfig validation tests
// ════════════════════════════════════════════════════════════════════

func TestToBacktestConfig_MissingStrategy(t *testing.T) {
	req := BacktestRequest{StartDate: "2023-01-01"}
	if _, err := req.toBacktestConfig(); err == nil {
		t.Fatal("expected an error for missing strategy")
	}
}

func TestToBacktestConfig_InvalidStartDate(t *testing.T) {
	req := BacktestRequest{Strategy: "buy when close > 0", StartDate: "not-a-date"}
	if _, err := req.toBacktestConfig(); err == nil {
		t.Fatal("expected an error for invalid start_date")
	}
}

func TestToBacktestConfig_InvalidEndDate(t *testing.T) {
	req := BacktestRequest{Strategy: "buy when close > 0", StartDate: "2023-01-01", EndDate: "nope"}
	if _, err := req.toBacktestConfig(); err == nil {
		t.Fatal("expected an error for invalid end_date")
	}
}

func TestToBacktestConfig_EndBeforeStart(t *testing.T) {
	req := BacktestRequest{Strategy: "buy when close > 0", StartDate: "2024-01-01", EndDate: "2023-01-01"}
	if _, err := req.toBacktestConfig(); err == nil {
		t.Fatal("expected an error when end_date precedes start_date")
	}
}

func TestToBacktestConfig_DefaultsApplied(t *testing.T) {
	req := BacktestRequest{Strategy: "buy when close > 0", StartDate: "2023-01-01", EndDate: "2023-06-01"}
	cfg, err := req.toBacktestConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UniverseID != "sp500" {
		t.Errorf("UniverseID default: got %q, want sp500", cfg.UniverseID)
	}
	if cfg.Interval != "1d" {
		t.Errorf("Interval default: got %q, want 1d", cfg.Interval)
	}
	if cfg.PositionSize != 1.0 {
		t.Errorf("PositionSize default: got %v, want 1.0", cfg.PositionSize)
	}
}

// ════════════════════════════════════════════════════════════════════
// Backtest handler tests (validation only — no data fetch)
// ════════════════════════════════════════════════════════════════════

func TestHandleBacktest_InvalidJSON(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/backtest", strings.NewReader("not json"))
	srv.handleBacktest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleBacktest_MissingStrategy(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	body := `{"start_date":"2023-01-01"}`
	req := httptest.NewRequest("POST", "/api/v1/backtest", strings.NewReader(body))
	srv.handleBacktest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Error("expected success=false")
	}
}

func TestHandleBacktest_InvalidStartDate(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	body := `{"strategy":"buy when close > 0","start_date":"invalid-date"}`
	req := httptest.NewRequest("POST", "/api/v1/backtest", strings.NewReader(body))
	srv.handleBacktest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	resp := decodeResponse(t, rec)
	if !strings.Contains(resp.Error, "start_date") {
		t.Errorf("error should mention start_date: %q", resp.Error)
	}
}

// ════════════════════════════════════════════════════════════════════
// Strategy validation handler tests
// ════════════════════════════════════════════════════════════════════

func TestHandleValidateStrategy_InvalidJSON(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/strategy/validate", strings.NewReader("{bad"))
	srv.handleValidateStrategy(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleValidateStrategy_Valid(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	body := `{"strategy":"buy when close > 0\nsell when close < 0"}`
	req := httptest.NewRequest("POST", "/api/v1/strategy/validate", strings.NewReader(body))
	srv.handleValidateStrategy(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatal("data should be a map")
	}
	if data["valid"] != true {
		t.Errorf("expected valid=true, got %v (error=%v)", data["valid"], data["error"])
	}
}

func TestHandleValidateStrategy_Invalid(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	body := `{"strategy":"buy when http_get(1) > 0"}`
	req := httptest.NewRequest("POST", "/api/v1/strategy/validate", strings.NewReader(body))
	srv.handleValidateStrategy(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d — validation failure is still a 200 envelope", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatal("data should be a map")
	}
	if data["valid"] != false {
		t.Error("expected valid=false for a non-whitelisted function call")
	}
	if data["error"] == nil || data["error"] == "" {
		t.Error("expected a non-empty error message")
	}
}

// ════════════════════════════════════════════════════════════════════
// Config handler tests
// ════════════════════════════════════════════════════════════════════

func TestHandleGetConfig(t *testing.T) {
	srv := testServer(t)
	srv.cfg.Backtest.InitialCapital = 250000
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/config", nil)
	srv.handleGetConfig(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("expected success=true")
	}
}

func TestHandleGetConfigKeys(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/config/keys", nil)
	srv.handleGetConfigKeys(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Error("expected success=true")
	}
}

// ════════════════════════════════════════════════════════════════════
// writeJSON / writeError tests
// ════════════════════════════════════════════════════════════════════

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, APIResponse{Success: true, Data: "hello"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success || resp.Data != "hello" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "not found")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusNotFound)
	}

	resp := decodeResponse(t, rec)
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Error != "not found" {
		t.Errorf("error: got %q, want %q", resp.Error, "not found")
	}
}

// ════════════════════════════════════════════════════════════════════
// Batch test: verifying all error responses are valid JSON
// ════════════════════════════════════════════════════════════════════

func TestErrorResponsesAreValidJSON(t *testing.T) {
	srv := testServer(t)

	scenarios := []struct {
		name    string
		handler func(http.ResponseWriter, *http.Request)
	}{
		{"backtest_invalid", srv.handleBacktest},
		{"validate_invalid", srv.handleValidateStrategy},
	}

	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/v1/x", strings.NewReader("{bad"))
			sc.handler(rec, req)

			var resp APIResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("response is not valid JSON: %v\nbody: %s", err, rec.Body.String())
			}
			if resp.Success {
				t.Errorf("expected success=false for invalid JSON input")
			}
		})
	}
}

// ════════════════════════════════════════════════════════════════════
// Router wiring
// ════════════════════════════════════════════════════════════════════

func TestBuildRouterHealthEndpoint(t *testing.T) {
	srv := testServer(t)
	srv.router = srv.buildRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
}
