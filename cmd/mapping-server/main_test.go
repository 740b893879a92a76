package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semalign/semalign/internal/testutil"
	"github.com/semalign/semalign/pkg/run"
)

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler := promhttp.Handler()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)

	// Just verify we get prometheus output format
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
}

func newTestRunner(t *testing.T) *run.Runner {
	t.Helper()
	runner, err := run.New(testutil.NewMockMapper(), run.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	return runner
}

func TestMapHandler(t *testing.T) {
	handler := mapHandler(newTestRunner(t))

	payload := `{
		"first":  [{"code": "A1", "name": "omeprazole"}],
		"second": [{"code": "B1", "name": "omeprazole 20mg"}],
		"prompt": "map these"
	}`

	req := httptest.NewRequest("POST", "/map", strings.NewReader(payload))
	w := httptest.NewRecorder()

	handler(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var decoded mapResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if decoded.Status != "completed" {
		t.Errorf("Status = %s, want completed", decoded.Status)
	}
	if decoded.TotalMappings != 1 {
		t.Errorf("TotalMappings = %d, want 1", decoded.TotalMappings)
	}
	if len(decoded.Mappings) != 1 || decoded.Mappings[0].FirstCode != "A1" {
		t.Errorf("Unexpected mappings: %+v", decoded.Mappings)
	}
}

func TestMapHandler_MethodNotAllowed(t *testing.T) {
	handler := mapHandler(newTestRunner(t))

	req := httptest.NewRequest("GET", "/map", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Result().StatusCode)
	}
}

func TestMapHandler_BadRequest(t *testing.T) {
	handler := mapHandler(newTestRunner(t))

	req := httptest.NewRequest("POST", "/map", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	handler(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
	}
}
