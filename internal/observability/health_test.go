package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"railledger/internal/observability"
)

func TestHealthChecker_LivenessAlwaysOK(t *testing.T) {
	h := observability.NewHealthChecker()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHealthChecker_ReadinessBeforeSetReady(t *testing.T) {
	h := observability.NewHealthChecker()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before SetReady(true)", rec.Code)
	}
}

func TestHealthChecker_ReadinessAfterSetReady(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)

	if !h.IsReady() {
		t.Fatal("IsReady() should report true after SetReady(true)")
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 after SetReady(true)", rec.Code)
	}
}

func TestHealthChecker_SetReadyFalseRevertsToUnavailable(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)
	h.SetReady(false)

	if h.IsReady() {
		t.Fatal("IsReady() should report false after SetReady(false)")
	}
}
