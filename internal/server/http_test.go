package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"railledger/internal/command"
	"railledger/internal/ingestion"
	"railledger/internal/query"
	"railledger/internal/server"
	"railledger/internal/testutil"
)

func newTestDeps(t *testing.T) (*server.Deps, chan command.Command) {
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	cmdChan := make(chan command.Command, 8)
	return &server.Deps{
		DB:            db,
		QueryService:  query.NewQueryService(db),
		IngestService: ingestion.NewAdminIngestService(cmdChan),
	}, cmdChan
}

func TestServer_GetAccount_NotFoundReturns404(t *testing.T) {
	deps, _ := newTestDeps(t)
	ts := httptest.NewServer(server.NewServer("127.0.0.1:0", deps).Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/accounts?token=USDC&owner=ghost")
	if err != nil {
		t.Fatalf("GET /v1/accounts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_GetAccount_MissingParamsReturns400(t *testing.T) {
	deps, _ := newTestDeps(t)
	ts := httptest.NewServer(server.NewServer("127.0.0.1:0", deps).Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/accounts")
	if err != nil {
		t.Fatalf("GET /v1/accounts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_AdminDeposit_EnqueuesCommand(t *testing.T) {
	deps, cmdChan := newTestDeps(t)
	ts := httptest.NewServer(server.NewServer("127.0.0.1:0", deps).Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/admin/deposit", "application/json",
		strings.NewReader(`{"token":"USDC","to":"alice","amount":"100"}`))
	if err != nil {
		t.Fatalf("POST /v1/admin/deposit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	select {
	case cmd := <-cmdChan:
		dep, ok := cmd.(*command.Deposit)
		if !ok {
			t.Fatalf("enqueued command = %T, want *command.Deposit", cmd)
		}
		if dep.To != "alice" || dep.Token != "USDC" {
			t.Errorf("deposit command = %+v", dep)
		}
	default:
		t.Fatal("expected a command to be enqueued on the admin channel")
	}
}

func TestServer_AdminDeposit_RejectsZeroAmount(t *testing.T) {
	deps, _ := newTestDeps(t)
	ts := httptest.NewServer(server.NewServer("127.0.0.1:0", deps).Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/admin/deposit", "application/json",
		strings.NewReader(`{"token":"USDC","to":"alice","amount":"0"}`))
	if err != nil {
		t.Fatalf("POST /v1/admin/deposit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a zero amount", resp.StatusCode)
	}
}

func TestServer_AdminDeposit_RejectsGetMethod(t *testing.T) {
	deps, _ := newTestDeps(t)
	ts := httptest.NewServer(server.NewServer("127.0.0.1:0", deps).Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/admin/deposit")
	if err != nil {
		t.Fatalf("GET /v1/admin/deposit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_VerifyIntegrity_ReturnsHealthyJSON(t *testing.T) {
	deps, _ := newTestDeps(t)
	ts := httptest.NewServer(server.NewServer("127.0.0.1:0", deps).Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/admin/integrity")
	if err != nil {
		t.Fatalf("GET /v1/admin/integrity: %v", err)
	}
	defer resp.Body.Close()

	var report map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report["is_healthy"] != true {
		t.Errorf("is_healthy = %v, want true on an empty ledger", report["is_healthy"])
	}
}
