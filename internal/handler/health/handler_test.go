package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agentchat/backend/internal/model/attachment"
	"github.com/zhouzirui/agentchat/backend/internal/repository/records"
	"github.com/zhouzirui/agentchat/backend/internal/service/notify"
)

type fixedMode attachment.Backend

func (m fixedMode) Mode() attachment.Backend { return attachment.Backend(m) }

type fakeDB bool

func (d fakeDB) IsConnected() bool { return bool(d) }

func TestHealthReportsDegradedMode(t *testing.T) {
	r := chi.NewRouter()
	New(records.Disconnected(), fixedMode(attachment.BackendLocal), notify.NewRegistry()).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["database"] != "local_mode" || body["storage"] != "local" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["connections"] != float64(0) {
		t.Fatalf("expected 0 connections, got %v", body["connections"])
	}
}

func TestHealthReportsConnected(t *testing.T) {
	r := chi.NewRouter()
	New(fakeDB(true), fixedMode(attachment.BackendRemote), notify.NewRegistry()).RegisterRoutes(r)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	json.Unmarshal(resp.Body.Bytes(), &body)
	if body["database"] != "connected" || body["storage"] != "remote" {
		t.Fatalf("unexpected body: %v", body)
	}
}
