package soar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

func samplePlaybook() *playbook.Playbook {
	return &playbook.Playbook{
		ID:       "pb-1",
		Name:     "Ransomware response",
		Severity: playbook.SeverityHigh,
		Phases: []playbook.Phase{
			{
				ID:   "ph-1",
				Name: playbook.PhaseContainment,
				Actions: []playbook.Action{
					{ID: "a-1", ActionOrder: 1, ActionType: playbook.ActionTypeAutomated, Title: "Isolate hosts", EstimatedDurationMinutes: 15},
					{ID: "a-2", ActionOrder: 2, ActionType: playbook.ActionTypeManual, Title: "Notify owner", EstimatedDurationMinutes: 10},
				},
				RequiresApproval: true,
			},
		},
	}
}

func TestXSOARSyncPlaybook(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/playbook/save" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"id": "xsoar-42", "name": "Ransomware response"})
	}))
	defer srv.Close()

	a := newXSOARAdapter(zap.NewNop())
	if err := a.Connect(context.Background(), Config{BaseURL: srv.URL, APIKey: "secret-key"}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	id, err := a.SyncPlaybook(context.Background(), samplePlaybook())
	if err != nil {
		t.Fatalf("SyncPlaybook returned error: %v", err)
	}
	if id != "xsoar-42" {
		t.Errorf("platform id = %q, want xsoar-42", id)
	}
	// XSOAR takes the raw key, not a bearer scheme.
	if gotAuth != "secret-key" {
		t.Errorf("Authorization = %q, want raw api key", gotAuth)
	}
	if gotBody["name"] != "Ransomware response" {
		t.Errorf("payload name = %v", gotBody["name"])
	}
	if _, ok := gotBody["tasks"].(map[string]any); !ok {
		t.Errorf("expected tasks map in payload, got %T", gotBody["tasks"])
	}
}

func TestSplunkSOARAuthHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("ph-auth-token")
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "success": true})
	}))
	defer srv.Close()

	a := newSplunkSOARAdapter(zap.NewNop())
	if err := a.Connect(context.Background(), Config{BaseURL: srv.URL, APIKey: "ph-token"}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	id, err := a.SyncPlaybook(context.Background(), samplePlaybook())
	if err != nil {
		t.Fatalf("SyncPlaybook returned error: %v", err)
	}
	if id != "7" {
		t.Errorf("platform id = %q, want numeric id as string", id)
	}
	if gotToken != "ph-token" {
		t.Errorf("ph-auth-token = %q", gotToken)
	}
}

func TestTestConnectionUnreachable(t *testing.T) {
	// A dead endpoint is a negative result, not an error.
	a := newGenericAdapter(zap.NewNop())
	if err := a.Connect(context.Background(), Config{BaseURL: "http://127.0.0.1:1", APIKey: "t"}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	ok, err := a.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection returned error: %v", err)
	}
	if ok {
		t.Error("expected false for unreachable platform")
	}
}

func TestPlatformErrorOnServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newGenericAdapter(zap.NewNop())
	if err := a.Connect(context.Background(), Config{BaseURL: srv.URL, APIKey: "t"}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	_, err := a.SyncPlaybook(context.Background(), samplePlaybook())
	if !errors.Is(err, ErrPlatform) {
		t.Fatalf("expected ErrPlatform, got %v", err)
	}
	var perr *PlatformError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PlatformError, got %T", err)
	}
	if perr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", perr.StatusCode)
	}
}

func TestConnectivityOnlyAdapters(t *testing.T) {
	for _, p := range []Platform{PlatformResilient, PlatformServiceNow} {
		a, err := NewAdapter(p, zap.NewNop())
		if err != nil {
			t.Fatalf("NewAdapter(%s) returned error: %v", p, err)
		}
		if _, err := a.SyncPlaybook(context.Background(), samplePlaybook()); !errors.Is(err, ErrNotImplemented) {
			t.Errorf("%s SyncPlaybook: expected ErrNotImplemented, got %v", p, err)
		}
		if _, err := a.ExecutePlaybook(context.Background(), "x", nil); !errors.Is(err, ErrNotImplemented) {
			t.Errorf("%s ExecutePlaybook: expected ErrNotImplemented, got %v", p, err)
		}
	}
}

func TestNewAdapterUnknownPlatform(t *testing.T) {
	if _, err := NewAdapter("cortex", zap.NewNop()); !errors.Is(err, ErrUnknownPlatform) {
		t.Fatalf("expected ErrUnknownPlatform, got %v", err)
	}
}

func TestBuildPayloadApprovalInheritance(t *testing.T) {
	payload := buildPayload(samplePlaybook())
	if len(payload.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(payload.Tasks))
	}
	for _, task := range payload.Tasks {
		if !task.RequiresApproval {
			t.Errorf("task %q should inherit phase approval", task.Title)
		}
		if task.Phase != string(playbook.PhaseContainment) {
			t.Errorf("task %q phase = %q", task.Title, task.Phase)
		}
	}
}
