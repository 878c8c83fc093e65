package soar

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

type memStore struct {
	integrations map[string]*Integration
	statusTrail  []Status
}

func newMemStore() *memStore {
	return &memStore{integrations: make(map[string]*Integration)}
}

func (m *memStore) SaveIntegration(_ context.Context, integ *Integration) error {
	cp := *integ
	m.integrations[integ.ID] = &cp
	return nil
}

func (m *memStore) GetIntegration(_ context.Context, id string) (*Integration, error) {
	integ, ok := m.integrations[id]
	if !ok {
		return nil, fmt.Errorf("integration %s: %w", id, ErrIntegrationNotFound)
	}
	cp := *integ
	return &cp, nil
}

func (m *memStore) UpdateIntegrationStatus(_ context.Context, id string, status Status, syncedAt *time.Time, syncErr string) error {
	integ, ok := m.integrations[id]
	if !ok {
		return fmt.Errorf("integration %s: %w", id, ErrIntegrationNotFound)
	}
	integ.Status = status
	integ.SyncError = syncErr
	if syncedAt != nil {
		integ.LastSyncedAt = syncedAt
	}
	m.statusTrail = append(m.statusTrail, status)
	return nil
}

func (m *memStore) DeleteIntegration(_ context.Context, id string) error {
	delete(m.integrations, id)
	return nil
}

type pbLoader struct {
	playbooks map[string]*playbook.Playbook
}

func (l *pbLoader) LoadPlaybook(_ context.Context, id string) (*playbook.Playbook, error) {
	pb, ok := l.playbooks[id]
	if !ok {
		return nil, fmt.Errorf("playbook %s not found", id)
	}
	return pb, nil
}

// stubAdapter scripts adapter behavior per method.
type stubAdapter struct {
	platform    Platform
	connectErr  error
	testOK      bool
	syncID      string
	syncErr     error
	getErr      error
	updateErr   error
	execID      string
	execStatus  *ExecutionStatus
	statusErr   error
	syncCalls   int
	updateCalls int
	deletedIDs  []string
}

func (s *stubAdapter) Platform() Platform                           { return s.platform }
func (s *stubAdapter) Connect(context.Context, Config) error        { return s.connectErr }
func (s *stubAdapter) TestConnection(context.Context) (bool, error) { return s.testOK, nil }

func (s *stubAdapter) SyncPlaybook(context.Context, *playbook.Playbook) (string, error) {
	s.syncCalls++
	return s.syncID, s.syncErr
}

func (s *stubAdapter) GetPlaybook(_ context.Context, id string) (*PlatformPlaybook, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &PlatformPlaybook{ID: id}, nil
}

func (s *stubAdapter) UpdatePlaybook(context.Context, string, *playbook.Playbook) error {
	s.updateCalls++
	return s.updateErr
}

func (s *stubAdapter) DeletePlaybook(_ context.Context, id string) error {
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func (s *stubAdapter) ExecutePlaybook(context.Context, string, map[string]any) (string, error) {
	return s.execID, nil
}

func (s *stubAdapter) GetExecutionStatus(context.Context, string) (*ExecutionStatus, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.execStatus, nil
}

func factoryFor(stub *stubAdapter) AdapterFactory {
	return func(Platform, *zap.Logger) (Adapter, error) { return stub, nil }
}

func testService(store *memStore, stub *stubAdapter) *Service {
	loader := &pbLoader{playbooks: map[string]*playbook.Playbook{"pb-1": samplePlaybook()}}
	return NewService(store, loader, factoryFor(stub), zap.NewNop())
}

func TestCreateIntegrationHappyPath(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{platform: PlatformXSOAR, testOK: true, syncID: "remote-1"}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{
		PlaybookID: "pb-1",
		Platform:   PlatformXSOAR,
		Name:       "prod xsoar",
		Config:     Config{BaseURL: "https://xsoar.example.com", APIKey: "k"},
	})
	if err != nil {
		t.Fatalf("CreateIntegration returned error: %v", err)
	}
	if integ.Status != StatusSynced {
		t.Errorf("status = %s, want synced", integ.Status)
	}
	if integ.PlatformPlaybookID != "remote-1" {
		t.Errorf("platform playbook id = %q", integ.PlatformPlaybookID)
	}
	if integ.LastSyncedAt == nil {
		t.Error("expected LastSyncedAt set")
	}

	saved := store.integrations[integ.ID]
	if saved == nil || saved.Status != StatusSynced {
		t.Fatalf("persisted record not synced: %+v", saved)
	}
}

func TestCreateIntegrationAbortsBeforePersist(t *testing.T) {
	t.Run("playbook not found", func(t *testing.T) {
		store := newMemStore()
		stub := &stubAdapter{testOK: true}
		svc := testService(store, stub)
		_, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "missing", Platform: PlatformXSOAR})
		if err == nil {
			t.Fatal("expected error")
		}
		if len(store.integrations) != 0 {
			t.Error("nothing may be persisted when the playbook is missing")
		}
	})

	t.Run("connection test fails", func(t *testing.T) {
		store := newMemStore()
		stub := &stubAdapter{testOK: false}
		svc := testService(store, stub)
		_, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "pb-1", Platform: PlatformXSOAR})
		if !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("expected ErrConnectionFailed, got %v", err)
		}
		if len(store.integrations) != 0 {
			t.Error("nothing may be persisted when the connection test fails")
		}
	})
}

func TestSyncFailureRecordedBeforeReturn(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{platform: PlatformXSOAR, testOK: true, syncErr: &PlatformError{Op: "POST /playbook/save", StatusCode: 502, Body: "bad gateway"}}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{
		PlaybookID: "pb-1",
		Platform:   PlatformXSOAR,
	})
	if !errors.Is(err, ErrPlatform) {
		t.Fatalf("expected ErrPlatform, got %v", err)
	}

	saved := store.integrations[integ.ID]
	if saved == nil {
		t.Fatal("integration record must exist after sync failure")
	}
	if saved.Status != StatusFailed {
		t.Errorf("status = %s, want failed", saved.Status)
	}
	if saved.SyncError == "" {
		t.Error("sync error must be recorded")
	}

	// syncing must have been observable before failed.
	want := []Status{StatusSyncing, StatusFailed}
	if len(store.statusTrail) != len(want) {
		t.Fatalf("status trail = %v", store.statusTrail)
	}
	for i, st := range want {
		if store.statusTrail[i] != st {
			t.Errorf("trail[%d] = %s, want %s", i, store.statusTrail[i], st)
		}
	}
}

func TestResyncUpdatesWhenRemoteResolves(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{platform: PlatformXSOAR, testOK: true, syncID: "remote-1"}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "pb-1", Platform: PlatformXSOAR})
	if err != nil {
		t.Fatalf("CreateIntegration returned error: %v", err)
	}

	if _, err := svc.SyncPlaybook(context.Background(), integ.ID); err != nil {
		t.Fatalf("SyncPlaybook returned error: %v", err)
	}
	if stub.updateCalls != 1 {
		t.Errorf("expected one update call, got %d", stub.updateCalls)
	}
	if stub.syncCalls != 1 {
		t.Errorf("expected no second create, got %d sync calls", stub.syncCalls)
	}
}

func TestResyncRecreatesWhenRemoteGone(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{platform: PlatformXSOAR, testOK: true, syncID: "remote-1"}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "pb-1", Platform: PlatformXSOAR})
	if err != nil {
		t.Fatalf("CreateIntegration returned error: %v", err)
	}

	// Remote playbook was deleted out-of-band; lookups now fail and a
	// fresh create must overwrite the stored id.
	stub.getErr = &PlatformError{Op: "GET /playbook/remote-1", StatusCode: 404, Body: "not found"}
	stub.syncID = "remote-2"

	updated, err := svc.SyncPlaybook(context.Background(), integ.ID)
	if err != nil {
		t.Fatalf("SyncPlaybook returned error: %v", err)
	}
	if updated.PlatformPlaybookID != "remote-2" {
		t.Errorf("platform playbook id = %q, want remote-2", updated.PlatformPlaybookID)
	}
	if stub.updateCalls != 0 {
		t.Errorf("update must not be called when the remote is gone")
	}
	if stub.syncCalls != 2 {
		t.Errorf("expected re-create, got %d sync calls", stub.syncCalls)
	}
}

func TestExecutePlaybook(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{
		platform:   PlatformXSOAR,
		testOK:     true,
		syncID:     "remote-1",
		execID:     "run-9",
		execStatus: &ExecutionStatus{ExecutionID: "run-9", Status: ExecutionCompleted},
	}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "pb-1", Platform: PlatformXSOAR})
	if err != nil {
		t.Fatalf("CreateIntegration returned error: %v", err)
	}

	exec, err := svc.ExecutePlaybook(context.Background(), integ.ID, map[string]any{"host": "dc01"})
	if err != nil {
		t.Fatalf("ExecutePlaybook returned error: %v", err)
	}
	if exec.ExecutionID != "run-9" || exec.Result.Status != ExecutionCompleted {
		t.Errorf("unexpected execution result: %+v", exec)
	}
}

func TestExecuteRequiresSyncedStatus(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusSyncing, StatusFailed, StatusOutOfSync} {
		t.Run(string(status), func(t *testing.T) {
			store := newMemStore()
			store.integrations["int-1"] = &Integration{
				ID:         "int-1",
				PlaybookID: "pb-1",
				Platform:   PlatformXSOAR,
				Status:     status,
			}
			stub := &stubAdapter{platform: PlatformXSOAR, testOK: true, execID: "run-9"}
			svc := testService(store, stub)

			if _, err := svc.ExecutePlaybook(context.Background(), "int-1", nil); err == nil {
				t.Fatalf("expected error executing a %s integration", status)
			}
		})
	}
}

func TestExecuteNotImplementedIsPermanent(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{
		platform:  PlatformXSOAR,
		testOK:    true,
		syncID:    "remote-1",
		execID:    "run-9",
		statusErr: fmt.Errorf("status: %w", ErrNotImplemented),
	}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "pb-1", Platform: PlatformXSOAR})
	if err != nil {
		t.Fatalf("CreateIntegration returned error: %v", err)
	}

	start := time.Now()
	_, err = svc.ExecutePlaybook(context.Background(), integ.ID, nil)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if time.Since(start) > pollInterval {
		t.Error("permanent failure must not be retried")
	}
}

func TestDisconnect(t *testing.T) {
	store := newMemStore()
	stub := &stubAdapter{platform: PlatformXSOAR, testOK: true, syncID: "remote-1"}
	svc := testService(store, stub)

	integ, err := svc.CreateIntegration(context.Background(), CreateRequest{PlaybookID: "pb-1", Platform: PlatformXSOAR})
	if err != nil {
		t.Fatalf("CreateIntegration returned error: %v", err)
	}

	if err := svc.Disconnect(context.Background(), integ.ID); err != nil {
		t.Fatalf("Disconnect returned error: %v", err)
	}
	if len(stub.deletedIDs) != 1 || stub.deletedIDs[0] != "remote-1" {
		t.Errorf("remote delete calls = %v", stub.deletedIDs)
	}
	if _, err := store.GetIntegration(context.Background(), integ.ID); !errors.Is(err, ErrIntegrationNotFound) {
		t.Errorf("expected record removed, got %v", err)
	}
}
