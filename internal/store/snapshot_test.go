package store

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/compliance"
)

type fakeSnapshotStore struct {
	mappings []compliance.Mapping
	loadErr  error
	loads    int
}

func (f *fakeSnapshotStore) loadAllMappings(_ context.Context) ([]compliance.Mapping, error) {
	f.loads++
	return f.mappings, f.loadErr
}

func (f *fakeSnapshotStore) LoadSimulationResults(_ context.Context, _ string) ([]compliance.SimulationResult, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) CountComplianceControls(_ context.Context, _ compliance.Framework) (int, error) {
	return 0, nil
}

func (f *fakeSnapshotStore) SaveComplianceReport(_ context.Context, _ *compliance.Report) error {
	return nil
}

func testSnapshot(t *testing.T, src *fakeSnapshotStore) *MappingSnapshot {
	t.Helper()
	s := &MappingSnapshot{inner: src, logger: zap.NewNop()}
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	return s
}

// The snapshot is the only mapping read path; lookups must be keyed
// by technique and framework together.
func TestMappingSnapshotServesLookups(t *testing.T) {
	src := &fakeSnapshotStore{mappings: []compliance.Mapping{
		{TechniqueID: "T1003", Framework: compliance.FrameworkNISTCSF, ControlID: "PR.AC-1"},
		{TechniqueID: "T1003", Framework: compliance.FrameworkNISTCSF, ControlID: "PR.AC-7"},
		{TechniqueID: "T1003", Framework: compliance.FrameworkPCIDSS, ControlID: "8.2"},
	}}
	s := testSnapshot(t, src)

	got, err := s.LoadComplianceMappings(context.Background(), "T1003", compliance.FrameworkNISTCSF)
	if err != nil {
		t.Fatalf("LoadComplianceMappings returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 NIST CSF mappings for T1003, got %d", len(got))
	}

	got, err = s.LoadComplianceMappings(context.Background(), "T1003", compliance.FrameworkPCIDSS)
	if err != nil {
		t.Fatalf("LoadComplianceMappings returned error: %v", err)
	}
	if len(got) != 1 || got[0].ControlID != "8.2" {
		t.Errorf("framework key leaked across frameworks: %+v", got)
	}

	if got, _ := s.LoadComplianceMappings(context.Background(), "T9999", compliance.FrameworkNISTCSF); len(got) != 0 {
		t.Errorf("unknown technique should map to nothing, got %+v", got)
	}
}

// Reload replaces the table wholesale: rows gone from the database
// disappear, new rows appear, and LoadedAt advances.
func TestMappingSnapshotReloadSwapsWholesale(t *testing.T) {
	src := &fakeSnapshotStore{mappings: []compliance.Mapping{
		{TechniqueID: "T1003", Framework: compliance.FrameworkNISTCSF, ControlID: "PR.AC-1"},
	}}
	s := testSnapshot(t, src)
	first := s.LoadedAt()

	src.mappings = []compliance.Mapping{
		{TechniqueID: "T1071", Framework: compliance.FrameworkNISTCSF, ControlID: "DE.CM-1"},
	}
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got, _ := s.LoadComplianceMappings(context.Background(), "T1003", compliance.FrameworkNISTCSF); len(got) != 0 {
		t.Errorf("stale mapping survived the reload: %+v", got)
	}
	if got, _ := s.LoadComplianceMappings(context.Background(), "T1071", compliance.FrameworkNISTCSF); len(got) != 1 {
		t.Errorf("expected the reloaded mapping, got %+v", got)
	}
	if !s.LoadedAt().After(first) && !s.LoadedAt().Equal(first) {
		t.Error("LoadedAt went backwards after reload")
	}
	if src.loads != 2 {
		t.Errorf("expected 2 wholesale loads, got %d", src.loads)
	}
}

// A failed reload must leave the previous table serving.
func TestMappingSnapshotFailedReloadKeepsOldTable(t *testing.T) {
	src := &fakeSnapshotStore{mappings: []compliance.Mapping{
		{TechniqueID: "T1003", Framework: compliance.FrameworkNISTCSF, ControlID: "PR.AC-1"},
	}}
	s := testSnapshot(t, src)

	src.loadErr = errors.New("connection reset")
	if err := s.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}

	got, err := s.LoadComplianceMappings(context.Background(), "T1003", compliance.FrameworkNISTCSF)
	if err != nil {
		t.Fatalf("lookup after failed reload: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("old table should keep serving after a failed reload, got %+v", got)
	}
}
