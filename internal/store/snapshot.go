package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/compliance"
)

// snapshotStore is the relational surface the snapshot builds from
// and delegates non-mapping reads to.
type snapshotStore interface {
	loadAllMappings(ctx context.Context) ([]compliance.Mapping, error)
	LoadSimulationResults(ctx context.Context, jobID string) ([]compliance.SimulationResult, error)
	CountComplianceControls(ctx context.Context, framework compliance.Framework) (int, error)
	SaveComplianceReport(ctx context.Context, report *compliance.Report) error
}

// MappingSnapshot serves compliance mapping lookups from an immutable
// in-memory table. The table is replaced atomically on reload; readers
// never observe a partially loaded state.
type MappingSnapshot struct {
	inner    snapshotStore
	snapshot atomic.Pointer[mappingTable]
	logger   *zap.Logger
}

type mappingTable struct {
	byTechnique map[string][]compliance.Mapping
	loadedAt    time.Time
}

func mappingTableKey(techniqueID string, framework compliance.Framework) string {
	return string(framework) + "/" + techniqueID
}

// NewMappingSnapshot builds the snapshot service and performs the
// initial load.
func NewMappingSnapshot(ctx context.Context, inner *Postgres, logger *zap.Logger) (*MappingSnapshot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MappingSnapshot{inner: inner, logger: logger}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the whole table from the database and swaps it in.
func (s *MappingSnapshot) Reload(ctx context.Context) error {
	rows, err := s.inner.loadAllMappings(ctx)
	if err != nil {
		return fmt.Errorf("load compliance mappings: %w", err)
	}

	table := &mappingTable{
		byTechnique: make(map[string][]compliance.Mapping),
		loadedAt:    time.Now().UTC(),
	}
	for _, m := range rows {
		key := mappingTableKey(m.TechniqueID, m.Framework)
		table.byTechnique[key] = append(table.byTechnique[key], m)
	}
	s.snapshot.Store(table)

	s.logger.Info("compliance mapping snapshot reloaded",
		zap.Int("mappings", len(rows)))
	return nil
}

// LoadComplianceMappings serves from the current snapshot.
func (s *MappingSnapshot) LoadComplianceMappings(_ context.Context, techniqueID string, framework compliance.Framework) ([]compliance.Mapping, error) {
	table := s.snapshot.Load()
	if table == nil {
		return nil, fmt.Errorf("mapping snapshot not loaded")
	}
	return table.byTechnique[mappingTableKey(techniqueID, framework)], nil
}

// LoadedAt reports when the current snapshot was built.
func (s *MappingSnapshot) LoadedAt() time.Time {
	table := s.snapshot.Load()
	if table == nil {
		return time.Time{}
	}
	return table.loadedAt
}

// LoadSimulationResults delegates to the relational store.
func (s *MappingSnapshot) LoadSimulationResults(ctx context.Context, jobID string) ([]compliance.SimulationResult, error) {
	return s.inner.LoadSimulationResults(ctx, jobID)
}

// CountComplianceControls delegates to the relational store.
func (s *MappingSnapshot) CountComplianceControls(ctx context.Context, framework compliance.Framework) (int, error) {
	return s.inner.CountComplianceControls(ctx, framework)
}

// SaveComplianceReport delegates to the relational store.
func (s *MappingSnapshot) SaveComplianceReport(ctx context.Context, report *compliance.Report) error {
	return s.inner.SaveComplianceReport(ctx, report)
}
