package soar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// Status is the integration lifecycle state. The only way out of
// failed is another sync attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusSynced    Status = "synced"
	StatusFailed    Status = "failed"
	StatusOutOfSync Status = "out_of_sync" // set externally when the playbook changes after a sync
)

// Integration records one playbook's link to one external platform.
type Integration struct {
	ID                 string     `json:"id"`
	PlaybookID         string     `json:"playbook_id"`
	Platform           Platform   `json:"platform"`
	Name               string     `json:"name"`
	Config             Config     `json:"config"`
	Status             Status     `json:"status"`
	PlatformPlaybookID string     `json:"platform_playbook_id,omitempty"`
	SyncError          string     `json:"sync_error,omitempty"`
	LastSyncedAt       *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IntegrationStore persists integration records.
type IntegrationStore interface {
	SaveIntegration(ctx context.Context, integ *Integration) error
	GetIntegration(ctx context.Context, id string) (*Integration, error)
	UpdateIntegrationStatus(ctx context.Context, id string, status Status, syncedAt *time.Time, syncErr string) error
	DeleteIntegration(ctx context.Context, id string) error
}

// PlaybookLoader resolves the playbook an integration points at.
type PlaybookLoader interface {
	LoadPlaybook(ctx context.Context, id string) (*playbook.Playbook, error)
}

// AdapterFactory builds platform adapters; swappable for tests.
type AdapterFactory func(p Platform, logger *zap.Logger) (Adapter, error)

// Execution polling cadence against the external platform.
const (
	pollInterval    = 2 * time.Second
	pollMaxAttempts = 30
)

// ErrConnectionFailed is returned when the platform connectivity test
// does not pass during integration creation.
var ErrConnectionFailed = errors.New("platform connection test failed")

// Service owns the integration lifecycle: create, sync, execute,
// disconnect.
type Service struct {
	store      IntegrationStore
	loader     PlaybookLoader
	newAdapter AdapterFactory
	logger     *zap.Logger
}

// NewService wires the integration service. factory defaults to
// NewAdapter when nil.
func NewService(store IntegrationStore, loader PlaybookLoader, factory AdapterFactory, logger *zap.Logger) *Service {
	if factory == nil {
		factory = NewAdapter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, loader: loader, newAdapter: factory, logger: logger}
}

// CreateRequest describes a new integration.
type CreateRequest struct {
	PlaybookID string   `json:"playbook_id"`
	Platform   Platform `json:"platform"`
	Name       string   `json:"name"`
	Config     Config   `json:"config"`
}

// CreateIntegration connects to the platform, verifies reachability,
// performs the initial sync and persists the record. A missing
// playbook or failed connection test aborts before anything is
// persisted.
func (s *Service) CreateIntegration(ctx context.Context, req CreateRequest) (*Integration, error) {
	pb, err := s.loader.LoadPlaybook(ctx, req.PlaybookID)
	if err != nil {
		return nil, fmt.Errorf("load playbook %s: %w", req.PlaybookID, err)
	}

	adapter, err := s.newAdapter(req.Platform, s.logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx, req.Config); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", req.Platform, err)
	}
	ok, err := adapter.TestConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("test connection to %s: %w", req.Platform, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Platform, ErrConnectionFailed)
	}

	now := time.Now().UTC()
	integ := &Integration{
		ID:         uuid.NewString(),
		PlaybookID: req.PlaybookID,
		Platform:   req.Platform,
		Name:       req.Name,
		Config:     req.Config,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveIntegration(ctx, integ); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}

	if err := s.sync(ctx, integ, adapter, pb); err != nil {
		return integ, err
	}
	return integ, nil
}

// GetIntegration returns the stored integration record.
func (s *Service) GetIntegration(ctx context.Context, integrationID string) (*Integration, error) {
	return s.store.GetIntegration(ctx, integrationID)
}

// SyncPlaybook re-syncs an existing integration with the current
// playbook state.
func (s *Service) SyncPlaybook(ctx context.Context, integrationID string) (*Integration, error) {
	integ, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	pb, err := s.loader.LoadPlaybook(ctx, integ.PlaybookID)
	if err != nil {
		return nil, fmt.Errorf("load playbook %s: %w", integ.PlaybookID, err)
	}

	adapter, err := s.newAdapter(integ.Platform, s.logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx, integ.Config); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", integ.Platform, err)
	}

	if err := s.sync(ctx, integ, adapter, pb); err != nil {
		return integ, err
	}
	return integ, nil
}

// sync drives one sync attempt through the state machine. When a
// stored platform playbook no longer resolves remotely, the playbook
// is re-created and the stored id overwritten. The failed status is
// recorded before the error is returned, so it is observable even
// when the caller discards the error.
func (s *Service) sync(ctx context.Context, integ *Integration, adapter Adapter, pb *playbook.Playbook) error {
	if err := s.store.UpdateIntegrationStatus(ctx, integ.ID, StatusSyncing, nil, ""); err != nil {
		return fmt.Errorf("mark integration syncing: %w", err)
	}
	integ.Status = StatusSyncing

	platformID, syncErr := s.pushPlaybook(ctx, integ, adapter, pb)
	if syncErr != nil {
		integ.Status = StatusFailed
		integ.SyncError = syncErr.Error()
		if err := s.store.UpdateIntegrationStatus(ctx, integ.ID, StatusFailed, nil, syncErr.Error()); err != nil {
			s.logger.Error("failed to record sync failure",
				zap.String("integration_id", integ.ID),
				zap.Error(err))
		}
		return fmt.Errorf("sync integration %s: %w", integ.ID, syncErr)
	}

	now := time.Now().UTC()
	integ.Status = StatusSynced
	integ.SyncError = ""
	integ.PlatformPlaybookID = platformID
	integ.LastSyncedAt = &now
	integ.UpdatedAt = now
	if err := s.store.SaveIntegration(ctx, integ); err != nil {
		return fmt.Errorf("record synced integration %s: %w", integ.ID, err)
	}

	s.logger.Info("integration synced",
		zap.String("integration_id", integ.ID),
		zap.String("platform", string(integ.Platform)),
		zap.String("platform_playbook_id", platformID))
	return nil
}

// pushPlaybook updates the remote playbook when it still resolves,
// otherwise creates it.
func (s *Service) pushPlaybook(ctx context.Context, integ *Integration, adapter Adapter, pb *playbook.Playbook) (string, error) {
	if integ.PlatformPlaybookID != "" {
		if _, err := adapter.GetPlaybook(ctx, integ.PlatformPlaybookID); err == nil {
			if err := adapter.UpdatePlaybook(ctx, integ.PlatformPlaybookID, pb); err != nil {
				return "", err
			}
			return integ.PlatformPlaybookID, nil
		}
	}
	return adapter.SyncPlaybook(ctx, pb)
}

// Execution is the outcome of one remote playbook run.
type Execution struct {
	IntegrationID string           `json:"integration_id"`
	ExecutionID   string           `json:"execution_id"`
	Result        *ExecutionStatus `json:"result"`
}

// ExecutePlaybook triggers the synced playbook on the external
// platform and polls until the run reaches a terminal state or the
// attempt budget runs out.
func (s *Service) ExecutePlaybook(ctx context.Context, integrationID string, params map[string]any) (*Execution, error) {
	integ, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if integ.Status != StatusSynced {
		return nil, fmt.Errorf("integration %s: status %s, must be synced before execution", integ.ID, integ.Status)
	}

	adapter, err := s.newAdapter(integ.Platform, s.logger)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx, integ.Config); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", integ.Platform, err)
	}

	executionID, err := adapter.ExecutePlaybook(ctx, integ.PlatformPlaybookID, params)
	if err != nil {
		return nil, fmt.Errorf("execute on %s: %w", integ.Platform, err)
	}

	result, err := s.awaitExecution(ctx, adapter, executionID)
	if err != nil {
		return nil, err
	}
	return &Execution{
		IntegrationID: integ.ID,
		ExecutionID:   executionID,
		Result:        result,
	}, nil
}

// awaitExecution polls the platform on a constant cadence until the
// run terminates. A NotImplemented status endpoint is surfaced
// immediately; transient platform errors consume attempts.
func (s *Service) awaitExecution(ctx context.Context, adapter Adapter, executionID string) (*ExecutionStatus, error) {
	var result *ExecutionStatus

	operation := func() error {
		status, err := adapter.GetExecutionStatus(ctx, executionID)
		if err != nil {
			if errors.Is(err, ErrNotImplemented) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !status.Terminal() {
			return fmt.Errorf("execution %s still %s", executionID, status.Status)
		}
		result = status
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(pollInterval), pollMaxAttempts),
		ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("await execution %s: %w", executionID, err)
	}
	return result, nil
}

// Disconnect removes the remote playbook where the platform supports
// deletion, then deletes the integration record. A NotImplemented
// remote delete is tolerated.
func (s *Service) Disconnect(ctx context.Context, integrationID string) error {
	integ, err := s.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return err
	}

	if integ.PlatformPlaybookID != "" {
		adapter, err := s.newAdapter(integ.Platform, s.logger)
		if err == nil {
			if err := adapter.Connect(ctx, integ.Config); err == nil {
				if err := adapter.DeletePlaybook(ctx, integ.PlatformPlaybookID); err != nil && !errors.Is(err, ErrNotImplemented) {
					s.logger.Warn("remote playbook delete failed",
						zap.String("integration_id", integ.ID),
						zap.Error(err))
				}
			}
		}
	}

	if err := s.store.DeleteIntegration(ctx, integrationID); err != nil {
		return fmt.Errorf("delete integration %s: %w", integrationID, err)
	}
	return nil
}
