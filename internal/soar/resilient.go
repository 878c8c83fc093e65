package soar

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// resilientAdapter covers IBM Security QRadar SOAR (Resilient). Only
// connectivity is supported; playbook sync against the Resilient
// object model is a separate effort.
type resilientAdapter struct {
	client *platformClient
	orgID  string
	logger *zap.Logger
}

func newResilientAdapter(logger *zap.Logger) *resilientAdapter {
	return &resilientAdapter{logger: logger}
}

func (a *resilientAdapter) Platform() Platform { return PlatformResilient }

func (a *resilientAdapter) Connect(_ context.Context, cfg Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("ibm_resilient: base_url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("ibm_resilient: username and password are required")
	}
	user, pass := cfg.Username, cfg.Password
	a.orgID = cfg.OrgID
	a.client = newPlatformClient(cfg, func(req *http.Request) {
		req.SetBasicAuth(user, pass)
	})
	return nil
}

func (a *resilientAdapter) TestConnection(ctx context.Context) (bool, error) {
	if a.client == nil {
		return false, fmt.Errorf("ibm_resilient: not connected")
	}
	return a.client.ping(ctx, "/rest/const")
}

func (a *resilientAdapter) SyncPlaybook(context.Context, *playbook.Playbook) (string, error) {
	return "", fmt.Errorf("ibm_resilient: sync playbook: %w", ErrNotImplemented)
}

func (a *resilientAdapter) GetPlaybook(context.Context, string) (*PlatformPlaybook, error) {
	return nil, fmt.Errorf("ibm_resilient: get playbook: %w", ErrNotImplemented)
}

func (a *resilientAdapter) UpdatePlaybook(context.Context, string, *playbook.Playbook) error {
	return fmt.Errorf("ibm_resilient: update playbook: %w", ErrNotImplemented)
}

func (a *resilientAdapter) DeletePlaybook(context.Context, string) error {
	return fmt.Errorf("ibm_resilient: delete playbook: %w", ErrNotImplemented)
}

func (a *resilientAdapter) ExecutePlaybook(context.Context, string, map[string]any) (string, error) {
	return "", fmt.Errorf("ibm_resilient: execute playbook: %w", ErrNotImplemented)
}

func (a *resilientAdapter) GetExecutionStatus(context.Context, string) (*ExecutionStatus, error) {
	return nil, fmt.Errorf("ibm_resilient: execution status: %w", ErrNotImplemented)
}
