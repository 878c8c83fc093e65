package soar

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// serviceNowAdapter covers ServiceNow Security Operations. Only
// connectivity is supported; SecOps flow import requires the
// ServiceNow-side integration application.
type serviceNowAdapter struct {
	client *platformClient
	logger *zap.Logger
}

func newServiceNowAdapter(logger *zap.Logger) *serviceNowAdapter {
	return &serviceNowAdapter{logger: logger}
}

func (a *serviceNowAdapter) Platform() Platform { return PlatformServiceNow }

func (a *serviceNowAdapter) Connect(_ context.Context, cfg Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("servicenow: base_url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("servicenow: username and password are required")
	}
	user, pass := cfg.Username, cfg.Password
	a.client = newPlatformClient(cfg, func(req *http.Request) {
		req.SetBasicAuth(user, pass)
	})
	return nil
}

func (a *serviceNowAdapter) TestConnection(ctx context.Context) (bool, error) {
	if a.client == nil {
		return false, fmt.Errorf("servicenow: not connected")
	}
	return a.client.ping(ctx, "/api/now/table/sys_user?sysparm_limit=1")
}

func (a *serviceNowAdapter) SyncPlaybook(context.Context, *playbook.Playbook) (string, error) {
	return "", fmt.Errorf("servicenow: sync playbook: %w", ErrNotImplemented)
}

func (a *serviceNowAdapter) GetPlaybook(context.Context, string) (*PlatformPlaybook, error) {
	return nil, fmt.Errorf("servicenow: get playbook: %w", ErrNotImplemented)
}

func (a *serviceNowAdapter) UpdatePlaybook(context.Context, string, *playbook.Playbook) error {
	return fmt.Errorf("servicenow: update playbook: %w", ErrNotImplemented)
}

func (a *serviceNowAdapter) DeletePlaybook(context.Context, string) error {
	return fmt.Errorf("servicenow: delete playbook: %w", ErrNotImplemented)
}

func (a *serviceNowAdapter) ExecutePlaybook(context.Context, string, map[string]any) (string, error) {
	return "", fmt.Errorf("servicenow: execute playbook: %w", ErrNotImplemented)
}

func (a *serviceNowAdapter) GetExecutionStatus(context.Context, string) (*ExecutionStatus, error) {
	return nil, fmt.Errorf("servicenow: execution status: %w", ErrNotImplemented)
}
