package soar

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// genericAdapter speaks a plain bearer-token REST convention for
// platforms without a dedicated adapter: CRUD under /playbooks and
// runs under /executions.
type genericAdapter struct {
	client *platformClient
	logger *zap.Logger
}

func newGenericAdapter(logger *zap.Logger) *genericAdapter {
	return &genericAdapter{logger: logger}
}

func (a *genericAdapter) Platform() Platform { return PlatformGeneric }

func (a *genericAdapter) Connect(_ context.Context, cfg Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("generic_rest: base_url is required")
	}
	token := cfg.APIKey
	a.client = newPlatformClient(cfg, func(req *http.Request) {
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	})
	return nil
}

func (a *genericAdapter) TestConnection(ctx context.Context) (bool, error) {
	if a.client == nil {
		return false, fmt.Errorf("generic_rest: not connected")
	}
	return a.client.ping(ctx, "/health")
}

type genericPlaybook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (a *genericAdapter) SyncPlaybook(ctx context.Context, pb *playbook.Playbook) (string, error) {
	var created genericPlaybook
	if err := a.client.doJSON(ctx, http.MethodPost, "/playbooks", buildPayload(pb), &created); err != nil {
		return "", fmt.Errorf("generic_rest: sync playbook %s: %w", pb.ID, err)
	}
	return created.ID, nil
}

func (a *genericAdapter) GetPlaybook(ctx context.Context, platformID string) (*PlatformPlaybook, error) {
	var got genericPlaybook
	if err := a.client.doJSON(ctx, http.MethodGet, "/playbooks/"+platformID, nil, &got); err != nil {
		return nil, fmt.Errorf("generic_rest: get playbook %s: %w", platformID, err)
	}
	return &PlatformPlaybook{ID: got.ID, Name: got.Name}, nil
}

func (a *genericAdapter) UpdatePlaybook(ctx context.Context, platformID string, pb *playbook.Playbook) error {
	if err := a.client.doJSON(ctx, http.MethodPut, "/playbooks/"+platformID, buildPayload(pb), nil); err != nil {
		return fmt.Errorf("generic_rest: update playbook %s: %w", platformID, err)
	}
	return nil
}

func (a *genericAdapter) DeletePlaybook(ctx context.Context, platformID string) error {
	if err := a.client.doJSON(ctx, http.MethodDelete, "/playbooks/"+platformID, nil, nil); err != nil {
		return fmt.Errorf("generic_rest: delete playbook %s: %w", platformID, err)
	}
	return nil
}

type genericExecution struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

func (a *genericAdapter) ExecutePlaybook(ctx context.Context, platformID string, params map[string]any) (string, error) {
	body := map[string]any{"parameters": params}
	var exec genericExecution
	if err := a.client.doJSON(ctx, http.MethodPost, "/playbooks/"+platformID+"/execute", body, &exec); err != nil {
		return "", fmt.Errorf("generic_rest: execute playbook %s: %w", platformID, err)
	}
	return exec.ID, nil
}

func (a *genericAdapter) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	var exec genericExecution
	if err := a.client.doJSON(ctx, http.MethodGet, "/executions/"+executionID, nil, &exec); err != nil {
		return nil, fmt.Errorf("generic_rest: execution status %s: %w", executionID, err)
	}
	status := exec.Status
	switch status {
	case ExecutionCompleted, ExecutionFailed:
	default:
		status = ExecutionRunning
	}
	return &ExecutionStatus{
		ExecutionID: exec.ID,
		Status:      status,
		Message:     exec.Message,
		Outputs:     exec.Outputs,
	}, nil
}
