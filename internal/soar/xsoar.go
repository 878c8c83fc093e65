package soar

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// xsoarAdapter talks to Palo Alto Cortex XSOAR. XSOAR authenticates
// with the raw API key in the Authorization header, not a bearer token.
type xsoarAdapter struct {
	client *platformClient
	logger *zap.Logger
}

func newXSOARAdapter(logger *zap.Logger) *xsoarAdapter {
	return &xsoarAdapter{logger: logger}
}

func (a *xsoarAdapter) Platform() Platform { return PlatformXSOAR }

func (a *xsoarAdapter) Connect(_ context.Context, cfg Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("xsoar: base_url is required")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("xsoar: api_key is required")
	}
	apiKey := cfg.APIKey
	a.client = newPlatformClient(cfg, func(req *http.Request) {
		req.Header.Set("Authorization", apiKey)
	})
	return nil
}

func (a *xsoarAdapter) TestConnection(ctx context.Context) (bool, error) {
	if a.client == nil {
		return false, fmt.Errorf("xsoar: not connected")
	}
	return a.client.ping(ctx, "/about")
}

type xsoarPlaybook struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tasks       map[string]any `json:"tasks,omitempty"`
}

func (a *xsoarAdapter) toXSOAR(pb *playbook.Playbook, platformID string) map[string]any {
	payload := buildPayload(pb)
	tasks := make(map[string]any, len(payload.Tasks))
	for _, t := range payload.Tasks {
		tasks[fmt.Sprintf("%d", t.Order)] = map[string]any{
			"id":   fmt.Sprintf("%d", t.Order),
			"type": xsoarTaskType(t.Type),
			"task": map[string]any{
				"name":        t.Title,
				"description": t.Description,
				"tags":        []string{t.Phase},
			},
		}
	}
	doc := map[string]any{
		"name":        payload.Name,
		"description": payload.Description,
		"tasks":       tasks,
	}
	if platformID != "" {
		doc["id"] = platformID
	}
	return doc
}

func xsoarTaskType(actionType string) string {
	switch actionType {
	case string(playbook.ActionTypeManual), string(playbook.ActionTypeNotification):
		return "regular"
	default:
		return "playbook"
	}
}

func (a *xsoarAdapter) SyncPlaybook(ctx context.Context, pb *playbook.Playbook) (string, error) {
	var created xsoarPlaybook
	if err := a.client.doJSON(ctx, http.MethodPost, "/playbook/save", a.toXSOAR(pb, ""), &created); err != nil {
		return "", fmt.Errorf("xsoar: sync playbook %s: %w", pb.ID, err)
	}
	a.logger.Info("playbook synced to xsoar",
		zap.String("playbook_id", pb.ID),
		zap.String("platform_playbook_id", created.ID))
	return created.ID, nil
}

func (a *xsoarAdapter) GetPlaybook(ctx context.Context, platformID string) (*PlatformPlaybook, error) {
	var got xsoarPlaybook
	if err := a.client.doJSON(ctx, http.MethodGet, "/playbook/"+platformID, nil, &got); err != nil {
		return nil, fmt.Errorf("xsoar: get playbook %s: %w", platformID, err)
	}
	return &PlatformPlaybook{ID: got.ID, Name: got.Name}, nil
}

func (a *xsoarAdapter) UpdatePlaybook(ctx context.Context, platformID string, pb *playbook.Playbook) error {
	if err := a.client.doJSON(ctx, http.MethodPost, "/playbook/save", a.toXSOAR(pb, platformID), nil); err != nil {
		return fmt.Errorf("xsoar: update playbook %s: %w", platformID, err)
	}
	return nil
}

func (a *xsoarAdapter) DeletePlaybook(ctx context.Context, platformID string) error {
	body := map[string]any{"id": platformID}
	if err := a.client.doJSON(ctx, http.MethodPost, "/playbook/delete", body, nil); err != nil {
		return fmt.Errorf("xsoar: delete playbook %s: %w", platformID, err)
	}
	return nil
}

type xsoarExecution struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}

func (a *xsoarAdapter) ExecutePlaybook(ctx context.Context, platformID string, params map[string]any) (string, error) {
	body := map[string]any{"playbookId": platformID, "args": params}
	var exec xsoarExecution
	if err := a.client.doJSON(ctx, http.MethodPost, "/playbook/execute", body, &exec); err != nil {
		return "", fmt.Errorf("xsoar: execute playbook %s: %w", platformID, err)
	}
	return exec.ID, nil
}

func (a *xsoarAdapter) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	var exec xsoarExecution
	if err := a.client.doJSON(ctx, http.MethodGet, "/playbook/execution/"+executionID, nil, &exec); err != nil {
		return nil, fmt.Errorf("xsoar: execution status %s: %w", executionID, err)
	}
	return &ExecutionStatus{
		ExecutionID: exec.ID,
		Status:      normalizeXSOARStatus(exec.Status),
		Message:     exec.Error,
		Outputs:     exec.Output,
	}, nil
}

func normalizeXSOARStatus(s string) string {
	switch s {
	case "completed", "success":
		return ExecutionCompleted
	case "failed", "error":
		return ExecutionFailed
	default:
		return ExecutionRunning
	}
}
