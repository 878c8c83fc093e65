package soar

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

// splunkSOARAdapter talks to Splunk SOAR (formerly Phantom). Splunk
// SOAR authenticates with a ph-auth-token header and identifies
// playbooks by numeric ids.
type splunkSOARAdapter struct {
	client *platformClient
	logger *zap.Logger
}

func newSplunkSOARAdapter(logger *zap.Logger) *splunkSOARAdapter {
	return &splunkSOARAdapter{logger: logger}
}

func (a *splunkSOARAdapter) Platform() Platform { return PlatformSplunkSOAR }

func (a *splunkSOARAdapter) Connect(_ context.Context, cfg Config) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("splunk_soar: base_url is required")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("splunk_soar: api_key is required")
	}
	token := cfg.APIKey
	a.client = newPlatformClient(cfg, func(req *http.Request) {
		req.Header.Set("ph-auth-token", token)
	})
	return nil
}

func (a *splunkSOARAdapter) TestConnection(ctx context.Context) (bool, error) {
	if a.client == nil {
		return false, fmt.Errorf("splunk_soar: not connected")
	}
	return a.client.ping(ctx, "/rest/system_info")
}

type phantomPlaybook struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type phantomCreateResponse struct {
	ID      int  `json:"id"`
	Success bool `json:"success"`
}

func (a *splunkSOARAdapter) toPhantom(pb *playbook.Playbook) map[string]any {
	payload := buildPayload(pb)
	blocks := make([]map[string]any, 0, len(payload.Tasks))
	for _, t := range payload.Tasks {
		blocks = append(blocks, map[string]any{
			"order":    t.Order,
			"name":     t.Title,
			"type":     t.Type,
			"label":    t.Phase,
			"manual":   t.Type == string(playbook.ActionTypeManual),
			"approval": t.RequiresApproval,
		})
	}
	return map[string]any{
		"name":        payload.Name,
		"description": payload.Description,
		"labels":      []string{"threatflow", payload.Severity},
		"blocks":      blocks,
	}
}

func (a *splunkSOARAdapter) SyncPlaybook(ctx context.Context, pb *playbook.Playbook) (string, error) {
	var created phantomCreateResponse
	if err := a.client.doJSON(ctx, http.MethodPost, "/rest/playbook", a.toPhantom(pb), &created); err != nil {
		return "", fmt.Errorf("splunk_soar: sync playbook %s: %w", pb.ID, err)
	}
	platformID := strconv.Itoa(created.ID)
	a.logger.Info("playbook synced to splunk soar",
		zap.String("playbook_id", pb.ID),
		zap.String("platform_playbook_id", platformID))
	return platformID, nil
}

func (a *splunkSOARAdapter) GetPlaybook(ctx context.Context, platformID string) (*PlatformPlaybook, error) {
	var got phantomPlaybook
	if err := a.client.doJSON(ctx, http.MethodGet, "/rest/playbook/"+platformID, nil, &got); err != nil {
		return nil, fmt.Errorf("splunk_soar: get playbook %s: %w", platformID, err)
	}
	return &PlatformPlaybook{ID: strconv.Itoa(got.ID), Name: got.Name}, nil
}

func (a *splunkSOARAdapter) UpdatePlaybook(ctx context.Context, platformID string, pb *playbook.Playbook) error {
	if err := a.client.doJSON(ctx, http.MethodPost, "/rest/playbook/"+platformID, a.toPhantom(pb), nil); err != nil {
		return fmt.Errorf("splunk_soar: update playbook %s: %w", platformID, err)
	}
	return nil
}

func (a *splunkSOARAdapter) DeletePlaybook(ctx context.Context, platformID string) error {
	if err := a.client.doJSON(ctx, http.MethodDelete, "/rest/playbook/"+platformID, nil, nil); err != nil {
		return fmt.Errorf("splunk_soar: delete playbook %s: %w", platformID, err)
	}
	return nil
}

type phantomRun struct {
	ID      int            `json:"id"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

func (a *splunkSOARAdapter) ExecutePlaybook(ctx context.Context, platformID string, params map[string]any) (string, error) {
	body := map[string]any{
		"playbook_id": platformID,
		"scope":       "new",
		"run":         true,
		"params":      params,
	}
	var run phantomRun
	if err := a.client.doJSON(ctx, http.MethodPost, "/rest/playbook_run", body, &run); err != nil {
		return "", fmt.Errorf("splunk_soar: execute playbook %s: %w", platformID, err)
	}
	return strconv.Itoa(run.ID), nil
}

func (a *splunkSOARAdapter) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	var run phantomRun
	if err := a.client.doJSON(ctx, http.MethodGet, "/rest/playbook_run/"+executionID, nil, &run); err != nil {
		return nil, fmt.Errorf("splunk_soar: execution status %s: %w", executionID, err)
	}
	return &ExecutionStatus{
		ExecutionID: strconv.Itoa(run.ID),
		Status:      normalizePhantomStatus(run.Status),
		Message:     run.Message,
		Outputs:     run.Outputs,
	}, nil
}

func normalizePhantomStatus(s string) string {
	switch s {
	case "success":
		return ExecutionCompleted
	case "failed":
		return ExecutionFailed
	default:
		return ExecutionRunning
	}
}
