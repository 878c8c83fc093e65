package soar

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/threatflow/threatflow/internal/playbook"
)

const defaultTimeout = 30 * time.Second

// platformClient is the HTTP plumbing shared by every adapter. Each
// adapter supplies its own authentication headers through authFn.
type platformClient struct {
	baseURL    string
	httpClient *http.Client
	authFn     func(*http.Request)
}

func newPlatformClient(cfg Config, authFn func(*http.Request)) *platformClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport
	// Verification is skipped only on explicit opt-out; unset means verify.
	if cfg.VerifyTLS != nil && !*cfg.VerifyTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &platformClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		authFn: authFn,
	}
}

// doJSON issues one request and decodes a JSON response into out (when
// out is non-nil). Network failures and non-2xx statuses both surface
// as *PlatformError.
func (c *platformClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authFn != nil {
		c.authFn(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &PlatformError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &PlatformError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// ping issues a GET and reports reachability. An unreachable or
// unauthorized endpoint is a false result, not an error; only request
// construction fails.
func (c *platformClient) ping(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("GET %s: build request: %w", path, err)
	}
	if c.authFn != nil {
		c.authFn(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// playbookPayload is the neutral wire form a playbook takes before
// each adapter reshapes it for its platform.
type playbookPayload struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Severity    string         `json:"severity"`
	Tasks       []taskPayload  `json:"tasks"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type taskPayload struct {
	Order            int    `json:"order"`
	Phase            string `json:"phase"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	Type             string `json:"type"`
	DurationMinutes  int    `json:"duration_minutes"`
	RequiresApproval bool   `json:"requires_approval"`
}

func buildPayload(pb *playbook.Playbook) playbookPayload {
	payload := playbookPayload{
		Name:        pb.Name,
		Description: pb.Description,
		Severity:    string(pb.Severity),
		Metadata: map[string]any{
			"source_playbook_id": pb.ID,
			"version":            pb.Version,
			"estimated_minutes":  pb.EstimatedTimeMinutes,
		},
	}
	order := 0
	for _, ph := range pb.Phases {
		for _, a := range ph.Actions {
			order++
			payload.Tasks = append(payload.Tasks, taskPayload{
				Order:            order,
				Phase:            string(ph.Name),
				Title:            a.Title,
				Description:      a.Description,
				Type:             string(a.ActionType),
				DurationMinutes:  a.EstimatedDurationMinutes,
				RequiresApproval: a.RequiresApproval || ph.RequiresApproval,
			})
		}
	}
	return payload
}
