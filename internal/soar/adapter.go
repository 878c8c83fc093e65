// Package soar synchronizes generated playbooks to external security
// orchestration platforms through a uniform adapter protocol.
package soar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/playbook"
)

var (
	// ErrNotImplemented marks an adapter method the platform does not
	// support. Permanent; callers must not retry.
	ErrNotImplemented = errors.New("not implemented for this platform")

	// ErrPlatform marks an HTTP failure or non-2xx response from the
	// external platform. Transient; callers may retry.
	ErrPlatform = errors.New("platform error")

	// ErrIntegrationNotFound is returned for an unknown integration id.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrUnknownPlatform is returned for a platform outside the
	// supported set.
	ErrUnknownPlatform = errors.New("unknown SOAR platform")
)

// PlatformError carries the HTTP detail of a failed platform call.
// It unwraps to ErrPlatform.
type PlatformError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *PlatformError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: platform returned %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Body)
}

func (e *PlatformError) Unwrap() error { return ErrPlatform }

// Platform identifies a supported SOAR platform.
type Platform string

const (
	PlatformXSOAR      Platform = "xsoar"
	PlatformSplunkSOAR Platform = "splunk_soar"
	PlatformResilient  Platform = "ibm_resilient"
	PlatformServiceNow Platform = "servicenow"
	PlatformGeneric    Platform = "generic_rest"
)

// Config is the connection configuration for one integration.
type Config struct {
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	APIKey    string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Username  string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string        `json:"password,omitempty" yaml:"password,omitempty"`
	OrgID     string        `json:"org_id,omitempty" yaml:"org_id,omitempty"`
	VerifyTLS *bool         `json:"verify_tls,omitempty" yaml:"verify_tls,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Defaults fills integration config fields the caller left unset.
type Defaults struct {
	Timeout   time.Duration
	VerifyTLS bool
}

// Apply seeds unset fields on cfg. Explicit caller values always win.
func (d Defaults) Apply(cfg *Config) {
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.VerifyTLS == nil {
		v := d.VerifyTLS
		cfg.VerifyTLS = &v
	}
}

// PlatformPlaybook is the platform-side representation of a synced
// playbook, as much of it as the adapter can normalize.
type PlatformPlaybook struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Raw  map[string]any `json:"raw,omitempty"`
}

// Execution statuses reported by platforms, normalized.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// ExecutionStatus is the normalized state of one playbook run.
type ExecutionStatus struct {
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
}

// Terminal reports whether the execution has finished.
func (s *ExecutionStatus) Terminal() bool {
	return s.Status == ExecutionCompleted || s.Status == ExecutionFailed
}

// Adapter is the uniform protocol every platform integration speaks.
// Connect must be called before any other method. Platforms that only
// support connectivity checks return ErrNotImplemented from the rest.
type Adapter interface {
	Platform() Platform
	Connect(ctx context.Context, cfg Config) error
	TestConnection(ctx context.Context) (bool, error)
	SyncPlaybook(ctx context.Context, pb *playbook.Playbook) (string, error)
	GetPlaybook(ctx context.Context, platformID string) (*PlatformPlaybook, error)
	UpdatePlaybook(ctx context.Context, platformID string, pb *playbook.Playbook) error
	DeletePlaybook(ctx context.Context, platformID string) error
	ExecutePlaybook(ctx context.Context, platformID string, params map[string]any) (string, error)
	GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error)
}

// NewAdapter builds the adapter for a platform.
func NewAdapter(p Platform, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch p {
	case PlatformXSOAR:
		return newXSOARAdapter(logger), nil
	case PlatformSplunkSOAR:
		return newSplunkSOARAdapter(logger), nil
	case PlatformResilient:
		return newResilientAdapter(logger), nil
	case PlatformServiceNow:
		return newServiceNowAdapter(logger), nil
	case PlatformGeneric:
		return newGenericAdapter(logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
}
