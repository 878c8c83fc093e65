// Package playbook generates executable incident-response playbooks
// from structured attack analyses.
package playbook

import (
	"time"

	"github.com/threatflow/threatflow/internal/rules"
)

// Severity levels accepted for playbooks and generation requests.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is one of the accepted levels.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the playbook lifecycle state. A playbook is created in
// draft; status mutates only through explicit update operations.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusActive     Status = "active"
	StatusArchived   Status = "archived"
	StatusDeprecated Status = "deprecated"
)

// ValidStatus reports whether s is one of the lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusReview, StatusApproved, StatusActive, StatusArchived, StatusDeprecated:
		return true
	}
	return false
}

// PhaseName is one of the seven canonical response phases.
type PhaseName string

const (
	PhasePreparation  PhaseName = "preparation"
	PhaseDetection    PhaseName = "detection"
	PhaseAnalysis     PhaseName = "analysis"
	PhaseContainment  PhaseName = "containment"
	PhaseEradication  PhaseName = "eradication"
	PhaseRecovery     PhaseName = "recovery"
	PhasePostIncident PhaseName = "post_incident"
)

// CanonicalPhases is the fixed phase order. Customized playbooks pick
// a subset; the order never changes.
var CanonicalPhases = []PhaseName{
	PhasePreparation, PhaseDetection, PhaseAnalysis,
	PhaseContainment, PhaseEradication, PhaseRecovery,
	PhasePostIncident,
}

// phaseRequiresApproval is fixed per phase name.
var phaseRequiresApproval = map[PhaseName]bool{
	PhaseContainment: true,
	PhaseEradication: true,
	PhaseRecovery:    true,
}

// ActionType classifies how an action is carried out.
type ActionType string

const (
	ActionTypeManual       ActionType = "manual"
	ActionTypeAutomated    ActionType = "automated"
	ActionTypeScript       ActionType = "script"
	ActionTypeAPICall      ActionType = "api_call"
	ActionTypeNotification ActionType = "notification"
)

// automatable reports whether the action type counts toward a phase's
// isAutomated flag.
func (a ActionType) automatable() bool {
	switch a {
	case ActionTypeAutomated, ActionTypeScript, ActionTypeAPICall:
		return true
	}
	return false
}

// Action is the leaf unit of a playbook. Never mutated after
// generation except through the explicit edit API.
type Action struct {
	ID                       string     `json:"id" yaml:"id" db:"id"`
	PhaseID                  string     `json:"phase_id" yaml:"-" db:"phase_id"`
	ActionOrder              int        `json:"action_order" yaml:"action_order" db:"action_order"`
	ActionType               ActionType `json:"action_type" yaml:"action_type" db:"action_type"`
	Title                    string     `json:"title" yaml:"title" db:"title"`
	Description              string     `json:"description,omitempty" yaml:"description,omitempty" db:"description"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes" yaml:"estimated_duration_minutes" db:"estimated_duration_minutes"`
	RequiresApproval         bool       `json:"requires_approval" yaml:"requires_approval" db:"requires_approval"`
	MITRETechniqueID         string     `json:"mitre_technique_id,omitempty" yaml:"mitre_technique_id,omitempty" db:"mitre_technique_id"`
	D3FENDTechniqueID        string     `json:"d3fend_technique_id,omitempty" yaml:"d3fend_technique_id,omitempty" db:"d3fend_technique_id"`
}

// Phase is an ordered child of a playbook owning an ordered action list.
type Phase struct {
	ID                       string    `json:"id" yaml:"id" db:"id"`
	PlaybookID               string    `json:"playbook_id" yaml:"-" db:"playbook_id"`
	Name                     PhaseName `json:"name" yaml:"name" db:"name"`
	PhaseOrder               int       `json:"phase_order" yaml:"phase_order" db:"phase_order"`
	Actions                  []Action  `json:"actions" yaml:"actions" db:"-"`
	EstimatedDurationMinutes int       `json:"estimated_duration_minutes" yaml:"estimated_duration_minutes" db:"estimated_duration_minutes"`
	IsAutomated              bool      `json:"is_automated" yaml:"is_automated" db:"is_automated"`
	RequiresApproval         bool      `json:"requires_approval" yaml:"requires_approval" db:"requires_approval"`
}

// DetectionRule is a generated rule persisted alongside its playbook.
type DetectionRule struct {
	ID               string         `json:"id" yaml:"id" db:"id"`
	PlaybookID       string         `json:"playbook_id" yaml:"-" db:"playbook_id"`
	RuleType         rules.RuleType `json:"rule_type" yaml:"rule_type" db:"rule_type"`
	RuleName         string         `json:"rule_name" yaml:"rule_name" db:"rule_name"`
	RuleContent      string         `json:"rule_content" yaml:"rule_content" db:"rule_content"`
	MITRETechniqueID string         `json:"mitre_technique_id" yaml:"mitre_technique_id" db:"mitre_technique_id"`
	ConfidenceScore  float64        `json:"confidence_score" yaml:"confidence_score" db:"confidence_score"`
	IsActive         bool           `json:"is_active" yaml:"is_active" db:"is_active"`
	Tested           bool           `json:"tested" yaml:"tested" db:"tested"`
	Deployed         bool           `json:"deployed" yaml:"deployed" db:"deployed"`
}

// Playbook is the aggregate root. It owns its phases and their
// actions; detection rules reference it by id.
type Playbook struct {
	ID                   string          `json:"id" yaml:"id"`
	Name                 string          `json:"name" yaml:"name"`
	Description          string          `json:"description,omitempty" yaml:"description,omitempty"`
	Severity             Severity        `json:"severity" yaml:"severity"`
	Status               Status          `json:"status" yaml:"status"`
	Version              int             `json:"version" yaml:"version"`
	Source               string          `json:"source" yaml:"source"`
	SourceID             string          `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	Phases               []Phase         `json:"phases" yaml:"phases"`
	DetectionRules       []DetectionRule `json:"detection_rules" yaml:"detection_rules"`
	EstimatedTimeMinutes int             `json:"estimated_time_minutes" yaml:"estimated_time_minutes"`
	GenerationConfidence float64         `json:"generation_confidence" yaml:"generation_confidence"`
	RequiredRoles        []string        `json:"required_roles,omitempty" yaml:"required_roles,omitempty"`
	Tags                 []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt            time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" yaml:"updated_at"`
}
