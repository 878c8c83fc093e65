// Package defend maps MITRE ATT&CK techniques to ranked D3FEND
// defensive countermeasures with concrete implementation steps.
package defend

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/attack"
)

// Category groups countermeasures by the kind of response they drive.
type Category string

const (
	CategoryNetworkIsolation   Category = "network_isolation"
	CategoryProcessTermination Category = "process_termination"
	CategoryCredentialAccess   Category = "credential_hardening"
	CategoryGeneral            Category = "general"
)

// Mapping is a single ATT&CK→D3FEND relationship as returned by the
// lookup collaborator.
type Mapping struct {
	D3FENDID           string   `json:"d3fend_id"`
	D3FENDName         string   `json:"d3fend_name"`
	Category           Category `json:"category"`
	EffectivenessScore float64  `json:"effectiveness_score"`
	Notes              string   `json:"notes,omitempty"`
}

// Lookup resolves the defensive mappings for one ATT&CK technique.
type Lookup interface {
	MappingsFor(ctx context.Context, techniqueID string) ([]Mapping, error)
}

// DefensiveAction is a countermeasure expanded into actionable steps.
type DefensiveAction struct {
	MITRETechniqueID    string   `json:"mitre_technique_id"`
	D3FENDTechniqueID   string   `json:"d3fend_technique_id"`
	Name                string   `json:"name"`
	Category            Category `json:"category"`
	EffectivenessScore  float64  `json:"effectiveness_score"`
	ImplementationSteps []string `json:"implementation_steps"`
	EstimatedEffort     string   `json:"estimated_effort"`
	EstimatedCost       string   `json:"estimated_cost"`
}

// maxMappingsPerTechnique caps the countermeasures expanded per technique.
const maxMappingsPerTechnique = 3

// Mapper expands techniques into defensive actions.
type Mapper struct {
	lookup Lookup
	logger *zap.Logger
}

// NewMapper creates a mapper backed by the given lookup.
func NewMapper(lookup Lookup, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{lookup: lookup, logger: logger}
}

// MapTechniques returns defensive actions for the given techniques,
// up to three per technique ranked by effectiveness. A lookup failure
// for one technique is logged and skipped; it never aborts the whole
// mapping operation.
func (m *Mapper) MapTechniques(ctx context.Context, techniques []attack.Technique) []DefensiveAction {
	actions := make([]DefensiveAction, 0, len(techniques))

	for _, t := range techniques {
		mappings, err := m.lookup.MappingsFor(ctx, t.ID)
		if err != nil {
			m.logger.Warn("D3FEND lookup failed, skipping technique",
				zap.String("technique_id", t.ID),
				zap.Error(err),
			)
			continue
		}

		sort.SliceStable(mappings, func(i, j int) bool {
			return mappings[i].EffectivenessScore > mappings[j].EffectivenessScore
		})
		if len(mappings) > maxMappingsPerTechnique {
			mappings = mappings[:maxMappingsPerTechnique]
		}

		for _, mp := range mappings {
			actions = append(actions, DefensiveAction{
				MITRETechniqueID:    t.ID,
				D3FENDTechniqueID:   mp.D3FENDID,
				Name:                mp.D3FENDName,
				Category:            mp.Category,
				EffectivenessScore:  mp.EffectivenessScore,
				ImplementationSteps: implementationSteps(mp),
				EstimatedEffort:     effortForCategory(mp.Category),
				EstimatedCost:       costForCategory(mp.Category),
			})
		}
	}

	return actions
}

// implementationSteps combines mapping-provided notes with the fixed
// category step templates.
func implementationSteps(mp Mapping) []string {
	var steps []string
	if notes := strings.TrimSpace(mp.Notes); notes != "" {
		steps = append(steps, notes)
	}

	switch mp.Category {
	case CategoryNetworkIsolation:
		steps = append(steps,
			"Identify network segments reachable from the affected hosts",
			"Apply deny rules at the segment boundary for the flagged destinations",
			"Verify isolation with a connectivity probe from an affected host",
		)
	case CategoryProcessTermination:
		steps = append(steps,
			"Enumerate running processes matching the flagged behavior",
			"Terminate the matching processes via the EDR response API",
			"Confirm no respawn within a 15 minute observation window",
		)
	case CategoryCredentialAccess:
		steps = append(steps,
			"Force credential rotation for accounts observed on affected hosts",
			"Enable LSASS protection (RunAsPPL) on affected Windows hosts",
			"Review privileged group membership for unauthorized additions",
		)
	default:
		steps = append(steps,
			"Review the countermeasure's D3FEND reference for deployment guidance",
			"Pilot the control on a representative subset of assets",
			"Roll out organization-wide and add to the hardening baseline",
		)
	}

	return steps
}

func effortForCategory(c Category) string {
	switch c {
	case CategoryNetworkIsolation, CategoryProcessTermination:
		return "hours"
	case CategoryCredentialAccess:
		return "days"
	default:
		return "weeks"
	}
}

func costForCategory(c Category) string {
	switch c {
	case CategoryNetworkIsolation, CategoryProcessTermination:
		return "low"
	case CategoryCredentialAccess:
		return "medium"
	default:
		return "medium"
	}
}
