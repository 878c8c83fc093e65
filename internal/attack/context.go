package attack

import (
	"github.com/threatflow/threatflow/internal/flow"
)

// GenerationContext is the distilled view of an attack analysis used
// to drive playbook and rule generation.
type GenerationContext struct {
	Techniques        []Technique      `json:"techniques"`
	Indicators        []flow.Indicator `json:"indicators"`
	Assets            []string         `json:"assets"`
	ThreatActor       string           `json:"threat_actor,omitempty"`
	NetworkIndicators []string         `json:"network_indicators,omitempty"`
	MalwareDetected   bool             `json:"malware_detected"`
}

// HasTechniques reports whether any techniques were extracted.
func (g GenerationContext) HasTechniques() bool { return len(g.Techniques) > 0 }

// HasIndicators reports whether any IOCs were extracted.
func (g GenerationContext) HasIndicators() bool { return len(g.Indicators) > 0 }

// HasAssets reports whether any affected assets were extracted.
func (g GenerationContext) HasAssets() bool { return len(g.Assets) > 0 }

// BuildContext extracts a GenerationContext from an attack flow.
// Technique names and tactics missing from the flow are resolved
// through the catalog; duplicate technique ids are collapsed.
func BuildContext(catalog *Catalog, f *flow.AttackFlow) GenerationContext {
	gc := GenerationContext{}
	if f == nil {
		return gc
	}

	seen := make(map[string]bool)
	for _, n := range f.TechniqueNodes() {
		t := catalog.Resolve(n.TechniqueID, n.Name, n.Tactic)
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		if n.Description != "" {
			t.Description = n.Description
		}
		gc.Techniques = append(gc.Techniques, t)
	}

	gc.Indicators = f.Indicators()
	for _, ioc := range gc.Indicators {
		if ioc.IsNetwork() {
			gc.NetworkIndicators = append(gc.NetworkIndicators, ioc.Value)
		}
	}

	gc.Assets = f.Assets()
	gc.ThreatActor = f.ThreatActor
	gc.MalwareDetected = f.HasMalware()

	return gc
}
