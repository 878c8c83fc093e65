// Package flow defines the structured attack analysis consumed by the
// playbook generator: a graph of technique, malware, asset and
// indicator nodes produced by upstream attack-flow analysis.
package flow

import (
	"strings"
	"time"
)

// NodeType classifies a flow node.
type NodeType string

const (
	NodeTypeAction         NodeType = "action"
	NodeTypeMalware        NodeType = "malware"
	NodeTypeInfrastructure NodeType = "infrastructure"
	NodeTypeAsset          NodeType = "asset"
	NodeTypeIndicator      NodeType = "indicator"
)

// IndicatorType represents indicator of compromise types.
type IndicatorType string

const (
	IndicatorTypeIP       IndicatorType = "ip"
	IndicatorTypeDomain   IndicatorType = "domain"
	IndicatorTypeURL      IndicatorType = "url"
	IndicatorTypeHash     IndicatorType = "hash"
	IndicatorTypeEmail    IndicatorType = "email"
	IndicatorTypeRegistry IndicatorType = "registry"
	IndicatorTypeFilename IndicatorType = "filename"
)

// Indicator is a single IOC extracted from the analysis.
type Indicator struct {
	Type  IndicatorType `json:"type"`
	Value string        `json:"value"`
}

// IsNetwork reports whether the indicator describes network
// infrastructure (usable as a C2 destination in detection rules).
func (i Indicator) IsNetwork() bool {
	switch i.Type {
	case IndicatorTypeIP, IndicatorTypeDomain, IndicatorTypeURL:
		return true
	}
	return false
}

// Node is a single element of an attack flow.
type Node struct {
	ID          string            `json:"id" yaml:"id"`
	Type        NodeType          `json:"type" yaml:"type"`
	Name        string            `json:"name" yaml:"name"`
	TechniqueID string            `json:"technique_id,omitempty" yaml:"technique_id,omitempty"`
	Tactic      string            `json:"tactic,omitempty" yaml:"tactic,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// AttackFlow is a structured attack analysis: the ordered set of
// observed adversary behaviors plus the indicators and assets they
// touched.
type AttackFlow struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	ThreatActor string    `json:"threat_actor,omitempty" yaml:"threat_actor,omitempty"`
	Nodes       []Node    `json:"nodes" yaml:"nodes"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// TechniqueNodes returns the action nodes carrying a MITRE technique id.
func (f *AttackFlow) TechniqueNodes() []Node {
	var out []Node
	for _, n := range f.Nodes {
		if n.Type == NodeTypeAction && n.TechniqueID != "" {
			out = append(out, n)
		}
	}
	return out
}

// Indicators returns IOCs from indicator nodes. The node's
// "indicator_type" property selects the type; values that do not match
// a known type fall back on a crude shape check.
func (f *AttackFlow) Indicators() []Indicator {
	var out []Indicator
	for _, n := range f.Nodes {
		if n.Type != NodeTypeIndicator || n.Name == "" {
			continue
		}
		out = append(out, Indicator{
			Type:  classifyIndicator(n.Properties["indicator_type"], n.Name),
			Value: n.Name,
		})
	}
	return out
}

// Assets returns the names of affected-asset nodes.
func (f *AttackFlow) Assets() []string {
	var out []string
	for _, n := range f.Nodes {
		if n.Type == NodeTypeAsset && n.Name != "" {
			out = append(out, n.Name)
		}
	}
	return out
}

// HasMalware reports whether the flow contains malware nodes.
func (f *AttackFlow) HasMalware() bool {
	for _, n := range f.Nodes {
		if n.Type == NodeTypeMalware {
			return true
		}
	}
	return false
}

func classifyIndicator(declared, value string) IndicatorType {
	switch IndicatorType(strings.ToLower(declared)) {
	case IndicatorTypeIP, IndicatorTypeDomain, IndicatorTypeURL,
		IndicatorTypeHash, IndicatorTypeEmail, IndicatorTypeRegistry,
		IndicatorTypeFilename:
		return IndicatorType(strings.ToLower(declared))
	}

	switch {
	case strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://"):
		return IndicatorTypeURL
	case strings.Contains(value, "@"):
		return IndicatorTypeEmail
	case strings.HasPrefix(strings.ToUpper(value), "HKEY_") || strings.HasPrefix(strings.ToUpper(value), "HKLM"):
		return IndicatorTypeRegistry
	case looksLikeIP(value):
		return IndicatorTypeIP
	case looksLikeHash(value):
		return IndicatorTypeHash
	case strings.Contains(value, "."):
		return IndicatorTypeDomain
	default:
		return IndicatorTypeFilename
	}
}

func looksLikeIP(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

func looksLikeHash(s string) bool {
	switch len(s) {
	case 32, 40, 64:
	default:
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
