// Package rules generates machine-readable detection rules from MITRE
// ATT&CK techniques across six query dialects.
package rules

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/threatflow/threatflow/internal/attack"
)

// ErrUnknownRuleType is returned for rule types outside the closed set.
var ErrUnknownRuleType = errors.New("unknown rule type")

// RuleType identifies a detection rule dialect.
type RuleType string

const (
	RuleTypeSigma   RuleType = "sigma"
	RuleTypeYARA    RuleType = "yara"
	RuleTypeSnort   RuleType = "snort"
	RuleTypeSPL     RuleType = "spl"
	RuleTypeKQL     RuleType = "kql"
	RuleTypeElastic RuleType = "elastic"
)

// AllRuleTypes lists every supported dialect in a fixed order.
var AllRuleTypes = []RuleType{
	RuleTypeSigma, RuleTypeYARA, RuleTypeSnort,
	RuleTypeSPL, RuleTypeKQL, RuleTypeElastic,
}

// Fixed confidence per dialect, reflecting the relative precision of
// each rule language's detection logic.
var confidenceByType = map[RuleType]float64{
	RuleTypeSigma:   0.80,
	RuleTypeYARA:    0.75,
	RuleTypeSnort:   0.65,
	RuleTypeSPL:     0.70,
	RuleTypeKQL:     0.85,
	RuleTypeElastic: 0.80,
}

// GeneratedRule is the uniform output of every generator. RuleContent
// is opaque text; for the Elastic dialect it is the serialized JSON of
// a structured query object.
type GeneratedRule struct {
	RuleType         RuleType `json:"rule_type"`
	RuleName         string   `json:"rule_name"`
	RuleContent      string   `json:"rule_content"`
	MITRETechniqueID string   `json:"mitre_technique_id"`
	ConfidenceScore  float64  `json:"confidence_score"`
	Platforms        []string `json:"platforms"`
}

// Context carries the analysis-level inputs generators may key off,
// most notably network indicators for C2 detection content.
type Context struct {
	NetworkIndicators []string
	MalwareDetected   bool
}

// techniqueClass partitions techniques into the shared detection
// branches every generator implements.
type techniqueClass int

const (
	classGeneric           techniqueClass = iota
	classCredentialAccess                 // T1003 family
	classProcessInjection                 // T1055 family
	classPersistence                      // T1547 family or persistence tactic
	classCommandAndControl                // T1071 family
)

func classify(t attack.Technique) techniqueClass {
	switch {
	case strings.HasPrefix(t.ID, "T1003"):
		return classCredentialAccess
	case strings.HasPrefix(t.ID, "T1055"):
		return classProcessInjection
	case strings.HasPrefix(t.ID, "T1547"), t.Tactic == attack.TacticPersistence:
		return classPersistence
	case strings.HasPrefix(t.ID, "T1071"):
		return classCommandAndControl
	default:
		return classGeneric
	}
}

// YARAApplicable reports whether a technique's tactic is
// malware-associated, i.e. whether the caller should request a YARA
// rule in addition to Sigma. The decision belongs to the caller, not
// the generator.
func YARAApplicable(t attack.Technique) bool {
	switch t.Tactic {
	case attack.TacticExecution, attack.TacticPersistence, attack.TacticDefenseEvasion:
		return true
	}
	return false
}

// Generate dispatches to the generator for the requested dialect.
// Generation never fails for a well-formed technique: unknown
// techniques fall through to each generator's generic branch. Only an
// unknown rule type is an error.
func Generate(rt RuleType, t attack.Technique, rctx Context) (GeneratedRule, error) {
	switch rt {
	case RuleTypeSigma:
		return generateSigma(t, rctx), nil
	case RuleTypeYARA:
		return generateYARA(t, rctx), nil
	case RuleTypeSnort:
		return generateSnort(t, rctx), nil
	case RuleTypeSPL:
		return generateSPL(t, rctx), nil
	case RuleTypeKQL:
		return generateKQL(t, rctx), nil
	case RuleTypeElastic:
		return generateElastic(t, rctx), nil
	default:
		return GeneratedRule{}, fmt.Errorf("%w: %s", ErrUnknownRuleType, rt)
	}
}

// ruleIdentifier builds a deterministic identifier safe for use in
// rule names across dialects: technique name with non-alphanumerics
// collapsed to underscores.
func ruleIdentifier(t attack.Technique) string {
	var b strings.Builder
	lastUnderscore := true
	for _, c := range t.Name {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteRune(c)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// snortSID derives a stable 6-digit signature id from the technique id.
func snortSID(techniqueID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(techniqueID))
	return 100000 + h.Sum32()%900000
}

// snortIndicatorSID folds the indicator into the hash so per-indicator
// rules keep their own stable sid inside the 6-digit range.
func snortIndicatorSID(techniqueID, indicator string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(techniqueID))
	h.Write([]byte{0})
	h.Write([]byte(indicator))
	return 100000 + h.Sum32()%900000
}

func severityForClass(c techniqueClass) string {
	switch c {
	case classCredentialAccess, classProcessInjection:
		return "high"
	case classPersistence, classCommandAndControl:
		return "medium"
	default:
		return "medium"
	}
}
