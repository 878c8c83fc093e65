package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/threatflow/threatflow/internal/attack"
)

// ElasticRule is the structured Elastic Security detection rule. It is
// the only dialect producing a structured object; RuleContent carries
// its JSON serialization so storage remains uniform.
type ElasticRule struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	RiskScore   int             `json:"risk_score"`
	Severity    string          `json:"severity"`
	Type        string          `json:"type"`
	Index       []string        `json:"index"`
	Query       string          `json:"query"`
	Threat      []ElasticThreat `json:"threat"`
}

// ElasticThreat is the rule's MITRE ATT&CK tagging block.
type ElasticThreat struct {
	Framework string             `json:"framework"`
	Tactic    ElasticTactic      `json:"tactic"`
	Technique []ElasticTechnique `json:"technique"`
}

type ElasticTactic struct {
	Name      string `json:"name"`
	Reference string `json:"reference"`
}

type ElasticTechnique struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Reference string `json:"reference"`
}

// BuildElasticRule constructs the structured rule object for a
// technique. generateElastic serializes it for the uniform contract.
func BuildElasticRule(t attack.Technique, rctx Context) ElasticRule {
	class := classify(t)
	var query string
	index := []string{"logs-*"}

	switch class {
	case classCredentialAccess:
		query = `event.code:(4624 or 4625 or 4648) and process.name:(*mimikatz* or *procdump* or *lsass*)`
		index = []string{"winlogbeat-*", "logs-windows.*"}
	case classProcessInjection:
		query = `event.category:process and process.thread.Ext.call_stack_summary:(*VirtualAllocEx* or *WriteProcessMemory* or *CreateRemoteThread*)`
		index = []string{"logs-endpoint.events.*"}
	case classPersistence:
		query = `event.category:registry and registry.path:(*CurrentVersion\\Run* or *Winlogon\\Shell*)`
		index = []string{"logs-endpoint.events.registry-*"}
	case classCommandAndControl:
		if len(rctx.NetworkIndicators) > 0 {
			terms := make([]string, 0, len(rctx.NetworkIndicators))
			for _, ind := range rctx.NetworkIndicators {
				terms = append(terms, fmt.Sprintf("%q", ind))
			}
			query = fmt.Sprintf(`event.category:network and destination.domain:(%s)`, strings.Join(terms, " or "))
		} else {
			query = `event.category:network and not destination.port:(80 or 443)`
		}
		index = []string{"packetbeat-*", "logs-network_traffic.*"}
	default:
		query = fmt.Sprintf(`process.command_line:*%s*`, strings.ReplaceAll(t.Name, " ", "\\ "))
	}

	severity := severityForClass(class)
	risk := map[string]int{"low": 25, "medium": 50, "high": 75, "critical": 95}[severity]

	return ElasticRule{
		Name:        fmt.Sprintf("%s (%s)", t.Name, t.ID),
		Description: fmt.Sprintf("Detects activity associated with MITRE ATT&CK technique %s", t.ID),
		RiskScore:   risk,
		Severity:    severity,
		Type:        "query",
		Index:       index,
		Query:       query,
		Threat: []ElasticThreat{{
			Framework: "MITRE ATT&CK",
			Tactic: ElasticTactic{
				Name:      t.Tactic,
				Reference: "https://attack.mitre.org/tactics/",
			},
			Technique: []ElasticTechnique{{
				ID:        t.ID,
				Name:      t.Name,
				Reference: t.URL(),
			}},
		}},
	}
}

func generateElastic(t attack.Technique, rctx Context) GeneratedRule {
	rule := BuildElasticRule(t, rctx)

	body, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprintf(`{"name":%q}`, rule.Name))
	}

	return GeneratedRule{
		RuleType:         RuleTypeElastic,
		RuleName:         fmt.Sprintf("Elastic: %s (%s)", t.Name, t.ID),
		RuleContent:      string(body),
		MITRETechniqueID: t.ID,
		ConfidenceScore:  confidenceByType[RuleTypeElastic],
		Platforms:        []string{"elastic-security"},
	}
}
