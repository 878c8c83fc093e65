package rules

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/threatflow/threatflow/internal/attack"
)

// sigmaDocument is the YAML body of a generated Sigma rule.
type sigmaDocument struct {
	Title          string         `yaml:"title"`
	ID             string         `yaml:"id"`
	Status         string         `yaml:"status"`
	Description    string         `yaml:"description"`
	References     []string       `yaml:"references"`
	Tags           []string       `yaml:"tags"`
	LogSource      sigmaLogSource `yaml:"logsource"`
	Detection      sigmaDetection `yaml:"detection"`
	FalsePositives []string       `yaml:"falsepositives"`
	Level          string         `yaml:"level"`
}

type sigmaLogSource struct {
	Category string `yaml:"category,omitempty"`
	Product  string `yaml:"product"`
	Service  string `yaml:"service,omitempty"`
}

type sigmaDetection struct {
	Selection map[string]any `yaml:"selection"`
	Condition string         `yaml:"condition"`
}

func generateSigma(t attack.Technique, rctx Context) GeneratedRule {
	doc := sigmaDocument{
		Title:          fmt.Sprintf("%s (%s)", t.Name, t.ID),
		ID:             fmt.Sprintf("threatflow-%s-sigma", strings.ToLower(t.ID)),
		Status:         "experimental",
		Description:    fmt.Sprintf("Detects activity associated with MITRE ATT&CK technique %s (%s)", t.ID, t.Name),
		References:     []string{t.URL()},
		Tags:           sigmaTags(t),
		FalsePositives: []string{"Legitimate administrative activity"},
		Level:          severityForClass(classify(t)),
		Detection:      sigmaDetection{Condition: "selection"},
	}

	switch classify(t) {
	case classCredentialAccess:
		doc.LogSource = sigmaLogSource{Product: "windows", Service: "security"}
		doc.Detection.Selection = map[string]any{
			"EventID":              []int{4624, 4625, 4648},
			"ProcessName|contains": []string{"mimikatz", "procdump", "lsass"},
		}
	case classProcessInjection:
		doc.LogSource = sigmaLogSource{Category: "process_access", Product: "windows"}
		doc.Detection.Selection = map[string]any{
			"CallTrace|contains": []string{"VirtualAllocEx", "WriteProcessMemory", "CreateRemoteThread"},
		}
	case classPersistence:
		doc.LogSource = sigmaLogSource{Category: "registry_event", Product: "windows"}
		doc.Detection.Selection = map[string]any{
			"TargetObject|contains": []string{
				`\CurrentVersion\Run`,
				`\CurrentVersion\RunOnce`,
				`\Winlogon\Shell`,
			},
		}
	case classCommandAndControl:
		doc.LogSource = sigmaLogSource{Category: "network_connection", Product: "windows"}
		selection := map[string]any{"Initiated": "true"}
		if len(rctx.NetworkIndicators) > 0 {
			selection["DestinationHostname|contains"] = rctx.NetworkIndicators
		} else {
			selection["DestinationPort"] = []int{443, 8443, 4443}
		}
		doc.Detection.Selection = selection
	default:
		doc.LogSource = sigmaLogSource{Product: "windows"}
		doc.Detection.Selection = map[string]any{
			"CommandLine|contains": t.Name,
		}
	}

	body, err := yaml.Marshal(doc)
	if err != nil {
		// yaml.Marshal of a plain struct cannot fail in practice;
		// keep the rule non-empty regardless.
		body = []byte("title: " + doc.Title + "\n")
	}

	return GeneratedRule{
		RuleType:         RuleTypeSigma,
		RuleName:         fmt.Sprintf("Sigma: %s (%s)", t.Name, t.ID),
		RuleContent:      string(body),
		MITRETechniqueID: t.ID,
		ConfidenceScore:  confidenceByType[RuleTypeSigma],
		Platforms:        []string{"siem", "splunk", "elastic"},
	}
}

func sigmaTags(t attack.Technique) []string {
	tags := []string{"attack." + strings.ToLower(t.ID)}
	if t.Tactic != "" {
		tags = append(tags, "attack."+strings.ReplaceAll(t.Tactic, "-", "_"))
	}
	return tags
}
