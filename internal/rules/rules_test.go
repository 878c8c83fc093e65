package rules

import (
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/threatflow/threatflow/internal/attack"
)

func technique(id, name, tactic string) attack.Technique {
	return attack.Technique{ID: id, Name: name, Tactic: tactic}
}

// TestGenerate_AllTypesContainTechniqueID verifies every dialect embeds
// the technique id and produces non-empty content for any technique.
func TestGenerate_AllTypesContainTechniqueID(t *testing.T) {
	techniques := []attack.Technique{
		technique("T1003", "OS Credential Dumping", attack.TacticCredentialAccess),
		technique("T1055", "Process Injection", attack.TacticDefenseEvasion),
		technique("T1547.001", "Registry Run Keys / Startup Folder", attack.TacticPersistence),
		technique("T1071", "Application Layer Protocol", attack.TacticCommandAndControl),
		technique("T9999", "Completely Unknown Technique", "discovery"),
	}

	for _, tech := range techniques {
		for _, rt := range AllRuleTypes {
			rule, err := Generate(rt, tech, Context{})
			if err != nil {
				t.Fatalf("Generate(%s, %s) returned error: %v", rt, tech.ID, err)
			}
			if rule.RuleContent == "" {
				t.Errorf("Generate(%s, %s) produced empty content", rt, tech.ID)
			}
			if !strings.Contains(rule.RuleContent, tech.ID) && !strings.Contains(rule.RuleName, tech.ID) {
				t.Errorf("Generate(%s, %s) output does not reference technique id", rt, tech.ID)
			}
			if rule.MITRETechniqueID != tech.ID {
				t.Errorf("Generate(%s, %s) MITRETechniqueID = %q", rt, tech.ID, rule.MITRETechniqueID)
			}
		}
	}
}

func TestGenerate_UnknownRuleType(t *testing.T) {
	_, err := Generate(RuleType("prolog"), technique("T1059", "Command and Scripting Interpreter", attack.TacticExecution), Context{})
	if err == nil {
		t.Fatal("expected error for unknown rule type")
	}
}

func TestGenerate_ConfidenceWithinBounds(t *testing.T) {
	tech := technique("T1110", "Brute Force", attack.TacticCredentialAccess)
	for _, rt := range AllRuleTypes {
		rule, err := Generate(rt, tech, Context{})
		if err != nil {
			t.Fatalf("Generate(%s): %v", rt, err)
		}
		if rule.ConfidenceScore < 0.65 || rule.ConfidenceScore > 0.85 {
			t.Errorf("%s confidence %.2f outside [0.65, 0.85]", rt, rule.ConfidenceScore)
		}
	}
}

func TestGenerateSigma_CredentialAccessBranch(t *testing.T) {
	rule, err := Generate(RuleTypeSigma, technique("T1003", "OS Credential Dumping", attack.TacticCredentialAccess), Context{})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"title:", "logsource:", "detection:", "condition:", "level:", "mimikatz"} {
		if !strings.Contains(rule.RuleContent, want) {
			t.Errorf("sigma rule missing %q:\n%s", want, rule.RuleContent)
		}
	}
}

func TestGenerateYARA_Format(t *testing.T) {
	rule, err := Generate(RuleTypeYARA, technique("T1055", "Process Injection", attack.TacticDefenseEvasion), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rule.RuleContent, "rule Process_Injection_T1055") {
		t.Errorf("yara rule name malformed:\n%s", rule.RuleContent)
	}
	for _, want := range []string{"meta:", "strings:", "condition:", "WriteProcessMemory"} {
		if !strings.Contains(rule.RuleContent, want) {
			t.Errorf("yara rule missing %q", want)
		}
	}
}

func TestGenerateSnort_SixDigitSID(t *testing.T) {
	rule, err := Generate(RuleTypeSnort, technique("T1071", "Application Layer Protocol", attack.TacticCommandAndControl), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rule.RuleContent, "sid:") {
		t.Fatalf("snort rule missing sid:\n%s", rule.RuleContent)
	}
	sid := snortSID("T1071")
	if sid < 100000 || sid > 999999 {
		t.Errorf("sid %d is not 6 digits", sid)
	}
	// Stable across invocations.
	if snortSID("T1071") != sid {
		t.Error("snortSID is not deterministic")
	}
}

func TestGenerateSnort_C2UsesNetworkIndicators(t *testing.T) {
	rctx := Context{NetworkIndicators: []string{"203.0.113.10", "evil.example.com"}}
	rule, err := Generate(RuleTypeSnort, technique("T1071", "Application Layer Protocol", attack.TacticCommandAndControl), rctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rule.RuleContent, "203.0.113.10") {
		t.Errorf("snort C2 rule should target network indicators:\n%s", rule.RuleContent)
	}
}

// Per-indicator sids must stay inside the 6-digit range and must not
// fall into another technique's consecutive sid block.
func TestGenerateSnort_PerIndicatorSIDsStayInRange(t *testing.T) {
	rctx := Context{NetworkIndicators: []string{
		"203.0.113.10", "203.0.113.11", "evil.example.com", "c2.example.net", "198.51.100.7",
	}}
	rule, err := Generate(RuleTypeSnort, technique("T1071", "Application Layer Protocol", attack.TacticCommandAndControl), rctx)
	if err != nil {
		t.Fatal(err)
	}

	seen := map[uint32]bool{}
	for _, ind := range rctx.NetworkIndicators {
		sid := snortIndicatorSID("T1071", ind)
		if sid < 100000 || sid > 999999 {
			t.Errorf("indicator %s: sid %d is not 6 digits", ind, sid)
		}
		if seen[sid] {
			t.Errorf("indicator %s: sid %d collides within the rule", ind, sid)
		}
		seen[sid] = true
		if !strings.Contains(rule.RuleContent, "sid:"+strconv.Itoa(int(sid))) {
			t.Errorf("rule content missing sid %d for indicator %s", sid, ind)
		}
	}
	// Stable across invocations.
	if snortIndicatorSID("T1071", "evil.example.com") != snortIndicatorSID("T1071", "evil.example.com") {
		t.Error("snortIndicatorSID is not deterministic")
	}
}

func TestGenerateElastic_StructuredOutput(t *testing.T) {
	tech := technique("T1547", "Boot or Logon Autostart Execution", attack.TacticPersistence)
	rule, err := Generate(RuleTypeElastic, tech, Context{})
	if err != nil {
		t.Fatal(err)
	}

	var parsed ElasticRule
	if err := json.Unmarshal([]byte(rule.RuleContent), &parsed); err != nil {
		t.Fatalf("elastic rule content is not valid JSON: %v", err)
	}
	if parsed.RiskScore == 0 || parsed.Severity == "" || parsed.Query == "" {
		t.Errorf("elastic rule missing required fields: %+v", parsed)
	}
	if len(parsed.Threat) != 1 || len(parsed.Threat[0].Technique) != 1 {
		t.Fatalf("elastic rule threat block malformed: %+v", parsed.Threat)
	}
	if parsed.Threat[0].Technique[0].ID != "T1547" {
		t.Errorf("threat technique id = %q, want T1547", parsed.Threat[0].Technique[0].ID)
	}
}

func TestYARAApplicable(t *testing.T) {
	tests := []struct {
		tactic string
		want   bool
	}{
		{attack.TacticExecution, true},
		{attack.TacticPersistence, true},
		{attack.TacticDefenseEvasion, true},
		{attack.TacticCredentialAccess, false},
		{attack.TacticCommandAndControl, false},
		{attack.TacticDiscovery, false},
	}
	for _, tt := range tests {
		got := YARAApplicable(attack.Technique{ID: "T0000", Name: "x", Tactic: tt.tactic})
		if got != tt.want {
			t.Errorf("YARAApplicable(%s) = %v, want %v", tt.tactic, got, tt.want)
		}
	}
}

func TestGenerateSPL_PipeChained(t *testing.T) {
	rule, err := Generate(RuleTypeSPL, technique("T1003", "OS Credential Dumping", attack.TacticCredentialAccess), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rule.RuleContent, "| stats") {
		t.Errorf("SPL rule should be pipe-chained:\n%s", rule.RuleContent)
	}
}

func TestGenerateKQL_TableProjection(t *testing.T) {
	rule, err := Generate(RuleTypeKQL, technique("T1003", "OS Credential Dumping", attack.TacticCredentialAccess), Context{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(rule.RuleContent, "SecurityEvent") {
		t.Errorf("KQL rule should start with a table name:\n%s", rule.RuleContent)
	}
	if !strings.Contains(rule.RuleContent, "| project") {
		t.Errorf("KQL rule should project columns:\n%s", rule.RuleContent)
	}
}
