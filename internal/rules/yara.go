package rules

import (
	"fmt"
	"strings"

	"github.com/threatflow/threatflow/internal/attack"
)

func generateYARA(t attack.Technique, rctx Context) GeneratedRule {
	name := fmt.Sprintf("%s_%s", ruleIdentifier(t), strings.ReplaceAll(t.ID, ".", "_"))

	var strs []string
	switch classify(t) {
	case classCredentialAccess:
		strs = []string{
			`$tool1 = "mimikatz" nocase`,
			`$tool2 = "sekurlsa::logonpasswords" nocase`,
			`$tool3 = "lsadump" nocase`,
			`$api1 = "MiniDumpWriteDump"`,
		}
	case classProcessInjection:
		strs = []string{
			`$api1 = "VirtualAllocEx"`,
			`$api2 = "WriteProcessMemory"`,
			`$api3 = "CreateRemoteThread"`,
			`$api4 = "NtMapViewOfSection"`,
		}
	case classPersistence:
		strs = []string{
			`$reg1 = "CurrentVersion\\Run" nocase`,
			`$reg2 = "CurrentVersion\\RunOnce" nocase`,
			`$reg3 = "Winlogon\\Shell" nocase`,
		}
	case classCommandAndControl:
		if len(rctx.NetworkIndicators) > 0 {
			for i, ind := range rctx.NetworkIndicators {
				if i >= 5 {
					break
				}
				strs = append(strs, fmt.Sprintf(`$c2_%d = "%s" nocase`, i+1, ind))
			}
		} else {
			strs = []string{
				`$ua1 = "Mozilla/5.0" // beacon user agents get replaced per campaign`,
				`$proto1 = "POST /" nocase`,
			}
		}
	default:
		strs = []string{fmt.Sprintf(`$name1 = "%s" nocase`, t.Name)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "rule %s\n{\n", name)
	b.WriteString("    meta:\n")
	fmt.Fprintf(&b, "        description = \"Detects artifacts associated with %s\"\n", t.Name)
	fmt.Fprintf(&b, "        mitre_technique = \"%s\"\n", t.ID)
	fmt.Fprintf(&b, "        mitre_tactic = \"%s\"\n", t.Tactic)
	b.WriteString("        author = \"ThreatFlow\"\n")
	b.WriteString("    strings:\n")
	for _, s := range strs {
		b.WriteString("        " + s + "\n")
	}
	b.WriteString("    condition:\n")
	b.WriteString("        any of them\n")
	b.WriteString("}\n")

	return GeneratedRule{
		RuleType:         RuleTypeYARA,
		RuleName:         fmt.Sprintf("YARA: %s (%s)", t.Name, t.ID),
		RuleContent:      b.String(),
		MITRETechniqueID: t.ID,
		ConfidenceScore:  confidenceByType[RuleTypeYARA],
		Platforms:        []string{"endpoint", "edr"},
	}
}
