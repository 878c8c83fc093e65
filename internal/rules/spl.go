package rules

import (
	"fmt"
	"strings"

	"github.com/threatflow/threatflow/internal/attack"
)

func generateSPL(t attack.Technique, rctx Context) GeneratedRule {
	var search string

	switch classify(t) {
	case classCredentialAccess:
		search = `index=windows sourcetype=WinEventLog:Security (EventCode=4624 OR EventCode=4625 OR EventCode=4648)` +
			` | search Process_Name IN ("*mimikatz*", "*procdump*", "*lsass*")` +
			` | stats count by host, user, Process_Name` +
			` | where count > 0`
	case classProcessInjection:
		search = `index=sysmon sourcetype=XmlWinEventLog:Microsoft-Windows-Sysmon/Operational EventCode=10` +
			` | search CallTrace IN ("*VirtualAllocEx*", "*WriteProcessMemory*", "*CreateRemoteThread*")` +
			` | stats count by host, SourceImage, TargetImage`
	case classPersistence:
		search = `index=sysmon sourcetype=XmlWinEventLog:Microsoft-Windows-Sysmon/Operational (EventCode=12 OR EventCode=13)` +
			` | search TargetObject IN ("*\\CurrentVersion\\Run*", "*\\Winlogon\\Shell*")` +
			` | stats count by host, Image, TargetObject`
	case classCommandAndControl:
		if len(rctx.NetworkIndicators) > 0 {
			quoted := make([]string, 0, len(rctx.NetworkIndicators))
			for _, ind := range rctx.NetworkIndicators {
				quoted = append(quoted, fmt.Sprintf("%q", ind))
			}
			search = `index=network sourcetype=firewall` +
				fmt.Sprintf(` | search dest IN (%s)`, strings.Join(quoted, ", ")) +
				` | stats count by src, dest, dest_port`
		} else {
			search = `index=network sourcetype=firewall action=allowed` +
				` | stats count dc(dest_port) as port_count by src, dest` +
				` | where port_count > 10`
		}
	default:
		search = fmt.Sprintf(`index=* %q | stats count by host, source`, t.Name)
	}

	return GeneratedRule{
		RuleType:         RuleTypeSPL,
		RuleName:         fmt.Sprintf("SPL: %s (%s)", t.Name, t.ID),
		RuleContent:      search + fmt.Sprintf(" | eval mitre_technique=%q", t.ID),
		MITRETechniqueID: t.ID,
		ConfidenceScore:  confidenceByType[RuleTypeSPL],
		Platforms:        []string{"splunk"},
	}
}
