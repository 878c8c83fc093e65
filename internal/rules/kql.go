package rules

import (
	"fmt"
	"strings"

	"github.com/threatflow/threatflow/internal/attack"
)

func generateKQL(t attack.Technique, rctx Context) GeneratedRule {
	var query string

	switch classify(t) {
	case classCredentialAccess:
		query = `SecurityEvent
| where EventID in (4624, 4625, 4648)
| where Process has_any ("mimikatz", "procdump", "lsass")
| project TimeGenerated, Computer, Account, Process, LogonType`
	case classProcessInjection:
		query = `DeviceEvents
| where ActionType == "CreateRemoteThreadApiCall" or ActionType == "WriteToProcessMemoryApiCall"
| project Timestamp, DeviceName, InitiatingProcessFileName, FileName, ActionType`
	case classPersistence:
		query = `DeviceRegistryEvents
| where RegistryKey has_any (@"\CurrentVersion\Run", @"\CurrentVersion\RunOnce", @"\Winlogon\Shell")
| project Timestamp, DeviceName, InitiatingProcessFileName, RegistryKey, RegistryValueData`
	case classCommandAndControl:
		if len(rctx.NetworkIndicators) > 0 {
			quoted := make([]string, 0, len(rctx.NetworkIndicators))
			for _, ind := range rctx.NetworkIndicators {
				quoted = append(quoted, fmt.Sprintf("%q", ind))
			}
			query = fmt.Sprintf(`DeviceNetworkEvents
| where RemoteUrl has_any (%s) or RemoteIP in (%s)
| project Timestamp, DeviceName, InitiatingProcessFileName, RemoteUrl, RemoteIP, RemotePort`,
				strings.Join(quoted, ", "), strings.Join(quoted, ", "))
		} else {
			query = `DeviceNetworkEvents
| where RemotePort !in (80, 443)
| summarize ConnectionCount = count() by DeviceName, RemoteIP, RemotePort
| where ConnectionCount > 50`
		}
	default:
		query = fmt.Sprintf(`DeviceProcessEvents
| where ProcessCommandLine contains %q
| project Timestamp, DeviceName, AccountName, FileName, ProcessCommandLine`, t.Name)
	}

	query += fmt.Sprintf("\n| extend MitreTechnique = %q", t.ID)

	return GeneratedRule{
		RuleType:         RuleTypeKQL,
		RuleName:         fmt.Sprintf("KQL: %s (%s)", t.Name, t.ID),
		RuleContent:      query,
		MITRETechniqueID: t.ID,
		ConfidenceScore:  confidenceByType[RuleTypeKQL],
		Platforms:        []string{"microsoft-sentinel", "defender"},
	}
}
