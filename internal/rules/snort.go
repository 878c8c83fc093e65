package rules

import (
	"fmt"
	"strings"

	"github.com/threatflow/threatflow/internal/attack"
)

func generateSnort(t attack.Technique, rctx Context) GeneratedRule {
	sid := snortSID(t.ID)
	var lines []string

	switch classify(t) {
	case classCredentialAccess:
		lines = append(lines, fmt.Sprintf(
			`alert tcp $HOME_NET any -> $HOME_NET 445 (msg:"ThreatFlow %s - possible credential dumping over SMB"; flow:established,to_server; content:"|ff|SMB"; sid:%d; rev:1;)`,
			t.ID, sid))
	case classProcessInjection:
		lines = append(lines, fmt.Sprintf(
			`alert tcp $HOME_NET any -> $EXTERNAL_NET any (msg:"ThreatFlow %s - process injection staging download"; flow:established,to_client; content:"MZ"; offset:0; depth:2; sid:%d; rev:1;)`,
			t.ID, sid))
	case classPersistence:
		lines = append(lines, fmt.Sprintf(
			`alert tcp $HOME_NET any -> $EXTERNAL_NET any (msg:"ThreatFlow %s - persistence payload retrieval"; flow:established,to_server; content:"GET"; http_method; sid:%d; rev:1;)`,
			t.ID, sid))
	case classCommandAndControl:
		if len(rctx.NetworkIndicators) > 0 {
			for i, ind := range rctx.NetworkIndicators {
				if i >= 5 {
					break
				}
				lines = append(lines, fmt.Sprintf(
					`alert tcp $HOME_NET any -> %s any (msg:"ThreatFlow %s - C2 destination contact"; flow:established,to_server; sid:%d; rev:1;)`,
					ind, t.ID, snortIndicatorSID(t.ID, ind)))
			}
		} else {
			lines = append(lines, fmt.Sprintf(
				`alert tcp $HOME_NET any -> $EXTERNAL_NET !80,!443 (msg:"ThreatFlow %s - C2 over uncommon port"; flow:established,to_server; sid:%d; rev:1;)`,
				t.ID, sid))
		}
	default:
		lines = append(lines, fmt.Sprintf(
			`alert tcp $HOME_NET any -> $EXTERNAL_NET any (msg:"ThreatFlow %s - %s activity"; flow:established; sid:%d; rev:1;)`,
			t.ID, t.Name, sid))
	}

	return GeneratedRule{
		RuleType:         RuleTypeSnort,
		RuleName:         fmt.Sprintf("Snort: %s (%s)", t.Name, t.ID),
		RuleContent:      strings.Join(lines, "\n") + "\n",
		MITRETechniqueID: t.ID,
		ConfidenceScore:  confidenceByType[RuleTypeSnort],
		Platforms:        []string{"network", "ids", "suricata"},
	}
}
