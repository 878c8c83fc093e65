// Package compliance scores simulation results against external
// compliance frameworks and produces gap reports.
package compliance

import "strings"

// Framework identifies one of the supported compliance frameworks.
type Framework string

const (
	FrameworkNISTCSF   Framework = "nist_csf"
	FrameworkNIST80053 Framework = "nist_800_53"
	FrameworkCIS       Framework = "cis_controls"
	FrameworkPCIDSS    Framework = "pci_dss"
	FrameworkISO27001  Framework = "iso_27001"
	FrameworkHIPAA     Framework = "hipaa"
	FrameworkSOC2      Framework = "soc2"
	FrameworkGDPR      Framework = "gdpr"
)

// AllFrameworks lists every supported framework.
var AllFrameworks = []Framework{
	FrameworkNISTCSF, FrameworkNIST80053, FrameworkCIS, FrameworkPCIDSS,
	FrameworkISO27001, FrameworkHIPAA, FrameworkSOC2, FrameworkGDPR,
}

// ValidFramework reports whether f is a supported framework.
func ValidFramework(f Framework) bool {
	for _, known := range AllFrameworks {
		if known == f {
			return true
		}
	}
	return false
}

// DisplayName returns the human-readable framework name.
func (f Framework) DisplayName() string {
	switch f {
	case FrameworkNISTCSF:
		return "NIST Cybersecurity Framework"
	case FrameworkNIST80053:
		return "NIST SP 800-53"
	case FrameworkCIS:
		return "CIS Critical Security Controls"
	case FrameworkPCIDSS:
		return "PCI DSS"
	case FrameworkISO27001:
		return "ISO/IEC 27001"
	case FrameworkHIPAA:
		return "HIPAA Security Rule"
	case FrameworkSOC2:
		return "SOC 2"
	case FrameworkGDPR:
		return "GDPR"
	}
	return string(f)
}

// nistCSFFunctions are the five CSF function prefixes used to group
// controls into categories.
var nistCSFFunctions = map[string]string{
	"ID": "Identify",
	"PR": "Protect",
	"DE": "Detect",
	"RS": "Respond",
	"RC": "Recover",
}

// Categorize maps a control id onto the framework's grouping taxonomy.
// Each framework hardcodes its own scheme; unrecognized ids land in
// "General".
func (f Framework) Categorize(controlID string) string {
	id := strings.TrimSpace(controlID)
	if id == "" {
		return "General"
	}

	switch f {
	case FrameworkNISTCSF:
		// e.g. "PR.AC-1" groups under Protect
		if i := strings.IndexAny(id, ".-"); i > 0 {
			if fn, ok := nistCSFFunctions[strings.ToUpper(id[:i])]; ok {
				return fn
			}
		}
	case FrameworkNIST80053:
		// e.g. "AC-2" groups by two-letter family
		if i := strings.Index(id, "-"); i > 0 {
			return strings.ToUpper(id[:i])
		}
	case FrameworkCIS, FrameworkPCIDSS:
		// e.g. CIS "8.2" / PCI "10.6.1" group by top-level number
		if i := strings.Index(id, "."); i > 0 {
			return "Control " + id[:i]
		}
		return "Control " + id
	case FrameworkISO27001:
		// e.g. "A.12.4.1" groups under "A.12"
		parts := strings.Split(id, ".")
		if len(parts) >= 2 {
			return parts[0] + "." + parts[1]
		}
	case FrameworkHIPAA:
		// e.g. "164.312(b)" groups by section number
		if i := strings.IndexAny(id, "("); i > 0 {
			return "§" + id[:i]
		}
		return "§" + id
	case FrameworkSOC2:
		// e.g. "CC6.1" groups by trust-services series
		letters := id
		for i, r := range id {
			if r >= '0' && r <= '9' {
				letters = id[:i]
				break
			}
		}
		if letters != "" {
			return strings.ToUpper(letters)
		}
	case FrameworkGDPR:
		// e.g. "Art. 32(1)" groups by article
		if i := strings.Index(id, "("); i > 0 {
			return strings.TrimSpace(id[:i])
		}
		return id
	}
	return "General"
}

// frameworkRecommendation is the fixed closing recommendation emitted
// per framework when room remains in the list.
var frameworkRecommendation = map[Framework]string{
	FrameworkNISTCSF:   "Align detection and response capabilities with the NIST CSF Detect and Respond functions.",
	FrameworkNIST80053: "Review NIST SP 800-53 SI and IR control families for continuous-monitoring improvements.",
	FrameworkCIS:       "Prioritize CIS Implementation Group 1 safeguards before expanding to IG2 and IG3.",
	FrameworkPCIDSS:    "Schedule a PCI DSS gap assessment focused on Requirement 10 logging and monitoring.",
	FrameworkISO27001:  "Feed identified gaps into the ISO 27001 risk treatment plan and Annex A control review.",
	FrameworkHIPAA:     "Update the HIPAA security risk analysis to reflect the identified technical safeguard gaps.",
	FrameworkSOC2:      "Document remediation of identified gaps as evidence for the next SOC 2 audit period.",
	FrameworkGDPR:      "Reassess Article 32 technical measures and update the record of processing activities.",
}
