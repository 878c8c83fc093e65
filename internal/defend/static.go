package defend

import (
	"context"
	"strings"
)

// StaticLookup is an in-memory ATT&CK→D3FEND mapping table seeded with
// common relationships. Sub-technique ids fall back to their parent
// technique's mappings.
type StaticLookup struct {
	mappings map[string][]Mapping
}

// NewStaticLookup creates a lookup seeded with the built-in table.
func NewStaticLookup() *StaticLookup {
	return &StaticLookup{mappings: builtinMappings()}
}

// MappingsFor returns the mappings for a technique id. Unknown ids
// yield an empty slice, not an error.
func (s *StaticLookup) MappingsFor(_ context.Context, techniqueID string) ([]Mapping, error) {
	id := strings.ToUpper(techniqueID)
	if m, ok := s.mappings[id]; ok {
		return append([]Mapping(nil), m...), nil
	}
	// T1003.001 falls back to T1003.
	if i := strings.Index(id, "."); i > 0 {
		if m, ok := s.mappings[id[:i]]; ok {
			return append([]Mapping(nil), m...), nil
		}
	}
	return nil, nil
}

func builtinMappings() map[string][]Mapping {
	return map[string][]Mapping{
		"T1003": {
			{D3FENDID: "D3-CH", D3FENDName: "Credential Hardening", Category: CategoryCredentialAccess, EffectivenessScore: 0.9},
			{D3FENDID: "D3-ANCI", D3FENDName: "Authentication Cache Invalidation", Category: CategoryCredentialAccess, EffectivenessScore: 0.8},
			{D3FENDID: "D3-PSA", D3FENDName: "Process Spawn Analysis", Category: CategoryProcessTermination, EffectivenessScore: 0.6},
		},
		"T1055": {
			{D3FENDID: "D3-PSMD", D3FENDName: "Process Self-Modification Detection", Category: CategoryProcessTermination, EffectivenessScore: 0.85},
			{D3FENDID: "D3-SCA", D3FENDName: "System Call Analysis", Category: CategoryProcessTermination, EffectivenessScore: 0.75},
		},
		"T1059": {
			{D3FENDID: "D3-SBV", D3FENDName: "Script Execution Analysis", Category: CategoryProcessTermination, EffectivenessScore: 0.8},
			{D3FENDID: "D3-EAL", D3FENDName: "Executable Allowlisting", Category: CategoryGeneral, EffectivenessScore: 0.7,
				Notes: "Deploy application control in audit mode first to build the baseline"},
		},
		"T1071": {
			{D3FENDID: "D3-NTA", D3FENDName: "Network Traffic Analysis", Category: CategoryNetworkIsolation, EffectivenessScore: 0.85},
			{D3FENDID: "D3-OTF", D3FENDName: "Outbound Traffic Filtering", Category: CategoryNetworkIsolation, EffectivenessScore: 0.8},
			{D3FENDID: "D3-DNSDL", D3FENDName: "DNS Denylisting", Category: CategoryNetworkIsolation, EffectivenessScore: 0.7},
			{D3FENDID: "D3-ET", D3FENDName: "Encrypted Tunnels", Category: CategoryGeneral, EffectivenessScore: 0.4},
		},
		"T1110": {
			{D3FENDID: "D3-AL", D3FENDName: "Account Locking", Category: CategoryCredentialAccess, EffectivenessScore: 0.9},
			{D3FENDID: "D3-MFA", D3FENDName: "Multi-factor Authentication", Category: CategoryCredentialAccess, EffectivenessScore: 0.95},
		},
		"T1547": {
			{D3FENDID: "D3-BA", D3FENDName: "Bootloader Authentication", Category: CategoryGeneral, EffectivenessScore: 0.6},
			{D3FENDID: "D3-SICA", D3FENDName: "System Init Config Analysis", Category: CategoryGeneral, EffectivenessScore: 0.8},
		},
		"T1566": {
			{D3FENDID: "D3-SRA", D3FENDName: "Sender Reputation Analysis", Category: CategoryGeneral, EffectivenessScore: 0.75},
			{D3FENDID: "D3-UA", D3FENDName: "URL Analysis", Category: CategoryNetworkIsolation, EffectivenessScore: 0.8},
		},
	}
}
