// Package attack provides the MITRE ATT&CK technique catalog and the
// generation context extracted from an attack flow.
package attack

import (
	"fmt"
	"strings"
	"sync"
)

// Tactic short names as used in ATT&CK technique metadata.
const (
	TacticInitialAccess       = "initial-access"
	TacticExecution           = "execution"
	TacticPersistence         = "persistence"
	TacticPrivilegeEscalation = "privilege-escalation"
	TacticDefenseEvasion      = "defense-evasion"
	TacticCredentialAccess    = "credential-access"
	TacticDiscovery           = "discovery"
	TacticLateralMovement     = "lateral-movement"
	TacticCollection          = "collection"
	TacticExfiltration        = "exfiltration"
	TacticCommandAndControl   = "command-and-control"
	TacticImpact              = "impact"
)

// Technique represents a MITRE ATT&CK technique referenced by an
// attack analysis. ID follows the T####[.###] convention and is the
// join key for all downstream mappings.
type Technique struct {
	ID          string `json:"technique_id"`
	Name        string `json:"technique_name"`
	Tactic      string `json:"tactic"`
	Description string `json:"description,omitempty"`
}

// URL returns the attack.mitre.org page for the technique.
func (t Technique) URL() string {
	return fmt.Sprintf("https://attack.mitre.org/techniques/%s/", strings.ReplaceAll(t.ID, ".", "/"))
}

// Catalog holds known techniques for name/tactic resolution when the
// source analysis carries only technique ids.
type Catalog struct {
	mu         sync.RWMutex
	techniques map[string]Technique
}

// NewCatalog creates a catalog seeded with common techniques.
func NewCatalog() *Catalog {
	c := &Catalog{techniques: make(map[string]Technique)}
	c.seed()
	return c
}

// Lookup returns a technique by id.
func (c *Catalog) Lookup(id string) (Technique, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.techniques[strings.ToUpper(id)]
	return t, ok
}

// Register adds or replaces a technique.
func (c *Catalog) Register(t Technique) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.techniques[strings.ToUpper(t.ID)] = t
}

// Resolve fills in name and tactic for a technique id, falling back on
// the provided values when the catalog does not know the id.
func (c *Catalog) Resolve(id, name, tactic string) Technique {
	if known, ok := c.Lookup(id); ok {
		if name == "" {
			name = known.Name
		}
		if tactic == "" {
			tactic = known.Tactic
		}
		if name == known.Name && tactic == known.Tactic {
			return known
		}
	}
	if name == "" {
		name = id
	}
	return Technique{ID: strings.ToUpper(id), Name: name, Tactic: strings.ToLower(tactic)}
}

func (c *Catalog) seed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	seed := []Technique{
		{ID: "T1003", Name: "OS Credential Dumping", Tactic: TacticCredentialAccess},
		{ID: "T1003.001", Name: "LSASS Memory", Tactic: TacticCredentialAccess},
		{ID: "T1021", Name: "Remote Services", Tactic: TacticLateralMovement},
		{ID: "T1027", Name: "Obfuscated Files or Information", Tactic: TacticDefenseEvasion},
		{ID: "T1041", Name: "Exfiltration Over C2 Channel", Tactic: TacticExfiltration},
		{ID: "T1055", Name: "Process Injection", Tactic: TacticDefenseEvasion},
		{ID: "T1059", Name: "Command and Scripting Interpreter", Tactic: TacticExecution},
		{ID: "T1059.001", Name: "PowerShell", Tactic: TacticExecution},
		{ID: "T1059.003", Name: "Windows Command Shell", Tactic: TacticExecution},
		{ID: "T1068", Name: "Exploitation for Privilege Escalation", Tactic: TacticPrivilegeEscalation},
		{ID: "T1071", Name: "Application Layer Protocol", Tactic: TacticCommandAndControl},
		{ID: "T1078", Name: "Valid Accounts", Tactic: TacticInitialAccess},
		{ID: "T1083", Name: "File and Directory Discovery", Tactic: TacticDiscovery},
		{ID: "T1110", Name: "Brute Force", Tactic: TacticCredentialAccess},
		{ID: "T1204", Name: "User Execution", Tactic: TacticExecution},
		{ID: "T1486", Name: "Data Encrypted for Impact", Tactic: TacticImpact},
		{ID: "T1547", Name: "Boot or Logon Autostart Execution", Tactic: TacticPersistence},
		{ID: "T1547.001", Name: "Registry Run Keys / Startup Folder", Tactic: TacticPersistence},
		{ID: "T1566", Name: "Phishing", Tactic: TacticInitialAccess},
		{ID: "T1568", Name: "Dynamic Resolution", Tactic: TacticCommandAndControl},
		{ID: "T1568.002", Name: "Domain Generation Algorithms", Tactic: TacticCommandAndControl},
	}

	for _, t := range seed {
		c.techniques[t.ID] = t
	}
}
