package playbook

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// exportEnvelope is the YAML document shape for exported playbooks.
type exportEnvelope struct {
	APIVersion string    `yaml:"api_version"`
	Kind       string    `yaml:"kind"`
	ExportedAt time.Time `yaml:"exported_at"`
	Playbook   *Playbook `yaml:"playbook"`
}

const exportAPIVersion = "threatflow/v1"

// ExportYAML renders a playbook as a portable YAML document suitable
// for review or import into another instance.
func ExportYAML(pb *Playbook) ([]byte, error) {
	if pb == nil {
		return nil, fmt.Errorf("export: nil playbook")
	}
	env := exportEnvelope{
		APIVersion: exportAPIVersion,
		Kind:       "Playbook",
		ExportedAt: time.Now().UTC(),
		Playbook:   pb,
	}
	out, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("export: marshal playbook %s: %w", pb.ID, err)
	}
	return out, nil
}
