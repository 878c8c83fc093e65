package defend

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/attack"
)

type fakeLookup struct {
	mappings map[string][]Mapping
	errFor   map[string]error
}

func (f *fakeLookup) MappingsFor(_ context.Context, id string) ([]Mapping, error) {
	if err, ok := f.errFor[id]; ok {
		return nil, err
	}
	return f.mappings[id], nil
}

func TestMapTechniques_RanksAndCaps(t *testing.T) {
	lookup := &fakeLookup{mappings: map[string][]Mapping{
		"T1071": {
			{D3FENDID: "D3-A", EffectivenessScore: 0.5},
			{D3FENDID: "D3-B", EffectivenessScore: 0.9},
			{D3FENDID: "D3-C", EffectivenessScore: 0.7},
			{D3FENDID: "D3-D", EffectivenessScore: 0.8},
		},
	}}
	m := NewMapper(lookup, zap.NewNop())

	actions := m.MapTechniques(context.Background(), []attack.Technique{
		{ID: "T1071", Name: "Application Layer Protocol", Tactic: attack.TacticCommandAndControl},
	})

	if len(actions) != 3 {
		t.Fatalf("expected 3 actions (capped), got %d", len(actions))
	}
	want := []string{"D3-B", "D3-D", "D3-C"}
	for i, a := range actions {
		if a.D3FENDTechniqueID != want[i] {
			t.Errorf("action %d = %s, want %s (effectiveness descending)", i, a.D3FENDTechniqueID, want[i])
		}
	}
}

// A nil logger must fall back to a no-op, including on the lookup
// failure logging path.
func TestNewMapper_NilLogger(t *testing.T) {
	lookup := &fakeLookup{
		errFor: map[string]error{"T1055": errors.New("lookup backend down")},
	}
	m := NewMapper(lookup, nil)

	actions := m.MapTechniques(context.Background(), []attack.Technique{
		{ID: "T1055", Name: "Process Injection"},
	})
	if len(actions) != 0 {
		t.Fatalf("expected no actions, got %d", len(actions))
	}
}

func TestMapTechniques_LookupFailureIsIsolated(t *testing.T) {
	lookup := &fakeLookup{
		mappings: map[string][]Mapping{
			"T1003": {{D3FENDID: "D3-CH", Category: CategoryCredentialAccess, EffectivenessScore: 0.9}},
		},
		errFor: map[string]error{"T1055": errors.New("lookup backend down")},
	}
	m := NewMapper(lookup, zap.NewNop())

	actions := m.MapTechniques(context.Background(), []attack.Technique{
		{ID: "T1055", Name: "Process Injection"},
		{ID: "T1003", Name: "OS Credential Dumping"},
	})

	if len(actions) != 1 {
		t.Fatalf("expected the failing technique to be skipped, got %d actions", len(actions))
	}
	if actions[0].MITRETechniqueID != "T1003" {
		t.Errorf("surviving action should belong to T1003, got %s", actions[0].MITRETechniqueID)
	}
}

func TestImplementationSteps_NotesComeFirst(t *testing.T) {
	mp := Mapping{
		D3FENDID: "D3-EAL",
		Category: CategoryGeneral,
		Notes:    "Deploy in audit mode first",
	}
	steps := implementationSteps(mp)
	if len(steps) < 2 {
		t.Fatalf("expected notes plus template steps, got %v", steps)
	}
	if steps[0] != "Deploy in audit mode first" {
		t.Errorf("mapping notes should be the first step, got %q", steps[0])
	}
}

func TestStaticLookup_SubTechniqueFallback(t *testing.T) {
	s := NewStaticLookup()
	parent, err := s.MappingsFor(context.Background(), "T1003")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := s.MappingsFor(context.Background(), "T1003.001")
	if err != nil {
		t.Fatal(err)
	}
	if len(sub) != len(parent) || len(sub) == 0 {
		t.Errorf("sub-technique should fall back to parent mappings: parent=%d sub=%d", len(parent), len(sub))
	}

	unknown, err := s.MappingsFor(context.Background(), "T9999")
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 0 {
		t.Errorf("unknown technique should yield zero mappings, got %d", len(unknown))
	}
}
