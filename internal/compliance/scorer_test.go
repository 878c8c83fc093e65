package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type fakeStore struct {
	results  map[string][]SimulationResult
	mappings map[string][]Mapping
	controls int
	saved    []*Report
	saveErr  error
}

func (f *fakeStore) LoadSimulationResults(_ context.Context, jobID string) ([]SimulationResult, error) {
	return f.results[jobID], nil
}

func (f *fakeStore) LoadComplianceMappings(_ context.Context, techniqueID string, framework Framework) ([]Mapping, error) {
	var out []Mapping
	for _, m := range f.mappings[techniqueID] {
		if m.Framework == framework {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) CountComplianceControls(_ context.Context, _ Framework) (int, error) {
	return f.controls, nil
}

func (f *fakeStore) SaveComplianceReport(_ context.Context, report *Report) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, report)
	return nil
}

func mapping(technique, control string, level CoverageLevel) Mapping {
	return Mapping{
		TechniqueID:   technique,
		Framework:     FrameworkNISTCSF,
		ControlID:     control,
		ControlName:   "Control " + control,
		CoverageLevel: level,
	}
}

func TestGenerateReportFullCoverage(t *testing.T) {
	store := &fakeStore{
		controls: 2,
		results: map[string][]SimulationResult{
			"job-1": {
				{ID: "r1", JobID: "job-1", TechniqueID: "T1003", Detected: true, Prevented: true},
				{ID: "r2", JobID: "job-1", TechniqueID: "T1055", Detected: true, Prevented: true},
			},
		},
		mappings: map[string][]Mapping{
			"T1003": {mapping("T1003", "PR.AC-1", CoverageFull)},
			"T1055": {mapping("T1055", "DE.CM-1", CoverageFull)},
		},
	}
	scorer := NewScorer(store, zap.NewNop())

	report, err := scorer.GenerateReport(context.Background(), "job-1", FrameworkNISTCSF)
	if err != nil {
		t.Fatalf("GenerateReport returned error: %v", err)
	}

	if report.OverallScore != 100 {
		t.Errorf("expected score 100, got %d", report.OverallScore)
	}
	if len(report.Gaps) != 0 {
		t.Errorf("expected no gaps, got %d", len(report.Gaps))
	}
	if report.Covered != 2 || report.NotCovered != 0 {
		t.Errorf("coverage counts: covered=%d notCovered=%d", report.Covered, report.NotCovered)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected report persisted once, got %d", len(store.saved))
	}
}

func TestGenerateReportGapSeverity(t *testing.T) {
	tests := []struct {
		name    string
		results []SimulationResult
		want    GapSeverity
	}{
		{
			"both checks failed",
			[]SimulationResult{{TechniqueID: "T1003", Detected: false, Prevented: false}},
			GapCritical,
		},
		{
			"half the checks failed",
			[]SimulationResult{{TechniqueID: "T1003", Detected: true, Prevented: false}},
			GapHigh,
		},
		{
			"quarter of the checks failed",
			[]SimulationResult{
				{TechniqueID: "T1003", Detected: true, Prevented: false},
				{TechniqueID: "T1055", Detected: true, Prevented: true},
			},
			GapMedium,
		},
		{
			"one of eight checks failed",
			[]SimulationResult{
				{TechniqueID: "T1003", Detected: true, Prevented: false},
				{TechniqueID: "T1055", Detected: true, Prevented: true},
				{TechniqueID: "T1059", Detected: true, Prevented: true},
				{TechniqueID: "T1071", Detected: true, Prevented: true},
			},
			GapLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mappings := make(map[string][]Mapping)
			for _, r := range tt.results {
				mappings[r.TechniqueID] = []Mapping{mapping(r.TechniqueID, "PR.AC-1", CoverageFull)}
			}
			store := &fakeStore{
				controls: 1,
				results:  map[string][]SimulationResult{"job-1": tt.results},
				mappings: mappings,
			}
			report, err := NewScorer(store, zap.NewNop()).GenerateReport(context.Background(), "job-1", FrameworkNISTCSF)
			if err != nil {
				t.Fatalf("GenerateReport returned error: %v", err)
			}
			if len(report.Gaps) != 1 {
				t.Fatalf("expected one gap, got %d", len(report.Gaps))
			}
			if report.Gaps[0].Severity != tt.want {
				t.Errorf("severity = %s, want %s", report.Gaps[0].Severity, tt.want)
			}
		})
	}
}

func TestGenerateReportDoubleCountsSharedControl(t *testing.T) {
	// Two techniques mapping onto the same control both count toward
	// coverage; this accounting is intentionally not deduplicated.
	store := &fakeStore{
		controls: 4,
		results: map[string][]SimulationResult{
			"job-1": {
				{TechniqueID: "T1003", Detected: true, Prevented: true},
				{TechniqueID: "T1055", Detected: true, Prevented: true},
			},
		},
		mappings: map[string][]Mapping{
			"T1003": {mapping("T1003", "PR.AC-1", CoverageFull)},
			"T1055": {mapping("T1055", "PR.AC-1", CoverageFull)},
		},
	}
	report, err := NewScorer(store, zap.NewNop()).GenerateReport(context.Background(), "job-1", FrameworkNISTCSF)
	if err != nil {
		t.Fatalf("GenerateReport returned error: %v", err)
	}
	if report.Covered != 2 {
		t.Errorf("expected covered=2 (one per mapping), got %d", report.Covered)
	}
	if report.NotCovered != 2 {
		t.Errorf("expected notCovered=2, got %d", report.NotCovered)
	}
}

func TestGenerateReportPartialCoverage(t *testing.T) {
	store := &fakeStore{
		controls: 2,
		results: map[string][]SimulationResult{
			"job-1": {
				// detected only, full coverage: partial
				{TechniqueID: "T1003", Detected: true, Prevented: false},
				// detected+prevented but mapping only partial: partial
				{TechniqueID: "T1055", Detected: true, Prevented: true},
			},
		},
		mappings: map[string][]Mapping{
			"T1003": {mapping("T1003", "PR.AC-1", CoverageFull)},
			"T1055": {mapping("T1055", "DE.CM-1", CoveragePartial)},
		},
	}
	report, err := NewScorer(store, zap.NewNop()).GenerateReport(context.Background(), "job-1", FrameworkNISTCSF)
	if err != nil {
		t.Fatalf("GenerateReport returned error: %v", err)
	}
	if report.Covered != 0 || report.PartiallyCovered != 2 {
		t.Errorf("coverage counts: covered=%d partial=%d", report.Covered, report.PartiallyCovered)
	}
}

func TestScoreMonotonicInGaps(t *testing.T) {
	base := &Report{TotalControls: 10, Covered: 6, PartiallyCovered: 2}
	prev := score(base)
	for i := 1; i <= 5; i++ {
		r := &Report{TotalControls: 10, Covered: 6, PartiallyCovered: 2}
		for j := 0; j < i; j++ {
			r.Gaps = append(r.Gaps, Gap{Severity: GapCritical})
		}
		got := score(r)
		if got > prev {
			t.Fatalf("score increased with more critical gaps: %d -> %d", prev, got)
		}
		prev = got
	}
}

func TestScoreClamped(t *testing.T) {
	r := &Report{TotalControls: 10, Covered: 1}
	for i := 0; i < 20; i++ {
		r.Gaps = append(r.Gaps, Gap{Severity: GapCritical})
	}
	if got := score(r); got != 0 {
		t.Errorf("expected floor at 0, got %d", got)
	}
}

func TestRecommendationsPriorityAndCap(t *testing.T) {
	var gaps []Gap
	for i := 0; i < 8; i++ {
		gaps = append(gaps, Gap{
			ControlID:        fmt.Sprintf("PR.AC-%d", i),
			Severity:         GapCritical,
			MissedDetections: 1,
		})
	}
	for i := 0; i < 8; i++ {
		gaps = append(gaps, Gap{
			ControlID:         fmt.Sprintf("DE.CM-%d", i),
			Severity:          GapHigh,
			MissedPreventions: 1,
		})
	}

	recs := recommendations(FrameworkNISTCSF, gaps)
	if len(recs) > maxRecommendations {
		t.Fatalf("expected at most %d recommendations, got %d", maxRecommendations, len(recs))
	}
	if !strings.Contains(recs[0], "critical") {
		t.Errorf("first recommendation should address critical gaps: %q", recs[0])
	}
	if !strings.Contains(recs[0], "PR.AC-0") || strings.Contains(recs[0], "PR.AC-3") {
		t.Errorf("critical recommendation should name at most three controls: %q", recs[0])
	}

	joined := strings.Join(recs, "\n")
	if !strings.Contains(joined, "Detection is a systemic weakness") {
		t.Errorf("expected aggregate detection weakness flag in %q", joined)
	}
	if !strings.Contains(joined, "Prevention is a systemic weakness") {
		t.Errorf("expected aggregate prevention weakness flag in %q", joined)
	}
}

func TestGenerateReportErrors(t *testing.T) {
	store := &fakeStore{controls: 1, results: map[string][]SimulationResult{}}
	scorer := NewScorer(store, zap.NewNop())

	if _, err := scorer.GenerateReport(context.Background(), "job-1", "fedramp"); !errors.Is(err, ErrUnknownFramework) {
		t.Errorf("expected ErrUnknownFramework, got %v", err)
	}
	if _, err := scorer.GenerateReport(context.Background(), "empty-job", FrameworkNISTCSF); !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		framework Framework
		controlID string
		want      string
	}{
		{FrameworkNISTCSF, "PR.AC-1", "Protect"},
		{FrameworkNISTCSF, "DE.CM-7", "Detect"},
		{FrameworkNIST80053, "AC-2", "AC"},
		{FrameworkCIS, "8.2", "Control 8"},
		{FrameworkPCIDSS, "10.6.1", "Control 10"},
		{FrameworkISO27001, "A.12.4.1", "A.12"},
		{FrameworkHIPAA, "164.312(b)", "§164.312"},
		{FrameworkSOC2, "CC6.1", "CC"},
		{FrameworkGDPR, "Art. 32(1)", "Art. 32"},
		{FrameworkNISTCSF, "bogus", "General"},
	}
	for _, tt := range tests {
		if got := tt.framework.Categorize(tt.controlID); got != tt.want {
			t.Errorf("%s.Categorize(%q) = %q, want %q", tt.framework, tt.controlID, got, tt.want)
		}
	}
}
