package compliance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoResults is returned when the job has no simulation results
	// to score.
	ErrNoResults = errors.New("no simulation results for job")

	// ErrUnknownFramework is returned for a framework outside the
	// supported catalog.
	ErrUnknownFramework = errors.New("unknown compliance framework")
)

// CoverageLevel qualifies how completely a control addresses a technique.
type CoverageLevel string

const (
	CoverageFull    CoverageLevel = "full"
	CoveragePartial CoverageLevel = "partial"
	CoverageRelated CoverageLevel = "related"
)

// GapSeverity grades a control gap.
type GapSeverity string

const (
	GapLow      GapSeverity = "low"
	GapMedium   GapSeverity = "medium"
	GapHigh     GapSeverity = "high"
	GapCritical GapSeverity = "critical"
)

// SimulationResult is one technique outcome from an attack simulation job.
type SimulationResult struct {
	ID          string    `json:"id" db:"id"`
	JobID       string    `json:"job_id" db:"job_id"`
	TechniqueID string    `json:"technique_id" db:"technique_id"`
	Detected    bool      `json:"detected" db:"detected"`
	Prevented   bool      `json:"prevented" db:"prevented"`
	ExecutedAt  time.Time `json:"executed_at" db:"executed_at"`
}

// Mapping joins a technique to a framework control.
type Mapping struct {
	TechniqueID   string        `json:"technique_id" db:"technique_id"`
	Framework     Framework     `json:"framework" db:"framework"`
	ControlID     string        `json:"control_id" db:"control_id"`
	ControlName   string        `json:"control_name" db:"control_name"`
	CoverageLevel CoverageLevel `json:"coverage_level" db:"coverage_level"`
}

// Gap is a control whose mapped techniques were not fully handled.
type Gap struct {
	ControlID          string      `json:"control_id"`
	ControlName        string      `json:"control_name,omitempty"`
	Category           string      `json:"category"`
	AffectedTechniques []string    `json:"affected_techniques"`
	Severity           GapSeverity `json:"severity"`
	Recommendation     string      `json:"recommendation"`
	MissedDetections   int         `json:"missed_detections"`
	MissedPreventions  int         `json:"missed_preventions"`
}

// Report is the persisted outcome of scoring one job against one
// framework.
type Report struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	Framework        Framework `json:"framework"`
	TotalControls    int       `json:"total_controls"`
	Covered          int       `json:"covered"`
	PartiallyCovered int       `json:"partially_covered"`
	NotCovered       int       `json:"not_covered"`
	OverallScore     int       `json:"overall_score"`
	Gaps             []Gap     `json:"gaps"`
	Recommendations  []string  `json:"recommendations"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Store is the persistence surface the scorer depends on.
type Store interface {
	LoadSimulationResults(ctx context.Context, jobID string) ([]SimulationResult, error)
	LoadComplianceMappings(ctx context.Context, techniqueID string, framework Framework) ([]Mapping, error)
	CountComplianceControls(ctx context.Context, framework Framework) (int, error)
	SaveComplianceReport(ctx context.Context, report *Report) error
}

// Scorer computes framework coverage reports from simulation results.
type Scorer struct {
	store  Store
	logger *zap.Logger
}

// NewScorer wires a scorer against its store.
func NewScorer(store Store, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{store: store, logger: logger}
}

const maxRecommendations = 10

// GenerateReport scores jobID's simulation results against framework
// and persists the resulting report.
//
// A control counts as covered when its technique was both detected and
// prevented under a full-coverage mapping, and partially covered when
// either check passed under any coverage level or when full coverage
// met only one passing check. A control reached through several
// techniques is counted once per technique; the not-covered remainder
// floors at zero.
func (s *Scorer) GenerateReport(ctx context.Context, jobID string, framework Framework) (*Report, error) {
	if !ValidFramework(framework) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFramework, framework)
	}

	results, err := s.store.LoadSimulationResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load results for job %s: %w", jobID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNoResults)
	}

	total, err := s.store.CountComplianceControls(ctx, framework)
	if err != nil {
		return nil, fmt.Errorf("count controls for %s: %w", framework, err)
	}

	report := &Report{
		ID:            uuid.NewString(),
		JobID:         jobID,
		Framework:     framework,
		TotalControls: total,
		GeneratedAt:   time.Now().UTC(),
	}

	byControl := make(map[string]*controlState)
	var controlOrder []string

	for _, res := range results {
		mappings, err := s.store.LoadComplianceMappings(ctx, res.TechniqueID, framework)
		if err != nil {
			return nil, fmt.Errorf("load mappings for %s: %w", res.TechniqueID, err)
		}
		for _, m := range mappings {
			switch {
			case res.Detected && res.Prevented && m.CoverageLevel == CoverageFull:
				report.Covered++
			case res.Detected || res.Prevented:
				report.PartiallyCovered++
			}

			st, ok := byControl[m.ControlID]
			if !ok {
				st = &controlState{name: m.ControlName}
				byControl[m.ControlID] = st
				controlOrder = append(controlOrder, m.ControlID)
			}
			st.observe(res)
		}
	}

	report.NotCovered = report.TotalControls - report.Covered - report.PartiallyCovered
	if report.NotCovered < 0 {
		report.NotCovered = 0
	}

	report.Gaps = buildGaps(framework, byControl, controlOrder)
	report.OverallScore = score(report)
	report.Recommendations = recommendations(framework, report.Gaps)

	if err := s.store.SaveComplianceReport(ctx, report); err != nil {
		return nil, fmt.Errorf("save report for job %s: %w", jobID, err)
	}

	s.logger.Info("compliance report generated",
		zap.String("job_id", jobID),
		zap.String("framework", string(framework)),
		zap.Int("score", report.OverallScore),
		zap.Int("gaps", len(report.Gaps)))

	return report, nil
}

// controlState accumulates the detect/prevent checks of every
// technique mapped onto one control.
type controlState struct {
	name         string
	techniques   []string
	failedChecks int
	totalChecks  int
	detectFails  int
	preventFails int
	hasGap       bool
}

func (st *controlState) observe(res SimulationResult) {
	st.techniques = append(st.techniques, res.TechniqueID)
	st.totalChecks += 2
	if !res.Detected {
		st.failedChecks++
		st.detectFails++
	}
	if !res.Prevented {
		st.failedChecks++
		st.preventFails++
	}
	if !res.Detected || !res.Prevented {
		st.hasGap = true
	}
}

func (st *controlState) severity() GapSeverity {
	failed := float64(st.failedChecks) / float64(st.totalChecks)
	switch {
	case failed >= 0.75:
		return GapCritical
	case failed >= 0.5:
		return GapHigh
	case failed >= 0.25:
		return GapMedium
	}
	return GapLow
}

func buildGaps(framework Framework, byControl map[string]*controlState, order []string) []Gap {
	var gaps []Gap
	for _, controlID := range order {
		st := byControl[controlID]
		if !st.hasGap {
			continue
		}
		gaps = append(gaps, Gap{
			ControlID:          controlID,
			ControlName:        st.name,
			Category:           framework.Categorize(controlID),
			AffectedTechniques: st.techniques,
			Severity:           st.severity(),
			Recommendation:     gapRecommendation(controlID, st),
			MissedDetections:   st.detectFails,
			MissedPreventions:  st.preventFails,
		})
	}

	severityRank := map[GapSeverity]int{GapCritical: 0, GapHigh: 1, GapMedium: 2, GapLow: 3}
	sort.SliceStable(gaps, func(i, j int) bool {
		return severityRank[gaps[i].Severity] < severityRank[gaps[j].Severity]
	})
	return gaps
}

func gapRecommendation(controlID string, st *controlState) string {
	switch {
	case st.detectFails > 0 && st.preventFails > 0:
		return fmt.Sprintf("Improve both detection and prevention coverage for control %s.", controlID)
	case st.detectFails > 0:
		return fmt.Sprintf("Add detection coverage for the techniques mapped to control %s.", controlID)
	default:
		return fmt.Sprintf("Add preventive controls for the techniques mapped to control %s.", controlID)
	}
}

// score applies the coverage formula and clamps to [0,100].
func score(r *Report) int {
	if r.TotalControls == 0 {
		return 0
	}
	coveredRatio := float64(r.Covered) / float64(r.TotalControls)
	partialRatio := float64(r.PartiallyCovered) / float64(r.TotalControls)

	var critical, high int
	for _, g := range r.Gaps {
		switch g.Severity {
		case GapCritical:
			critical++
		case GapHigh:
			high++
		}
	}

	raw := coveredRatio*100 + partialRatio*50 - float64(10*critical+5*high)
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return int(math.Round(raw))
}

// recommendations builds the prioritized list: critical gaps, high
// gaps, aggregate weakness flags, then the framework's fixed closing
// recommendation. Never more than ten entries.
func recommendations(framework Framework, gaps []Gap) []string {
	var out []string

	var criticalIDs, highIDs []string
	for _, g := range gaps {
		switch g.Severity {
		case GapCritical:
			criticalIDs = append(criticalIDs, g.ControlID)
		case GapHigh:
			highIDs = append(highIDs, g.ControlID)
		}
	}

	if len(criticalIDs) > 0 {
		named := criticalIDs
		if len(named) > 3 {
			named = named[:3]
		}
		out = append(out, fmt.Sprintf("Address %d critical gap(s) immediately, starting with controls: %s.",
			len(criticalIDs), joinIDs(named)))
	}
	if len(highIDs) > 0 {
		named := highIDs
		if len(named) > 3 {
			named = named[:3]
		}
		out = append(out, fmt.Sprintf("Remediate %d high-severity gap(s), including controls: %s.",
			len(highIDs), joinIDs(named)))
	}

	detectGaps, preventGaps := weaknessCounts(gaps)
	if detectGaps > 5 {
		out = append(out, fmt.Sprintf("Detection is a systemic weakness: %d gaps stem from missed detections. Review SIEM rule coverage.", detectGaps))
	}
	if preventGaps > 5 {
		out = append(out, fmt.Sprintf("Prevention is a systemic weakness: %d gaps stem from unblocked techniques. Review endpoint and network policy enforcement.", preventGaps))
	}

	if rec, ok := frameworkRecommendation[framework]; ok {
		out = append(out, rec)
	}

	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out
}

// weaknessCounts tallies how many gaps exhibit each weakness type.
func weaknessCounts(gaps []Gap) (detect, prevent int) {
	for _, g := range gaps {
		if g.MissedDetections > 0 {
			detect++
		}
		if g.MissedPreventions > 0 {
			prevent++
		}
	}
	return detect, prevent
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}
