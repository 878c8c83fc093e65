package playbook

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

	"github.com/threatflow/threatflow/internal/attack"
	"github.com/threatflow/threatflow/internal/defend"
	"github.com/threatflow/threatflow/internal/flow"
	"github.com/threatflow/threatflow/internal/rules"
)

var (
	// ErrValidation marks a request rejected before any generation work.
	ErrValidation = errors.New("invalid generation request")

	// ErrSourceNotFound is returned when the referenced flow, campaign
	// or template does not exist.
	ErrSourceNotFound = errors.New("generation source not found")
)

// ValidationError carries field-level detail for a rejected request.
// It unwraps to ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid generation request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Source values accepted by a generation request.
const (
	SourceFlow     = "flow"
	SourceCampaign = "campaign"
	SourceTemplate = "template"
	SourceManual   = "manual"
)

// Request describes one playbook generation.
type Request struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	Source                string   `json:"source"`
	SourceID              string   `json:"source_id,omitempty"`
	Severity              Severity `json:"severity"`
	IncludeDetectionRules bool     `json:"include_detection_rules"`
	IncludeAutomation     bool     `json:"include_automation"`
	CustomizePhases       []string `json:"customize_phases,omitempty"`
	RequiredRoles         []string `json:"required_roles,omitempty"`
	Tags                  []string `json:"tags,omitempty"`
}

// FlowLoader resolves the attack flow a non-manual request points at.
type FlowLoader interface {
	LoadFlow(ctx context.Context, id string) (*flow.AttackFlow, error)
}

// Saver persists a generated playbook with its phases, actions and
// detection rules in a single transaction.
type Saver interface {
	SavePlaybook(ctx context.Context, pb *Playbook) error
}

// Time buffer applied on top of the summed phase durations to account
// for coordination overhead between phases.
const bufferMultiplier = 1.5

// Generator turns attack analyses into playbooks.
type Generator struct {
	catalog *attack.Catalog
	loader  FlowLoader
	mapper  *defend.Mapper
	saver   Saver
	logger  *zap.Logger

	// MaxTechniques caps the techniques taken from a resolved flow,
	// in flow order. Zero means no cap.
	MaxTechniques int
}

// NewGenerator wires a generator. loader may be nil when only manual
// generation is needed.
func NewGenerator(catalog *attack.Catalog, loader FlowLoader, mapper *defend.Mapper, saver Saver, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		catalog: catalog,
		loader:  loader,
		mapper:  mapper,
		saver:   saver,
		logger:  logger,
	}
}

// Generate validates the request, resolves its source into a
// generation context, synthesizes phases and actions, optionally
// generates detection rules, scores the result and persists it.
// Nothing is persisted on error.
func (g *Generator) Generate(ctx context.Context, req Request) (*Playbook, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	gctx, err := g.resolveContext(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pb := &Playbook{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Description:   req.Description,
		Severity:      req.Severity,
		Status:        StatusDraft,
		Version:       1,
		Source:        req.Source,
		SourceID:      req.SourceID,
		RequiredRoles: req.RequiredRoles,
		Tags:          req.Tags,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	names, err := selectPhases(req.CustomizePhases)
	if err != nil {
		return nil, err
	}

	var defensive []defend.DefensiveAction
	if g.mapper != nil && gctx.HasTechniques() {
		defensive = g.mapper.MapTechniques(ctx, gctx.Techniques)
	}

	total := 0
	for i, name := range names {
		ph := g.buildPhase(pb.ID, name, i+1, gctx, req, defensive)
		total += ph.EstimatedDurationMinutes
		pb.Phases = append(pb.Phases, ph)
	}
	pb.EstimatedTimeMinutes = int(math.Round(float64(total) * bufferMultiplier))

	if req.IncludeDetectionRules {
		pb.DetectionRules = g.generateRules(pb.ID, gctx)
	}

	pb.GenerationConfidence = confidence(gctx)

	if g.saver != nil {
		if err := g.saver.SavePlaybook(ctx, pb); err != nil {
			return nil, fmt.Errorf("persist playbook: %w", err)
		}
	}

	g.logger.Info("playbook generated",
		zap.String("playbook_id", pb.ID),
		zap.String("source", pb.Source),
		zap.Int("phases", len(pb.Phases)),
		zap.Int("detection_rules", len(pb.DetectionRules)),
		zap.Float64("confidence", pb.GenerationConfidence))

	return pb, nil
}

func validate(req Request) error {
	fields := make(map[string]string)
	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "name is required"
	}
	if !ValidSeverity(req.Severity) {
		fields["severity"] = fmt.Sprintf("severity must be one of low, medium, high, critical, got %q", req.Severity)
	}
	switch req.Source {
	case SourceFlow, SourceCampaign, SourceTemplate:
		if req.SourceID == "" {
			fields["source_id"] = "source_id is required for source " + req.Source
		}
	case SourceManual:
	default:
		fields["source"] = fmt.Sprintf("unknown source %q", req.Source)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// resolveContext turns the request source into a generation context.
// Manual requests start from an empty context.
func (g *Generator) resolveContext(ctx context.Context, req Request) (attack.GenerationContext, error) {
	if req.Source == SourceManual {
		return attack.GenerationContext{}, nil
	}
	if g.loader == nil {
		return attack.GenerationContext{}, fmt.Errorf("source %s: no flow loader configured", req.Source)
	}
	f, err := g.loader.LoadFlow(ctx, req.SourceID)
	if err != nil {
		return attack.GenerationContext{}, fmt.Errorf("load %s %s: %w", req.Source, req.SourceID, err)
	}
	gctx := attack.BuildContext(g.catalog, f)
	if g.MaxTechniques > 0 && len(gctx.Techniques) > g.MaxTechniques {
		g.logger.Warn("technique cap applied",
			zap.Int("techniques", len(gctx.Techniques)),
			zap.Int("cap", g.MaxTechniques))
		gctx.Techniques = gctx.Techniques[:g.MaxTechniques]
	}
	return gctx, nil
}

// selectPhases maps a customization list onto the canonical order.
// An empty list means all seven phases.
func selectPhases(custom []string) ([]PhaseName, error) {
	if len(custom) == 0 {
		return CanonicalPhases, nil
	}

	want := make(map[PhaseName]bool, len(custom))
	for _, c := range custom {
		name := PhaseName(strings.ToLower(strings.TrimSpace(c)))
		valid := false
		for _, p := range CanonicalPhases {
			if p == name {
				valid = true
				break
			}
		}
		if !valid {
			return nil, &ValidationError{Fields: map[string]string{
				"customize_phases": fmt.Sprintf("unknown phase %q", c),
			}}
		}
		want[name] = true
	}

	var names []PhaseName
	for _, p := range CanonicalPhases {
		if want[p] {
			names = append(names, p)
		}
	}
	return names, nil
}

func (g *Generator) buildPhase(playbookID string, name PhaseName, order int, gctx attack.GenerationContext, req Request, defensive []defend.DefensiveAction) Phase {
	ph := Phase{
		ID:               uuid.NewString(),
		PlaybookID:       playbookID,
		Name:             name,
		PhaseOrder:       order,
		RequiresApproval: phaseRequiresApproval[name],
	}

	templates := actionsForPhase(name, gctx, defensive)
	for i, t := range templates {
		at := t.actionType
		if at.automatable() && !req.IncludeAutomation {
			at = ActionTypeManual
		}
		ph.Actions = append(ph.Actions, Action{
			ID:                       uuid.NewString(),
			PhaseID:                  ph.ID,
			ActionOrder:              i + 1,
			ActionType:               at,
			Title:                    t.title,
			Description:              t.description,
			EstimatedDurationMinutes: t.minutes,
			RequiresApproval:         t.requiresApproval,
			MITRETechniqueID:         t.mitreID,
			D3FENDTechniqueID:        t.d3fendID,
		})
		ph.EstimatedDurationMinutes += t.minutes
	}

	ph.IsAutomated = len(ph.Actions) > 0
	for _, a := range ph.Actions {
		if !a.ActionType.automatable() {
			ph.IsAutomated = false
			break
		}
	}

	return ph
}

// actionTemplate is the pre-instantiation form of an action.
type actionTemplate struct {
	actionType       ActionType
	title            string
	description      string
	minutes          int
	requiresApproval bool
	mitreID          string
	d3fendID         string
}

const maxActionsPerPhase = 5

// actionsForPhase synthesizes up to five actions for one phase,
// branching on what the generation context actually contains. Every
// phase produces at least one action.
func actionsForPhase(name PhaseName, gctx attack.GenerationContext, defensive []defend.DefensiveAction) []actionTemplate {
	var out []actionTemplate

	switch name {
	case PhasePreparation:
		out = append(out,
			actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Assemble incident response team",
				description: "Activate on-call responders and assign incident roles.",
				minutes:     30,
			},
			actionTemplate{
				actionType:  ActionTypeNotification,
				title:       "Establish communication channels",
				description: "Open a dedicated incident channel and bridge for coordination.",
				minutes:     15,
			})
		if gctx.ThreatActor != "" {
			out = append(out, actionTemplate{
				actionType:  ActionTypeManual,
				title:       fmt.Sprintf("Review threat intelligence for %s", gctx.ThreatActor),
				description: fmt.Sprintf("Pull existing reporting on %s TTPs and prior incidents.", gctx.ThreatActor),
				minutes:     45,
			})
		}
		if gctx.HasAssets() {
			out = append(out, actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Identify stakeholders for affected assets",
				description: fmt.Sprintf("Notify owners of the %d affected asset(s) and confirm escalation paths.", len(gctx.Assets)),
				minutes:     20,
			})
		}

	case PhaseDetection:
		if gctx.HasTechniques() {
			out = append(out,
				actionTemplate{
					actionType:  ActionTypeAPICall,
					title:       "Deploy detection rules to SIEM",
					description: fmt.Sprintf("Push generated rules covering %d technique(s) to the SIEM.", len(gctx.Techniques)),
					minutes:     20,
				},
				actionTemplate{
					actionType:  ActionTypeAutomated,
					title:       "Hunt for technique activity across endpoints",
					description: "Run scoped hunts for the mapped ATT&CK techniques on EDR telemetry.",
					minutes:     45,
					mitreID:     gctx.Techniques[0].ID,
				})
		}
		if gctx.HasIndicators() {
			out = append(out, actionTemplate{
				actionType:  ActionTypeAutomated,
				title:       "Sweep environment for known indicators",
				description: fmt.Sprintf("Search logs and endpoints for the %d extracted indicator(s).", len(gctx.Indicators)),
				minutes:     30,
			})
		}
		if len(out) == 0 {
			out = append(out, actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Review recent security alerts for anomalies",
				description: "Triage open SIEM alerts and flag anything matching the incident window.",
				minutes:     60,
			})
		}

	case PhaseAnalysis:
		out = append(out, actionTemplate{
			actionType:  ActionTypeManual,
			title:       "Establish incident timeline",
			description: "Reconstruct the sequence of attacker activity from available telemetry.",
			minutes:     60,
		})
		if gctx.HasTechniques() {
			out = append(out, actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Map observed activity to ATT&CK techniques",
				description: "Confirm each extracted technique against raw evidence.",
				minutes:     45,
				mitreID:     gctx.Techniques[0].ID,
			})
		}
		if gctx.MalwareDetected {
			out = append(out, actionTemplate{
				actionType:  ActionTypeScript,
				title:       "Detonate malware sample in sandbox",
				description: "Submit recovered samples for dynamic analysis and extract IOCs.",
				minutes:     90,
			})
		}
		if gctx.ThreatActor != "" {
			out = append(out, actionTemplate{
				actionType:  ActionTypeManual,
				title:       fmt.Sprintf("Correlate findings with %s tradecraft", gctx.ThreatActor),
				description: "Compare observed behavior against known actor tradecraft to assess attribution.",
				minutes:     60,
			})
		}

	case PhaseContainment:
		if gctx.HasAssets() {
			out = append(out, actionTemplate{
				actionType:       ActionTypeAutomated,
				title:            "Isolate affected assets from the network",
				description:      fmt.Sprintf("Network-isolate the %d affected asset(s) via EDR.", len(gctx.Assets)),
				minutes:          15,
				requiresApproval: true,
			})
		}
		if len(gctx.NetworkIndicators) > 0 {
			out = append(out, actionTemplate{
				actionType:  ActionTypeAPICall,
				title:       "Block network indicators at perimeter",
				description: fmt.Sprintf("Add %d network indicator(s) to firewall and proxy blocklists.", len(gctx.NetworkIndicators)),
				minutes:     20,
			})
		}
		if gctx.MalwareDetected {
			out = append(out, actionTemplate{
				actionType:  ActionTypeAutomated,
				title:       "Quarantine identified malware artifacts",
				description: "Quarantine known-bad files across the fleet by hash.",
				minutes:     15,
			})
		}
		out = appendDefensive(out, defensive, defend.CategoryNetworkIsolation, defend.CategoryProcessTermination)
		if len(out) == 0 {
			out = append(out, actionTemplate{
				actionType:       ActionTypeManual,
				title:            "Apply precautionary access restrictions",
				description:      "Restrict access to sensitive systems pending scoping of the incident.",
				minutes:          30,
				requiresApproval: true,
			})
		}

	case PhaseEradication:
		if gctx.MalwareDetected {
			out = append(out, actionTemplate{
				actionType:       ActionTypeScript,
				title:            "Remove malware persistence mechanisms",
				description:      "Delete dropped files, scheduled tasks and autorun entries on affected hosts.",
				minutes:          60,
				requiresApproval: true,
			})
		}
		out = appendDefensive(out, defensive, defend.CategoryCredentialAccess)
		if gctx.HasAssets() {
			out = append(out, actionTemplate{
				actionType:       ActionTypeManual,
				title:            "Rebuild or clean compromised assets",
				description:      "Reimage or forensically clean each confirmed-compromised asset.",
				minutes:          180,
				requiresApproval: true,
			})
		}
		if len(out) == 0 {
			out = append(out, actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Verify no attacker artifacts remain",
				description: "Sweep for residual tooling, accounts and persistence left by the attacker.",
				minutes:     60,
			})
		}

	case PhaseRecovery:
		if gctx.HasAssets() {
			out = append(out,
				actionTemplate{
					actionType:       ActionTypeManual,
					title:            "Restore affected assets to production",
					description:      "Return cleaned assets to service in a staged rollout.",
					minutes:          120,
					requiresApproval: true,
				},
				actionTemplate{
					actionType:  ActionTypeAutomated,
					title:       "Monitor restored assets for recurrence",
					description: "Apply enhanced monitoring to restored assets for the watch period.",
					minutes:     240,
				})
		}
		out = append(out, actionTemplate{
			actionType:  ActionTypeManual,
			title:       "Validate business services are operational",
			description: "Confirm with service owners that dependent business functions have recovered.",
			minutes:     60,
		})

	case PhasePostIncident:
		out = append(out,
			actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Document incident report",
				description: "Write the post-incident report covering timeline, impact and root cause.",
				minutes:     120,
			},
			actionTemplate{
				actionType:  ActionTypeManual,
				title:       "Update detection rules with lessons learned",
				description: "Tune or add detections for the gaps this incident exposed.",
				minutes:     60,
			})
		if gctx.ThreatActor != "" {
			out = append(out, actionTemplate{
				actionType:  ActionTypeNotification,
				title:       "Share intelligence with trusted partners",
				description: "Distribute sanitized indicators and actor context to sharing communities.",
				minutes:     30,
			})
		}
	}

	if len(out) > maxActionsPerPhase {
		out = out[:maxActionsPerPhase]
	}
	return out
}

// appendDefensive adds up to two countermeasure actions of the given
// categories, preserving the mapper's effectiveness ordering.
func appendDefensive(out []actionTemplate, defensive []defend.DefensiveAction, cats ...defend.Category) []actionTemplate {
	added := 0
	for _, da := range defensive {
		if added >= 2 || len(out) >= maxActionsPerPhase {
			break
		}
		match := false
		for _, c := range cats {
			if da.Category == c {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		out = append(out, actionTemplate{
			actionType:       ActionTypeManual,
			title:            da.Name,
			description:      strings.Join(da.ImplementationSteps, " "),
			minutes:          minutesForEffort(da.EstimatedEffort),
			requiresApproval: true,
			mitreID:          da.MITRETechniqueID,
			d3fendID:         da.D3FENDTechniqueID,
		})
		added++
	}
	return out
}

func minutesForEffort(effort string) int {
	switch effort {
	case "low":
		return 30
	case "high":
		return 120
	default:
		return 60
	}
}

// generateRules produces persisted detection rules for every context
// technique: a Sigma rule always, a YARA rule when the technique's
// tactic warrants file-level detection. Individual failures are
// logged and skipped.
func (g *Generator) generateRules(playbookID string, gctx attack.GenerationContext) []DetectionRule {
	rctx := rules.Context{
		NetworkIndicators: gctx.NetworkIndicators,
		MalwareDetected:   gctx.MalwareDetected,
	}

	var out []DetectionRule
	for _, t := range gctx.Techniques {
		types := []rules.RuleType{rules.RuleTypeSigma}
		if rules.YARAApplicable(t) {
			types = append(types, rules.RuleTypeYARA)
		}
		for _, rt := range types {
			r, err := rules.Generate(rt, t, rctx)
			if err != nil {
				g.logger.Warn("rule generation failed",
					zap.String("rule_type", string(rt)),
					zap.String("technique", t.ID),
					zap.Error(err))
				continue
			}
			out = append(out, DetectionRule{
				ID:               uuid.NewString(),
				PlaybookID:       playbookID,
				RuleType:         r.RuleType,
				RuleName:         r.RuleName,
				RuleContent:      r.RuleContent,
				MITRETechniqueID: r.MITRETechniqueID,
				ConfidenceScore:  r.ConfidenceScore,
				IsActive:         true,
			})
		}
	}
	return out
}

// confidence scores how much signal the generation context carried.
// An empty (manual) context scores the 0.5 baseline.
func confidence(gctx attack.GenerationContext) float64 {
	score := 0.5
	if gctx.HasTechniques() {
		score += 0.2
	}
	if gctx.HasIndicators() {
		score += 0.1
	}
	if gctx.HasAssets() {
		score += 0.1
	}
	if gctx.ThreatActor != "" {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
