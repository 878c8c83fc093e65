package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/compliance"
	"github.com/threatflow/threatflow/internal/flow"
	"github.com/threatflow/threatflow/internal/playbook"
	"github.com/threatflow/threatflow/internal/soar"
)

// Postgres is the relational store. It satisfies playbook.Saver,
// playbook.FlowLoader, compliance.Store, soar.IntegrationStore and
// soar.PlaybookLoader.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to PostgreSQL, retrying with a short constant backoff
// so the service survives a database that is still starting up.
func Open(cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *sqlx.DB
	connect := func() error {
		var err error
		db, err = sqlx.Connect("postgres", cfg.DSN())
		if err != nil {
			logger.Warn("postgres not ready, retrying", zap.Error(err))
			return err
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 15)
	if err := backoff.Retry(connect, policy); err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Postgres{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// Ping reports connection health.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the schema. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type playbookRow struct {
	ID                   string    `db:"id"`
	Name                 string    `db:"name"`
	Description          string    `db:"description"`
	Severity             string    `db:"severity"`
	Status               string    `db:"status"`
	Version              int       `db:"version"`
	Source               string    `db:"source"`
	SourceID             string    `db:"source_id"`
	EstimatedTimeMinutes int       `db:"estimated_time_minutes"`
	GenerationConfidence float64   `db:"generation_confidence"`
	RequiredRoles        []byte    `db:"required_roles"`
	Tags                 []byte    `db:"tags"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// SavePlaybook writes the playbook aggregate in one transaction:
// playbook, phases, actions and detection rules commit together or
// not at all.
func (p *Postgres) SavePlaybook(ctx context.Context, pb *playbook.Playbook) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", ErrTxFailed)
	}
	defer tx.Rollback()

	roles, err := json.Marshal(pb.RequiredRoles)
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	tags, err := json.Marshal(pb.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	const insertPlaybook = `
		INSERT INTO playbooks (
			id, name, description, severity, status, version, source, source_id,
			estimated_time_minutes, generation_confidence, required_roles, tags,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			severity = EXCLUDED.severity,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			estimated_time_minutes = EXCLUDED.estimated_time_minutes,
			generation_confidence = EXCLUDED.generation_confidence,
			required_roles = EXCLUDED.required_roles,
			tags = EXCLUDED.tags,
			updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, insertPlaybook,
		pb.ID, pb.Name, pb.Description, pb.Severity, pb.Status, pb.Version,
		pb.Source, pb.SourceID, pb.EstimatedTimeMinutes, pb.GenerationConfidence,
		roles, tags, pb.CreatedAt, pb.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert playbook %s: %v: %w", pb.ID, err, ErrTxFailed)
	}

	// Replace children wholesale; partial phase/action sets violate
	// the aggregate invariants.
	for _, stmt := range []string{
		`DELETE FROM playbook_actions WHERE phase_id IN (SELECT id FROM playbook_phases WHERE playbook_id = $1)`,
		`DELETE FROM playbook_phases WHERE playbook_id = $1`,
		`DELETE FROM detection_rules WHERE playbook_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, pb.ID); err != nil {
			return fmt.Errorf("clear children of %s: %v: %w", pb.ID, err, ErrTxFailed)
		}
	}

	const insertPhase = `
		INSERT INTO playbook_phases (
			id, playbook_id, name, phase_order, estimated_duration_minutes,
			is_automated, requires_approval
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	const insertAction = `
		INSERT INTO playbook_actions (
			id, phase_id, action_order, action_type, title, description,
			estimated_duration_minutes, requires_approval,
			mitre_technique_id, d3fend_technique_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	for _, ph := range pb.Phases {
		if _, err := tx.ExecContext(ctx, insertPhase,
			ph.ID, pb.ID, ph.Name, ph.PhaseOrder, ph.EstimatedDurationMinutes,
			ph.IsAutomated, ph.RequiresApproval,
		); err != nil {
			return fmt.Errorf("insert phase %s: %v: %w", ph.ID, err, ErrTxFailed)
		}
		for _, a := range ph.Actions {
			if _, err := tx.ExecContext(ctx, insertAction,
				a.ID, ph.ID, a.ActionOrder, a.ActionType, a.Title, a.Description,
				a.EstimatedDurationMinutes, a.RequiresApproval,
				a.MITRETechniqueID, a.D3FENDTechniqueID,
			); err != nil {
				return fmt.Errorf("insert action %s: %v: %w", a.ID, err, ErrTxFailed)
			}
		}
	}

	const insertRule = `
		INSERT INTO detection_rules (
			id, playbook_id, rule_type, rule_name, rule_content,
			mitre_technique_id, confidence_score, is_active, tested, deployed
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	for _, r := range pb.DetectionRules {
		if _, err := tx.ExecContext(ctx, insertRule,
			r.ID, pb.ID, r.RuleType, r.RuleName, r.RuleContent,
			r.MITRETechniqueID, r.ConfidenceScore, r.IsActive, r.Tested, r.Deployed,
		); err != nil {
			return fmt.Errorf("insert rule %s: %v: %w", r.ID, err, ErrTxFailed)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit playbook %s: %v: %w", pb.ID, err, ErrTxFailed)
	}
	return nil
}

// LoadPlaybook reads the full aggregate.
func (p *Postgres) LoadPlaybook(ctx context.Context, id string) (*playbook.Playbook, error) {
	var row playbookRow
	err := p.db.GetContext(ctx, &row, `SELECT * FROM playbooks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("playbook %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load playbook %s: %w", id, err)
	}

	pb := &playbook.Playbook{
		ID:                   row.ID,
		Name:                 row.Name,
		Description:          row.Description,
		Severity:             playbook.Severity(row.Severity),
		Status:               playbook.Status(row.Status),
		Version:              row.Version,
		Source:               row.Source,
		SourceID:             row.SourceID,
		EstimatedTimeMinutes: row.EstimatedTimeMinutes,
		GenerationConfidence: row.GenerationConfidence,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if len(row.RequiredRoles) > 0 {
		if err := json.Unmarshal(row.RequiredRoles, &pb.RequiredRoles); err != nil {
			return nil, fmt.Errorf("decode roles for %s: %w", id, err)
		}
	}
	if len(row.Tags) > 0 {
		if err := json.Unmarshal(row.Tags, &pb.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", id, err)
		}
	}

	var phases []playbook.Phase
	err = p.db.SelectContext(ctx, &phases, `
		SELECT id, playbook_id, name, phase_order, estimated_duration_minutes,
		       is_automated, requires_approval
		FROM playbook_phases WHERE playbook_id = $1 ORDER BY phase_order`, id)
	if err != nil {
		return nil, fmt.Errorf("load phases for %s: %w", id, err)
	}
	for i := range phases {
		var actions []playbook.Action
		err = p.db.SelectContext(ctx, &actions, `
			SELECT id, phase_id, action_order, action_type, title, description,
			       estimated_duration_minutes, requires_approval,
			       mitre_technique_id, d3fend_technique_id
			FROM playbook_actions WHERE phase_id = $1 ORDER BY action_order`, phases[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load actions for phase %s: %w", phases[i].ID, err)
		}
		phases[i].Actions = actions
	}
	pb.Phases = phases

	err = p.db.SelectContext(ctx, &pb.DetectionRules, `
		SELECT id, playbook_id, rule_type, rule_name, rule_content,
		       mitre_technique_id, confidence_score, is_active, tested, deployed
		FROM detection_rules WHERE playbook_id = $1 ORDER BY rule_name`, id)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", id, err)
	}

	return pb, nil
}

// PlaybookSummary is the list-view projection.
type PlaybookSummary struct {
	ID                   string    `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	Severity             string    `db:"severity" json:"severity"`
	Status               string    `db:"status" json:"status"`
	Source               string    `db:"source" json:"source"`
	EstimatedTimeMinutes int       `db:"estimated_time_minutes" json:"estimated_time_minutes"`
	GenerationConfidence float64   `db:"generation_confidence" json:"generation_confidence"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// ListPlaybooks pages through playbooks, newest first.
func (p *Postgres) ListPlaybooks(ctx context.Context, limit, offset int) ([]PlaybookSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []PlaybookSummary
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, name, severity, status, source, estimated_time_minutes,
		       generation_confidence, created_at
		FROM playbooks ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	return out, nil
}

// UpdatePlaybookStatus moves a playbook through its lifecycle and
// bumps the version.
func (p *Postgres) UpdatePlaybookStatus(ctx context.Context, id string, status playbook.Status) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE playbooks SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update playbook %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("playbook %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeletePlaybook removes the aggregate; children cascade.
func (p *Postgres) DeletePlaybook(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM playbooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete playbook %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("playbook %s: %w", id, ErrNotFound)
	}
	return nil
}

// LoadFlow reads an attack flow. Flows are stored as documents; the
// node graph lives in a JSONB column.
func (p *Postgres) LoadFlow(ctx context.Context, id string) (*flow.AttackFlow, error) {
	var row struct {
		ID          string    `db:"id"`
		Name        string    `db:"name"`
		Description string    `db:"description"`
		ThreatActor string    `db:"threat_actor"`
		Nodes       []byte    `db:"nodes"`
		CreatedAt   time.Time `db:"created_at"`
	}
	err := p.db.GetContext(ctx, &row, `SELECT * FROM attack_flows WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("flow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load flow %s: %w", id, err)
	}

	f := &flow.AttackFlow{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		ThreatActor: row.ThreatActor,
		CreatedAt:   row.CreatedAt,
	}
	if err := json.Unmarshal(row.Nodes, &f.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes for flow %s: %w", id, err)
	}
	return f, nil
}

// SaveFlow stores an attack flow document.
func (p *Postgres) SaveFlow(ctx context.Context, f *flow.AttackFlow) error {
	nodes, err := json.Marshal(f.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes for flow %s: %w", f.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO attack_flows (id, name, description, threat_actor, nodes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			threat_actor = EXCLUDED.threat_actor,
			nodes = EXCLUDED.nodes`,
		f.ID, f.Name, f.Description, f.ThreatActor, nodes, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("save flow %s: %w", f.ID, err)
	}
	return nil
}

// LoadSimulationResults returns all technique outcomes for a job.
func (p *Postgres) LoadSimulationResults(ctx context.Context, jobID string) ([]compliance.SimulationResult, error) {
	var out []compliance.SimulationResult
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, job_id, technique_id, detected, prevented, executed_at
		FROM simulation_results WHERE job_id = $1 ORDER BY executed_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load simulation results for %s: %w", jobID, err)
	}
	return out, nil
}

// LoadComplianceMappings returns a technique's control mappings for a
// framework.
func (p *Postgres) LoadComplianceMappings(ctx context.Context, techniqueID string, framework compliance.Framework) ([]compliance.Mapping, error) {
	var out []compliance.Mapping
	err := p.db.SelectContext(ctx, &out, `
		SELECT technique_id, framework, control_id, control_name, coverage_level
		FROM compliance_mappings WHERE technique_id = $1 AND framework = $2`, techniqueID, framework)
	if err != nil {
		return nil, fmt.Errorf("load mappings for %s/%s: %w", techniqueID, framework, err)
	}
	return out, nil
}

// loadAllMappings feeds the wholesale snapshot rebuild.
func (p *Postgres) loadAllMappings(ctx context.Context) ([]compliance.Mapping, error) {
	var out []compliance.Mapping
	err := p.db.SelectContext(ctx, &out, `
		SELECT technique_id, framework, control_id, control_name, coverage_level
		FROM compliance_mappings`)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountComplianceControls returns the framework's control universe size.
func (p *Postgres) CountComplianceControls(ctx context.Context, framework compliance.Framework) (int, error) {
	var n int
	err := p.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM compliance_controls WHERE framework = $1`, framework)
	if err != nil {
		return 0, fmt.Errorf("count controls for %s: %w", framework, err)
	}
	return n, nil
}

// SaveComplianceReport persists a report snapshot; gaps and
// recommendations are stored as JSONB.
func (p *Postgres) SaveComplianceReport(ctx context.Context, report *compliance.Report) error {
	gaps, err := json.Marshal(report.Gaps)
	if err != nil {
		return fmt.Errorf("encode gaps: %w", err)
	}
	recs, err := json.Marshal(report.Recommendations)
	if err != nil {
		return fmt.Errorf("encode recommendations: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO compliance_reports (
			id, job_id, framework, total_controls, covered, partially_covered,
			not_covered, overall_score, gaps, recommendations, generated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		report.ID, report.JobID, report.Framework, report.TotalControls,
		report.Covered, report.PartiallyCovered, report.NotCovered,
		report.OverallScore, gaps, recs, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save report %s: %w", report.ID, err)
	}
	return nil
}

type integrationRow struct {
	ID                 string         `db:"id"`
	PlaybookID         string         `db:"playbook_id"`
	Platform           string         `db:"platform"`
	Name               string         `db:"name"`
	Config             []byte         `db:"config"`
	Status             string         `db:"status"`
	PlatformPlaybookID sql.NullString `db:"platform_playbook_id"`
	SyncError          sql.NullString `db:"sync_error"`
	LastSyncedAt       pq.NullTime    `db:"last_synced_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// SaveIntegration upserts an integration record.
func (p *Postgres) SaveIntegration(ctx context.Context, integ *soar.Integration) error {
	cfg, err := json.Marshal(integ.Config)
	if err != nil {
		return fmt.Errorf("encode integration config: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO soar_integrations (
			id, playbook_id, platform, name, config, status,
			platform_playbook_id, sync_error, last_synced_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			config = EXCLUDED.config,
			status = EXCLUDED.status,
			platform_playbook_id = EXCLUDED.platform_playbook_id,
			sync_error = EXCLUDED.sync_error,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at`,
		integ.ID, integ.PlaybookID, integ.Platform, integ.Name, cfg, integ.Status,
		nullString(integ.PlatformPlaybookID), nullString(integ.SyncError),
		nullTime(integ.LastSyncedAt), integ.CreatedAt, integ.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save integration %s: %w", integ.ID, err)
	}
	return nil
}

// GetIntegration reads one integration record.
func (p *Postgres) GetIntegration(ctx context.Context, id string) (*soar.Integration, error) {
	var row integrationRow
	err := p.db.GetContext(ctx, &row, `SELECT * FROM soar_integrations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %s: %w", id, soar.ErrIntegrationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load integration %s: %w", id, err)
	}

	integ := &soar.Integration{
		ID:                 row.ID,
		PlaybookID:         row.PlaybookID,
		Platform:           soar.Platform(row.Platform),
		Name:               row.Name,
		Status:             soar.Status(row.Status),
		PlatformPlaybookID: row.PlatformPlaybookID.String,
		SyncError:          row.SyncError.String,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if row.LastSyncedAt.Valid {
		t := row.LastSyncedAt.Time
		integ.LastSyncedAt = &t
	}
	if err := json.Unmarshal(row.Config, &integ.Config); err != nil {
		return nil, fmt.Errorf("decode config for integration %s: %w", id, err)
	}
	return integ, nil
}

// UpdateIntegrationStatus records a state transition.
func (p *Postgres) UpdateIntegrationStatus(ctx context.Context, id string, status soar.Status, syncedAt *time.Time, syncErr string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE soar_integrations
		SET status = $2, sync_error = $3,
		    last_synced_at = COALESCE($4, last_synced_at),
		    updated_at = $5
		WHERE id = $1`,
		id, status, nullString(syncErr), nullTime(syncedAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update integration %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %s: %w", id, soar.ErrIntegrationNotFound)
	}
	return nil
}

// DeleteIntegration removes an integration record.
func (p *Postgres) DeleteIntegration(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM soar_integrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete integration %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %s: %w", id, soar.ErrIntegrationNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) pq.NullTime {
	if t == nil {
		return pq.NullTime{}
	}
	return pq.NullTime{Time: *t, Valid: true}
}
