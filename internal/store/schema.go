package store

// schema is the idempotent DDL applied by Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS attack_flows (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	threat_actor TEXT NOT NULL DEFAULT '',
	nodes        JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS playbooks (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	description            TEXT NOT NULL DEFAULT '',
	severity               TEXT NOT NULL,
	status                 TEXT NOT NULL,
	version                INTEGER NOT NULL DEFAULT 1,
	source                 TEXT NOT NULL,
	source_id              TEXT NOT NULL DEFAULT '',
	estimated_time_minutes INTEGER NOT NULL DEFAULT 0,
	generation_confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	required_roles         JSONB NOT NULL DEFAULT 'null',
	tags                   JSONB NOT NULL DEFAULT 'null',
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS playbook_phases (
	id                         TEXT PRIMARY KEY,
	playbook_id                TEXT NOT NULL REFERENCES playbooks(id) ON DELETE CASCADE,
	name                       TEXT NOT NULL,
	phase_order                INTEGER NOT NULL,
	estimated_duration_minutes INTEGER NOT NULL DEFAULT 0,
	is_automated               BOOLEAN NOT NULL DEFAULT FALSE,
	requires_approval          BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_phases_playbook ON playbook_phases(playbook_id);

CREATE TABLE IF NOT EXISTS playbook_actions (
	id                         TEXT PRIMARY KEY,
	phase_id                   TEXT NOT NULL REFERENCES playbook_phases(id) ON DELETE CASCADE,
	action_order               INTEGER NOT NULL,
	action_type                TEXT NOT NULL,
	title                      TEXT NOT NULL,
	description                TEXT NOT NULL DEFAULT '',
	estimated_duration_minutes INTEGER NOT NULL DEFAULT 0,
	requires_approval          BOOLEAN NOT NULL DEFAULT FALSE,
	mitre_technique_id         TEXT NOT NULL DEFAULT '',
	d3fend_technique_id        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_actions_phase ON playbook_actions(phase_id);

CREATE TABLE IF NOT EXISTS detection_rules (
	id                 TEXT PRIMARY KEY,
	playbook_id        TEXT NOT NULL REFERENCES playbooks(id) ON DELETE CASCADE,
	rule_type          TEXT NOT NULL,
	rule_name          TEXT NOT NULL,
	rule_content       TEXT NOT NULL,
	mitre_technique_id TEXT NOT NULL,
	confidence_score   DOUBLE PRECISION NOT NULL,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	tested             BOOLEAN NOT NULL DEFAULT FALSE,
	deployed           BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_rules_playbook ON detection_rules(playbook_id);

CREATE TABLE IF NOT EXISTS simulation_results (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL,
	technique_id TEXT NOT NULL,
	detected     BOOLEAN NOT NULL,
	prevented    BOOLEAN NOT NULL,
	executed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_results_job ON simulation_results(job_id);

CREATE TABLE IF NOT EXISTS compliance_controls (
	framework TEXT NOT NULL,
	control_id TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (framework, control_id)
);

CREATE TABLE IF NOT EXISTS compliance_mappings (
	technique_id   TEXT NOT NULL,
	framework      TEXT NOT NULL,
	control_id     TEXT NOT NULL,
	control_name   TEXT NOT NULL DEFAULT '',
	coverage_level TEXT NOT NULL,
	PRIMARY KEY (technique_id, framework, control_id)
);
CREATE INDEX IF NOT EXISTS idx_mappings_technique ON compliance_mappings(technique_id, framework);

CREATE TABLE IF NOT EXISTS compliance_reports (
	id                TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL,
	framework         TEXT NOT NULL,
	total_controls    INTEGER NOT NULL,
	covered           INTEGER NOT NULL,
	partially_covered INTEGER NOT NULL,
	not_covered       INTEGER NOT NULL,
	overall_score     INTEGER NOT NULL,
	gaps              JSONB NOT NULL DEFAULT '[]',
	recommendations   JSONB NOT NULL DEFAULT '[]',
	generated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS soar_integrations (
	id                   TEXT PRIMARY KEY,
	playbook_id          TEXT NOT NULL,
	platform             TEXT NOT NULL,
	name                 TEXT NOT NULL DEFAULT '',
	config               JSONB NOT NULL,
	status               TEXT NOT NULL,
	platform_playbook_id TEXT,
	sync_error           TEXT,
	last_synced_at       TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_integrations_playbook ON soar_integrations(playbook_id);
`
