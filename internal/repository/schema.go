package repository

// Schema definitions for the RiskGuard database.
// Compatible with both SQLite and PostgreSQL. List-valued columns hold JSON
// arrays.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    subscriber_id TEXT NOT NULL,
    service TEXT NOT NULL,
    event_type TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    unit TEXT,
    meta TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_subscriber ON events(subscriber_id, timestamp);
`

const schemaRiskRules = `
CREATE TABLE IF NOT EXISTS risk_rules (
    id TEXT PRIMARY KEY,
    condition TEXT NOT NULL,
    action TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    signal TEXT,
    risk_score INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_rules_active ON risk_rules(is_active, created_at);
`

// schemaRiskProfiles carries a version column used for optimistic
// concurrency on commit.
const schemaRiskProfiles = `
CREATE TABLE IF NOT EXISTS risk_profiles (
    subscriber_id TEXT PRIMARY KEY,
    risk_score INTEGER NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL,
    signals TEXT NOT NULL,
    version INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_profiles_level ON risk_profiles(risk_level);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    subscriber_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    triggered_rules TEXT NOT NULL,
    signals TEXT NOT NULL,
    selected_action TEXT NOT NULL,
    winning_rule_id TEXT NOT NULL,
    suppressed_actions TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_subscriber ON decisions(subscriber_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(selected_action);
`

const schemaNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    subscriber_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    message TEXT NOT NULL,
    sent_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_subscriber ON notifications(subscriber_id, sent_at);
`

const schemaFraudCases = `
CREATE TABLE IF NOT EXISTS fraud_cases (
    id TEXT PRIMARY KEY,
    subscriber_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    decision_id TEXT NOT NULL,
    opened_by TEXT NOT NULL,
    case_type TEXT NOT NULL,
    triggering_action TEXT NOT NULL,
    notification_log TEXT,
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    opened_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_cases_status ON fraud_cases(status, opened_at);
`

const schemaCaseActions = `
CREATE TABLE IF NOT EXISTS case_actions (
    id TEXT PRIMARY KEY,
    case_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    note TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_actions_case ON case_actions(case_id, timestamp);
`

const schemaTraceabilityLogs = `
CREATE TABLE IF NOT EXISTS traceability_logs (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    subscriber_id TEXT NOT NULL,
    decision_id TEXT NOT NULL,
    case_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traceability_logs_event ON traceability_logs(event_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaRiskRules,
		schemaRiskProfiles,
		schemaDecisions,
		schemaNotifications,
		schemaFraudCases,
		schemaCaseActions,
		schemaTraceabilityLogs,
	}
}
