package domain

import "time"

// RiskRule is a user-authored risk rule. Rules are administered externally;
// the engine only reads the active ones.
type RiskRule struct {
	ID string `json:"ruleId"`

	// Condition is a restricted boolean expression, e.g.
	// `Paycell.amount > 20000 AND type == "TRANSFER"`.
	Condition string `json:"condition"`

	// Action is the symbolic action name taken when the rule fires.
	Action string `json:"action"`

	// Priority is author-assigned and advisory only. Arbitration uses the
	// severity hierarchy and fetch order, never this field.
	Priority int `json:"priority"`

	Active    bool   `json:"isActive"`
	Signal    string `json:"signal,omitempty"`
	RiskScore int    `json:"riskScore"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Action names understood by the severity hierarchy.
const (
	ActionBlock          = "BLOCK"
	ActionSuspendAccount = "SUSPEND_ACCOUNT"
	ActionTempBlock      = "TEMP_BLOCK"
	ActionOpenFraudCase  = "OPEN_FRAUD_CASE"
	ActionForce2FA       = "FORCE_2FA"
	ActionRateLimit      = "RATE_LIMIT"
	ActionNotifyUser     = "NOTIFY_USER"
	ActionAlert          = "ALERT"
	ActionMonitor        = "MONITOR"
	ActionAllow          = "ALLOW"
)
