package domain

import (
	"fmt"
	"time"
)

// Decision is produced for every event that triggered at least one rule.
type Decision struct {
	ID                string    `json:"decisionId"`
	SubscriberID      string    `json:"subscriberId"`
	EventID           string    `json:"eventId"`
	TriggeredRules    []string  `json:"triggeredRules"`
	Signals           []string  `json:"signals"`
	SelectedAction    string    `json:"selectedAction"`
	WinningRuleID     string    `json:"winningRuleId"`
	SuppressedActions []string  `json:"suppressedActions"`
	Timestamp         time.Time `json:"timestamp"`
}

// RiskLevel is a coarse banding derived purely from a risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// MaxRiskScore caps the cumulative profile score.
const MaxRiskScore = 100

// RiskProfile is the cumulative risk state of one subscriber.
type RiskProfile struct {
	SubscriberID string    `json:"subscriberId"`
	Score        int       `json:"riskScore"`
	Level        RiskLevel `json:"riskLevel"`
	Signals      []string  `json:"signals"`

	// Version is the optimistic concurrency token. Zero means the profile
	// has never been stored.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Notification is a message sent to the subscriber for a non-benign action.
type Notification struct {
	ID           string    `json:"notificationId"`
	SubscriberID string    `json:"subscriberId"`
	EventID      string    `json:"eventId"`
	Channel      string    `json:"channel"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sentAt"`
}

// Fraud case constants for automatically opened cases.
const (
	CaseStatusOpen       = "OPEN"
	CaseStatusInProgress = "IN_PROGRESS"
	CaseStatusClosed     = "CLOSED"

	CasePriorityHigh = "HIGH"

	CaseOpenedBySystem = "SYSTEM"
	CaseTypeAutomated  = "AUTOMATED_RISK"
)

// FraudCase is an investigation opened for a subscriber.
type FraudCase struct {
	ID               string    `json:"caseId"`
	SubscriberID     string    `json:"subscriberId"`
	EventID          string    `json:"eventId"`
	DecisionID       string    `json:"decisionId"`
	OpenedBy         string    `json:"openedBy"`
	CaseType         string    `json:"caseType"`
	TriggeringAction string    `json:"triggeringAction"`
	NotificationLog  string    `json:"notificationLog,omitempty"`
	Status           string    `json:"status"`
	Priority         string    `json:"priority"`
	OpenedAt         time.Time `json:"openedAt"`
}

// CaseAction is one entry in an analyst's work log on a case.
type CaseAction struct {
	ID         string    `json:"actionId"`
	CaseID     string    `json:"caseId"`
	ActionType string    `json:"actionType"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Case action types. Status-changing types move the case to the matching status.
const (
	CaseActionComment  = "COMMENT"
	CaseActionAssign   = "ASSIGN"
	CaseActionEscalate = "ESCALATE"
	CaseActionClose    = "CLOSE"
)

// TraceabilityLog links an event to its decision and, if any, its case.
type TraceabilityLog struct {
	ID           string    `json:"traceId"`
	EventID      string    `json:"eventId"`
	SubscriberID string    `json:"subscriberId"`
	DecisionID   string    `json:"decisionId"`
	CaseID       *string   `json:"caseId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Outcome is everything a triggering event produces. It is committed as a
// single atomic unit.
type Outcome struct {
	Decision     *Decision        `json:"decision"`
	Profile      *RiskProfile     `json:"profile"`
	Notification *Notification    `json:"notification,omitempty"`
	Case         *FraudCase       `json:"case,omitempty"`
	Trace        *TraceabilityLog `json:"trace"`
}

// NextCaseStatus returns the case status after applying actionType to a case
// in status current.
func NextCaseStatus(current, actionType string) (string, error) {
	switch actionType {
	case CaseActionComment:
		return current, nil
	case CaseActionAssign, CaseActionEscalate, CaseActionClose:
	default:
		return "", fmt.Errorf("%w: unknown case action %q", ErrInvalidInput, actionType)
	}

	if current == CaseStatusClosed {
		return "", fmt.Errorf("%w: case is closed", ErrConflict)
	}
	if actionType == CaseActionClose {
		return CaseStatusClosed, nil
	}
	return CaseStatusInProgress, nil
}
