// Package domain defines the core interfaces and types for RiskGuard.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict reports that a risk profile changed between read and commit.
	ErrConflict = errors.New("concurrent profile update")
)

// RuleStore is the read side of rule administration used by the engine.
type RuleStore interface {
	// ListActiveRules returns active rules in fetch order (creation order).
	ListActiveRules(ctx context.Context) ([]*RiskRule, error)
}

// ProfileStore reads subscriber risk profiles.
type ProfileStore interface {
	// GetRiskProfile returns ErrNotFound if the subscriber has no profile yet.
	GetRiskProfile(ctx context.Context, subscriberID string) (*RiskProfile, error)
}

// OutcomeSink persists the records produced by one event.
type OutcomeSink interface {
	// CommitOutcome writes the decision, profile, notification, case and
	// trace atomically. It returns ErrConflict if the profile version no
	// longer matches the stored one.
	CommitOutcome(ctx context.Context, outcome *Outcome) error
}

// EngineStore is everything the decision engine needs from persistence.
type EngineStore interface {
	RuleStore
	ProfileStore
	OutcomeSink
}

// DecisionFilter narrows ListDecisions.
type DecisionFilter struct {
	Action       string
	SubscriberID string
	Limit        int
	Offset       int
}

// Repository defines the interface for data persistence.
type Repository interface {
	EngineStore

	// Event operations
	SaveEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	ListEvents(ctx context.Context, subscriberID string, since time.Time, limit int) ([]*Event, error)

	// Rule administration
	SaveRule(ctx context.Context, rule *RiskRule) error
	GetRule(ctx context.Context, ruleID string) (*RiskRule, error)
	ListRules(ctx context.Context) ([]*RiskRule, error)
	DeleteRule(ctx context.Context, ruleID string) error

	// Read helpers
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*Decision, error)
	ListRiskProfiles(ctx context.Context, level RiskLevel, limit int) ([]*RiskProfile, error)
	ListNotifications(ctx context.Context, subscriberID string, limit int) ([]*Notification, error)
	ListFraudCases(ctx context.Context, limit, offset int) ([]*FraudCase, error)
	GetFraudCase(ctx context.Context, caseID string) (*FraudCase, error)
	GetTrace(ctx context.Context, eventID string) (*TraceabilityLog, error)

	// Case work log
	AddCaseAction(ctx context.Context, action *CaseAction) error
	ListCaseActions(ctx context.Context, caseID string) ([]*CaseAction, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "memory"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
