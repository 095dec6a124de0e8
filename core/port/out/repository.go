// Package out declares the outbound ports the core depends on.
package out

import (
	"context"
	"time"

	"mailsense/core/domain"
)

// RuleRepository stores per-user learned rules.
type RuleRepository interface {
	ListByUser(ctx context.Context, userID string) ([]*domain.Rule, error)
	Create(ctx context.Context, rule *domain.Rule) error
	Delete(ctx context.Context, userID string, id int64) error
	// IncrementUseCount commits before the classification returns; rule
	// usage must survive process exit.
	IncrementUseCount(ctx context.Context, id int64) error
	// FindConflicting returns an existing rule for the same user whose
	// pattern type outranks candidate's and whose template type differs.
	FindConflicting(ctx context.Context, userID string, candidate *domain.LearnedPattern) (*domain.Rule, error)
}

// FeedbackRepository persists corrections, candidate patterns, and rule
// promotion in one transaction.
type FeedbackRepository interface {
	// RecordAndLearn writes the correction, upserts both derived pattern
	// candidates, and promotes any pattern that reached support — all in a
	// single storage transaction. Returns the correction id and, when a
	// promotion happened, the new rule id.
	RecordAndLearn(ctx context.Context, correction *domain.Correction) (correctionID int64, promotedRuleID *int64, err error)
	ListCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error)
	GetPattern(ctx context.Context, userID string, patternType domain.PatternType, pattern string) (*domain.LearnedPattern, error)
}

// AuditRepository stores recent classification results with model/prompt
// pins, and verifier outcomes.
type AuditRepository interface {
	RecordClassification(ctx context.Context, userID string, c *domain.Classification) error
	RecordVerifierOutcome(ctx context.Context, userID, messageID, verdict string, accepted bool) error
	ListRecent(ctx context.Context, userID string, limit int) ([]*domain.Classification, error)
}

// SessionRepository audits digest runs.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	Complete(ctx context.Context, s *domain.Session) error
	MarkAborted(ctx context.Context, sessionID string) error
	// ReapStale marks sessions still running after cutoff as aborted.
	// Called on startup.
	ReapStale(ctx context.Context, cutoff time.Time) (int64, error)
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
}

// CostRepository tracks LLM spend for the daily cap.
type CostRepository interface {
	Record(ctx context.Context, e *domain.CostEvent) error
	SpendSince(ctx context.Context, since time.Time) (float64, error)
}
