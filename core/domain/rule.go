package domain

import (
	"strings"
	"time"
)

// PatternType is the kind of sender pattern a learned rule matches on.
type PatternType string

const (
	PatternExactSender     PatternType = "exact_sender"
	PatternSenderDomain    PatternType = "sender_domain"
	PatternSubjectContains PatternType = "subject_contains"
)

// Priority orders pattern types for tie-breaking: exact sender beats domain
// beats subject substring. Higher wins.
func (p PatternType) Priority() int {
	switch p {
	case PatternExactSender:
		return 3
	case PatternSenderDomain:
		return 2
	case PatternSubjectContains:
		return 1
	default:
		return 0
	}
}

// ClassificationTemplate is the partial classification a rule applies when
// it matches. Confidence comes from the rule, not the template.
type ClassificationTemplate struct {
	Type       EmailType     `json:"type"`
	Domains    []EmailDomain `json:"domains,omitempty"`
	Attention  Attention     `json:"attention"`
	Importance Importance    `json:"importance"`
	Label      ClientLabel   `json:"label"`
}

// Rule is a learned per-user sender rule. Unique on
// (user_id, pattern_type, pattern, template.type).
type Rule struct {
	ID          int64                  `json:"id"`
	UserID      string                 `json:"user_id"`
	PatternType PatternType            `json:"pattern_type"`
	Pattern     string                 `json:"pattern"`
	Template    ClassificationTemplate `json:"template"`
	Confidence  float64                `json:"confidence"`
	UseCount    int64                  `json:"use_count"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Matches reports whether the rule fires on the message. Pattern values are
// stored lowercase; the caller normalizes the message the same way.
func (r *Rule) Matches(from, senderDomain, subject string) bool {
	switch r.PatternType {
	case PatternExactSender:
		return from == r.Pattern
	case PatternSenderDomain:
		return senderDomain == r.Pattern
	case PatternSubjectContains:
		return r.Pattern != "" && strings.Contains(strings.ToLower(subject), r.Pattern)
	default:
		return false
	}
}
