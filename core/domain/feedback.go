package domain

import (
	"strings"
	"time"
)

// Correction is one user correction of a classification. Append-only.
type Correction struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	MessageID string         `json:"message_id"`
	From      string         `json:"from"`
	Subject   string         `json:"subject"`
	Original  Classification `json:"original_classification"`
	Corrected Classification `json:"corrected_classification"`
	CreatedAt time.Time      `json:"created_at"`
}

// DerivePatterns returns the rule candidates this correction supports: an
// exact-sender pattern and, when the address has a domain, a sender-domain
// pattern. Both carry the corrected classification as template and are
// counted independently.
func (c *Correction) DerivePatterns() []LearnedPattern {
	from := strings.ToLower(strings.TrimSpace(c.From))
	if from == "" {
		return nil
	}
	template := ClassificationTemplate{
		Type:       c.Corrected.Type,
		Domains:    c.Corrected.Domains,
		Attention:  c.Corrected.Attention,
		Importance: c.Corrected.Importance,
		Label:      c.Corrected.ClientLabel,
	}
	patterns := []LearnedPattern{{
		UserID:      c.UserID,
		PatternType: PatternExactSender,
		Pattern:     from,
		Template:    template,
	}}
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		patterns = append(patterns, LearnedPattern{
			UserID:      c.UserID,
			PatternType: PatternSenderDomain,
			Pattern:     from[at+1:],
			Template:    template,
		})
	}
	return patterns
}

// PromotionSupport is how many independent corrections a pattern needs
// before it becomes a rule.
const PromotionSupport = 2

// LearnedPattern is a rule candidate accumulating support from corrections.
type LearnedPattern struct {
	ID           int64                  `json:"id"`
	UserID       string                 `json:"user_id"`
	PatternType  PatternType            `json:"pattern_type"`
	Pattern      string                 `json:"pattern"`
	SupportCount int64                  `json:"support_count"`
	Template     ClassificationTemplate `json:"template"`
	FirstSeen    time.Time              `json:"first_seen"`
	LastSeen     time.Time              `json:"last_seen"`
}

// ReadyToPromote reports whether the pattern has enough support.
func (p *LearnedPattern) ReadyToPromote() bool {
	return p.SupportCount >= PromotionSupport
}

// PromotedConfidence grows with support and saturates at 0.95 so a learned
// rule never outranks the deterministic type mapper.
func (p *LearnedPattern) PromotedConfidence() float64 {
	conf := 0.70 + 0.05*float64(p.SupportCount)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
