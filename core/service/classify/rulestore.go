package classify

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"mailsense/core/domain"
	"mailsense/core/port/out"
)

// RuleStore serves per-user learned rules with a read-mostly cache. The
// cache is copy-on-write: a user's slice is replaced wholesale on
// invalidation, never mutated in place, so concurrent matchers read a
// consistent snapshot without locking per rule.
type RuleStore struct {
	repo   out.RuleRepository
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]*domain.Rule
}

func NewRuleStore(repo out.RuleRepository, logger zerolog.Logger) *RuleStore {
	return &RuleStore{
		repo:   repo,
		logger: logger.With().Str("component", "rulestore").Logger(),
		cache:  make(map[string][]*domain.Rule),
	}
}

// MatchAndTrackUsage returns the best matching rule's classification for the
// message, or nil when no rule fires. The name is honest about the side
// effect: the matched rule's use_count increment is committed before this
// returns, so usage survives process exit.
func (s *RuleStore) MatchAndTrackUsage(ctx context.Context, userID string, email *domain.InboundEmail) (*domain.Classification, error) {
	rules, err := s.rulesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	from := strings.ToLower(email.From)
	senderDomain := strings.ToLower(email.SenderDomain())

	var best *domain.Rule
	for _, r := range rules {
		if !r.Matches(from, senderDomain, email.Subject) {
			continue
		}
		if best == nil || outranks(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := s.repo.IncrementUseCount(ctx, best.ID); err != nil {
		return nil, err
	}
	s.Invalidate(userID)

	return apply(email, best), nil
}

// outranks orders candidate rules: confidence, then pattern-type priority
// (exact sender > sender domain > subject), then use_count, then recency.
func outranks(a, b *domain.Rule) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if pa, pb := a.PatternType.Priority(), b.PatternType.Priority(); pa != pb {
		return pa > pb
	}
	if a.UseCount != b.UseCount {
		return a.UseCount > b.UseCount
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// apply materializes the rule's template as a classification with
// decider=rule. Template confidences inherit the rule's confidence.
func apply(email *domain.InboundEmail, r *domain.Rule) *domain.Classification {
	c := &domain.Classification{
		MessageID:      email.ID,
		Type:           r.Template.Type,
		TypeConf:       r.Confidence,
		Domains:        r.Template.Domains,
		Attention:      r.Template.Attention,
		AttentionConf:  r.Confidence,
		Importance:     r.Template.Importance,
		ImportanceConf: r.Confidence,
		Relationship:   domain.FromContact,
		ClientLabel:    r.Template.Label,
		Decider:        domain.DeciderRule,
		Reason:         "learned rule " + string(r.PatternType),
	}
	if len(r.Template.Domains) > 0 {
		c.DomainConf = make(map[domain.EmailDomain]float64, len(r.Template.Domains))
		for _, d := range r.Template.Domains {
			c.DomainConf[d] = r.Confidence
		}
	}
	return c
}

// rulesFor returns the cached snapshot, loading on miss.
func (s *RuleStore) rulesFor(ctx context.Context, userID string) ([]*domain.Rule, error) {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	rules, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return outranks(rules[i], rules[j]) })

	s.mu.Lock()
	s.cache[userID] = rules
	s.mu.Unlock()
	return rules, nil
}

// Invalidate drops one user's snapshot. Called after any rule write.
func (s *RuleStore) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}
