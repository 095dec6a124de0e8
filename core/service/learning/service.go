// Package learning turns user corrections into learned rules. One entry
// point, RecordAndLearn, with every write on its contract: the correction
// row, both derived pattern candidates, and a possible rule promotion, all
// inside one storage transaction.
package learning

import (
	"context"

	"github.com/rs/zerolog"

	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// RuleCacheInvalidator drops a user's cached rule snapshot after a write.
// Implemented by the classifier's rule store.
type RuleCacheInvalidator interface {
	Invalidate(userID string)
}

type Service struct {
	repo   out.FeedbackRepository
	cache  RuleCacheInvalidator
	clock  domain.Clock
	logger zerolog.Logger
}

func NewService(repo out.FeedbackRepository, cache RuleCacheInvalidator, clock domain.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		clock:  clock,
		logger: logger.With().Str("component", "learning").Logger(),
	}
}

// RecordAndLearn validates and persists one correction, counts its derived
// patterns, and promotes any pattern that reached support. Writes: one row
// in corrections, upserts in learned_patterns, at most one insert in rules.
// All three happen in a single transaction so concurrent identical
// corrections create at most one rule per (user, pattern).
func (s *Service) RecordAndLearn(ctx context.Context, correction *domain.Correction) (int64, *int64, error) {
	if correction.UserID == "" {
		return 0, nil, apperr.InvalidInput("user_id", "required")
	}
	if correction.MessageID == "" {
		return 0, nil, apperr.InvalidInput("message_id", "required")
	}
	if correction.From == "" {
		return 0, nil, apperr.InvalidInput("from", "required")
	}
	if err := correction.Corrected.Validate(); err != nil {
		return 0, nil, apperr.InvalidInput("corrected", err.Error()).WithError(err)
	}
	if correction.CreatedAt.IsZero() {
		correction.CreatedAt = s.clock.Now()
	}

	correctionID, promotedRuleID, err := s.repo.RecordAndLearn(ctx, correction)
	if err != nil {
		return 0, nil, err
	}

	if promotedRuleID != nil {
		s.logger.Info().
			Str("user_id", correction.UserID).
			Int64("rule_id", *promotedRuleID).
			Msg("pattern promoted to rule")
		if s.cache != nil {
			s.cache.Invalidate(correction.UserID)
		}
	}
	return correctionID, promotedRuleID, nil
}

// ListCorrections returns a user's recent corrections, newest first.
func (s *Service) ListCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListCorrections(ctx, userID, limit)
}
