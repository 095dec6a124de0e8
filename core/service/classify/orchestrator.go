package classify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"mailsense/config"
	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// Learner records a confirmation or correction and drives pattern learning.
// Implemented by the learning service.
type Learner interface {
	RecordAndLearn(ctx context.Context, correction *domain.Correction) (int64, *int64, error)
}

// Breaker gates LLM admission. Implemented by ratelimit.CostBreaker.
type Breaker interface {
	Execute(ctx context.Context, fn func() error) error
}

// Orchestrator runs the classification tiers in strict order: type mapper,
// learned rules, LLM, then selective verification. The confidence gate
// applies to every result; learning writes happen strictly after the final
// classification is decided.
type Orchestrator struct {
	mapper  *TypeMapper
	rules   *RuleStore
	llm     out.LLMPort
	breaker Breaker
	learner Learner
	audit   out.AuditRepository
	runtime *config.Runtime
	clock   domain.Clock
	logger  zerolog.Logger
}

func NewOrchestrator(
	mapper *TypeMapper,
	rules *RuleStore,
	llm out.LLMPort,
	breaker Breaker,
	learner Learner,
	audit out.AuditRepository,
	runtime *config.Runtime,
	clock domain.Clock,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		mapper:  mapper,
		rules:   rules,
		llm:     llm,
		breaker: breaker,
		learner: learner,
		audit:   audit,
		runtime: runtime,
		clock:   clock,
		logger:  logger.With().Str("component", "classifier").Logger(),
	}
}

// Classify produces one classification for one message. It never returns an
// error for LLM failures; those degrade to a fallback result so a batch can
// always complete. Storage errors on the deterministic tiers do surface.
func (o *Orchestrator) Classify(ctx context.Context, userID string, email *domain.InboundEmail) (*domain.Classification, error) {
	pol := o.runtime.Policy()

	if c := o.mapper.Match(email); c != nil {
		c = applyGate(c, &pol)
		o.recordAudit(ctx, userID, c)
		return c, nil
	}

	c, err := o.rules.MatchAndTrackUsage(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	if c != nil {
		c = applyGate(c, &pol)
		o.recordAudit(ctx, userID, c)
		return c, nil
	}

	if !o.runtime.FeatureEnabled(config.FeatureLLMClassify) {
		return fallback(email.ID, "llm tier disabled"), nil
	}

	var result *out.ClassifyResult
	err = o.breaker.Execute(ctx, func() error {
		var callErr error
		result, callErr = o.llm.ClassifyEmail(ctx, email)
		return callErr
	})
	if err != nil {
		// A cancelled request writes nothing and learns nothing.
		if errors.Is(err, context.Canceled) {
			return nil, apperr.LLMTimeout(err)
		}
		o.logger.Warn().Err(err).Str("message_id", email.ID).Msg("llm classify failed, using fallback")
		fb := fallback(email.ID, fallbackReason(err))
		o.recordAudit(ctx, userID, fb)
		return fb, nil
	}

	c = &result.Classification
	verified := false
	if o.runtime.FeatureEnabled(config.FeatureVerifier) && verifierTrigger(email, c, &pol) {
		c = o.reconsider(ctx, userID, email, c, &pol)
		verified = c.Decider == domain.DeciderVerifier
	}

	c = applyGate(c, &pol)
	o.recordAudit(ctx, userID, c)

	if o.learnEligible(c, verified, &pol) {
		o.recordCandidate(ctx, userID, email, c)
	}
	return c, nil
}

// learnEligible: only confident LLM-tier results feed the learning loop.
// Demoted (uncategorized) results never do.
func (o *Orchestrator) learnEligible(c *domain.Classification, verified bool, pol *config.Policy) bool {
	if !o.runtime.FeatureEnabled(config.FeatureLearning) {
		return false
	}
	if c.Decider != domain.DeciderLLM && !verified {
		return false
	}
	return c.Type != domain.TypeUncategorized && c.TypeConf >= pol.LearningMinConf
}

// recordCandidate feeds a confident classification into pattern learning as
// a self-confirmation. A learner write failure never fails the classify.
func (o *Orchestrator) recordCandidate(ctx context.Context, userID string, email *domain.InboundEmail, c *domain.Classification) {
	correction := &domain.Correction{
		UserID:    userID,
		MessageID: email.ID,
		From:      email.From,
		Subject:   email.Subject,
		Original:  *c,
		Corrected: *c,
		CreatedAt: o.clock.Now(),
	}
	if _, promoted, err := o.learner.RecordAndLearn(ctx, correction); err != nil {
		o.logger.Error().Err(err).Str("message_id", email.ID).Msg("learning write failed")
	} else if promoted != nil {
		o.rules.Invalidate(userID)
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, userID string, c *domain.Classification) {
	if err := o.audit.RecordClassification(ctx, userID, c); err != nil {
		o.logger.Error().Err(err).Str("message_id", c.MessageID).Msg("classification audit write failed")
	}
}

// fallback is the degraded result for an unusable LLM tier. Never learned
// from, always uncategorized with zero confidence.
func fallback(messageID, reason string) *domain.Classification {
	return &domain.Classification{
		MessageID:    messageID,
		Type:         domain.TypeUncategorized,
		TypeConf:     0.0,
		Attention:    domain.AttentionNone,
		Importance:   domain.ImportanceRoutine,
		Relationship: domain.FromUnknown,
		ClientLabel:  domain.LabelEverythingElse,
		Decider:      domain.DeciderFallback,
		Reason:       reason,
	}
}

func fallbackReason(err error) string {
	switch {
	case apperr.IsKind(err, apperr.KindCircuitOpen):
		return "llm circuit open"
	case apperr.IsKind(err, apperr.KindLLMTimeout):
		return "llm timeout"
	case apperr.IsKind(err, apperr.KindLLMSchemaInvalid):
		return "llm schema invalid"
	case apperr.IsKind(err, apperr.KindLLMRefused):
		return "llm refused"
	default:
		return "llm unavailable"
	}
}
