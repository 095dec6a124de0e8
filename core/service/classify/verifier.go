package classify

import (
	"context"
	"regexp"
	"strings"

	"mailsense/config"
	"mailsense/core/domain"
)

// orderNumberRe spots order/confirmation identifiers. A promotion carrying
// one is usually a misread receipt.
var orderNumberRe = regexp.MustCompile(`(?i)\b(order|confirmation|invoice|ref(erence)?)\s*(number|no\.?|#|id)?[:\s]*#?[A-Z0-9][A-Z0-9-]{3,}\b`)

// multiPurposeSenders are domains that send receipts, promotions, and
// notifications from the same addresses. Their primary classifications are
// always worth a second look inside the band.
var multiPurposeSenders = map[string]bool{
	"amazon.com": true,
	"google.com": true,
	"apple.com":  true,
	"paypal.com": true,
	"ebay.com":   true,
}

// verifierTrigger decides whether a primary LLM result goes to the second
// pass: type_conf inside the [lo, hi] band, a detected contradiction, or a
// multi-purpose sender.
func verifierTrigger(email *domain.InboundEmail, c *domain.Classification, pol *config.Policy) bool {
	if c.TypeConf >= pol.VerifierTriggerLo && c.TypeConf <= pol.VerifierTriggerHi {
		return true
	}
	if hasContradiction(email, c) {
		return true
	}
	return multiPurposeSenders[strings.ToLower(email.SenderDomain())]
}

// hasContradiction checks the primary result against cheap textual signals.
func hasContradiction(email *domain.InboundEmail, c *domain.Classification) bool {
	text := email.Subject + " " + email.Snippet
	switch c.Type {
	case domain.TypePromotion, domain.TypeNewsletter:
		return orderNumberRe.MatchString(text)
	default:
		return false
	}
}

// reconsider runs the verifier and applies the acceptance policy: a reject
// replaces the original only when the correction's type_conf exceeds the
// original's by at least the accept delta. Both outcomes are audited.
func (o *Orchestrator) reconsider(ctx context.Context, userID string, email *domain.InboundEmail, original *domain.Classification, pol *config.Policy) *domain.Classification {
	verdict, err := o.llm.VerifyClassification(ctx, email, original)
	if err != nil {
		// Verification is best-effort; the primary result stands.
		o.logger.Warn().Err(err).Str("message_id", email.ID).Msg("verifier call failed")
		return original
	}

	accepted := false
	result := original
	if verdict.Verdict == "reject" && verdict.Correction != nil &&
		verdict.Correction.TypeConf-original.TypeConf >= pol.VerifierAcceptDelta {
		accepted = true
		result = verdict.Correction
	}

	if err := o.audit.RecordVerifierOutcome(ctx, userID, email.ID, verdict.Verdict, accepted); err != nil {
		o.logger.Error().Err(err).Str("message_id", email.ID).Msg("verifier audit write failed")
	}
	return result
}
