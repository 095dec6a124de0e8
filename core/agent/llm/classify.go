package llm

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// schemaRetries is how many times a schema-invalid response is re-requested
// before the call fails with LLMSchemaInvalid. One retry recovers the
// occasional malformed response; more just burns budget.
const schemaRetries = 1

// ClassifyEmail runs the primary classification call and returns a validated
// record with decider=llm and model/prompt versions pinned.
func (c *Client) ClassifyEmail(ctx context.Context, email *domain.InboundEmail) (*out.ClassifyResult, error) {
	from, subject, snippet := sanitizeEmail(email)
	userPrompt := classifyUserPrompt(from, subject, snippet, email.HasAttachment)

	var lastErr error
	for attempt := 0; attempt <= schemaRetries; attempt++ {
		content, u, err := c.completeJSON(ctx, classifySystemPrompt, userPrompt)
		if err != nil {
			return nil, err
		}
		c.recordCost(ctx, "", "classify", u)

		var resp classifyResponse
		if err := parseJSON(content, &resp); err != nil {
			lastErr = fmt.Errorf("classify response: %w", err)
			continue
		}
		classification, err := resp.toClassification(email.ID, c.countCollapsed)
		if err != nil {
			lastErr = fmt.Errorf("classify response: %w", err)
			continue
		}
		classification.ModelVersion = c.model
		classification.PromptVersion = c.promptVersion
		if err := classification.Validate(); err != nil {
			lastErr = err
			continue
		}
		return &out.ClassifyResult{
			Classification: *classification,
			InputTokens:    u.InputTokens,
			OutputTokens:   u.OutputTokens,
			DurationMS:     u.DurationMS,
		}, nil
	}
	return nil, apperr.LLMSchemaInvalid(lastErr)
}

// VerifyClassification asks for a second opinion on a low-band primary
// result. The verdict carries the verifier's own confidence; acceptance
// policy belongs to the caller.
func (c *Client) VerifyClassification(ctx context.Context, email *domain.InboundEmail, original *domain.Classification) (*out.VerifyVerdict, error) {
	from, subject, snippet := sanitizeEmail(email)
	proposed, err := json.Marshal(original)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	userPrompt := verifyUserPrompt(from, subject, snippet, string(proposed))

	var lastErr error
	for attempt := 0; attempt <= schemaRetries; attempt++ {
		content, u, err := c.completeJSON(ctx, verifySystemPrompt, userPrompt)
		if err != nil {
			return nil, err
		}
		c.recordCost(ctx, "", "verify", u)

		var resp verifyResponse
		if err := parseJSON(content, &resp); err != nil {
			lastErr = fmt.Errorf("verify response: %w", err)
			continue
		}
		if resp.Verdict != "confirm" && resp.Verdict != "reject" {
			lastErr = fmt.Errorf("verify response: unknown verdict %q", resp.Verdict)
			continue
		}
		verdict := &out.VerifyVerdict{
			Verdict:    resp.Verdict,
			Confidence: clamp01(resp.Confidence),
		}
		if resp.Verdict == "reject" {
			if resp.Correction == nil {
				lastErr = fmt.Errorf("verify response: reject without correction")
				continue
			}
			correction, err := resp.Correction.toClassification(email.ID, c.countCollapsed)
			if err != nil {
				lastErr = fmt.Errorf("verify correction: %w", err)
				continue
			}
			correction.Decider = domain.DeciderVerifier
			correction.ModelVersion = c.model
			correction.PromptVersion = c.promptVersion
			if err := correction.Validate(); err != nil {
				lastErr = err
				continue
			}
			verdict.Correction = correction
		}
		return verdict, nil
	}
	return nil, apperr.LLMSchemaInvalid(lastErr)
}

// ExtractEntities pulls structured facts out of one message. Entities with
// an unknown variant or an empty natural key are dropped, not errors; the
// digest renders whatever survived.
func (c *Client) ExtractEntities(ctx context.Context, email *domain.InboundEmail) ([]out.ExtractedEntity, error) {
	from, subject, snippet := sanitizeEmail(email)
	userPrompt := extractUserPrompt(from, subject, snippet)

	var lastErr error
	for attempt := 0; attempt <= schemaRetries; attempt++ {
		content, u, err := c.completeJSON(ctx, extractSystemPrompt, userPrompt)
		if err != nil {
			return nil, err
		}
		c.recordCost(ctx, "", "extract", u)

		var resp extractResponse
		if err := parseJSON(content, &resp); err != nil {
			lastErr = fmt.Errorf("extract response: %w", err)
			continue
		}
		entities := make([]out.ExtractedEntity, 0, len(resp.Entities))
		for _, e := range resp.Entities {
			if !validVariants[e.Variant] || e.NaturalKey == "" {
				c.countCollapsed("entity_variant", e.Variant)
				continue
			}
			entities = append(entities, out.ExtractedEntity{
				Variant:    domain.EntityVariant(e.Variant),
				NaturalKey: e.NaturalKey,
				Payload:    e.Payload,
			})
		}
		return entities, nil
	}
	return nil, apperr.LLMSchemaInvalid(lastErr)
}

// countCollapsed logs out-of-whitelist enum values collapsed to defaults.
func (c *Client) countCollapsed(field, value string) {
	c.logger.Warn().Str("field", field).Str("value", value).Msg("enum value outside whitelist collapsed")
}
