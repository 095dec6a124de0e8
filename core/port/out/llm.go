package out

import (
	"context"

	"mailsense/core/domain"
)

// ClassifyResult is the schema-validated output of a primary LLM call.
type ClassifyResult struct {
	Classification domain.Classification
	InputTokens    int
	OutputTokens   int
	DurationMS     int64
}

// VerifyVerdict is the verifier's judgement of a primary classification.
type VerifyVerdict struct {
	Verdict    string // "confirm" or "reject"
	Confidence float64
	Correction *domain.Classification // set when verdict is reject
}

// ExtractedEntity is one LLM-extracted entity before domain conversion.
type ExtractedEntity struct {
	Variant    domain.EntityVariant
	NaturalKey string
	Payload    map[string]string
}

// LLMPort is the language-model boundary. Implementations own retries,
// deadlines, schema validation, and telemetry; callers only see validated
// results or tagged errors (LLMTransient, LLMSchemaInvalid, LLMTimeout,
// LLMRefused).
type LLMPort interface {
	ClassifyEmail(ctx context.Context, email *domain.InboundEmail) (*ClassifyResult, error)
	VerifyClassification(ctx context.Context, email *domain.InboundEmail, original *domain.Classification) (*VerifyVerdict, error)
	ExtractEntities(ctx context.Context, email *domain.InboundEmail) ([]ExtractedEntity, error)
	ModelVersion() string
	PromptVersion() string
	Ping(ctx context.Context) error
}
