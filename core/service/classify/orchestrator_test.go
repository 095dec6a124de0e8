package classify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailsense/config"
	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// ---- mocks ----

type mockLLM struct {
	classifyResult *out.ClassifyResult
	classifyErr    error
	classifyCalls  int
	verifyVerdict  *out.VerifyVerdict
	verifyErr      error
	verifyCalls    int
}

func (m *mockLLM) ClassifyEmail(ctx context.Context, email *domain.InboundEmail) (*out.ClassifyResult, error) {
	m.classifyCalls++
	if m.classifyErr != nil {
		return nil, m.classifyErr
	}
	result := *m.classifyResult
	result.Classification.MessageID = email.ID
	return &result, nil
}

func (m *mockLLM) VerifyClassification(ctx context.Context, email *domain.InboundEmail, original *domain.Classification) (*out.VerifyVerdict, error) {
	m.verifyCalls++
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if m.verifyVerdict == nil {
		return &out.VerifyVerdict{Verdict: "confirm", Confidence: 1}, nil
	}
	return m.verifyVerdict, nil
}

func (m *mockLLM) ExtractEntities(ctx context.Context, email *domain.InboundEmail) ([]out.ExtractedEntity, error) {
	return nil, nil
}
func (m *mockLLM) ModelVersion() string           { return "test-model" }
func (m *mockLLM) PromptVersion() string          { return "test-prompt" }
func (m *mockLLM) Ping(ctx context.Context) error { return nil }

type mockRuleRepo struct {
	rules      []*domain.Rule
	increments []int64
}

func (m *mockRuleRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Rule, error) {
	return m.rules, nil
}
func (m *mockRuleRepo) Create(ctx context.Context, rule *domain.Rule) error { return nil }
func (m *mockRuleRepo) Delete(ctx context.Context, userID string, id int64) error {
	return nil
}
func (m *mockRuleRepo) IncrementUseCount(ctx context.Context, id int64) error {
	m.increments = append(m.increments, id)
	return nil
}
func (m *mockRuleRepo) FindConflicting(ctx context.Context, userID string, candidate *domain.LearnedPattern) (*domain.Rule, error) {
	return nil, nil
}

type mockAudit struct {
	classifications []*domain.Classification
	verdicts        []string
}

func (m *mockAudit) RecordClassification(ctx context.Context, userID string, c *domain.Classification) error {
	m.classifications = append(m.classifications, c)
	return nil
}
func (m *mockAudit) RecordVerifierOutcome(ctx context.Context, userID, messageID, verdict string, accepted bool) error {
	m.verdicts = append(m.verdicts, verdict)
	return nil
}
func (m *mockAudit) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.Classification, error) {
	return nil, nil
}

type mockLearner struct {
	corrections []*domain.Correction
}

func (m *mockLearner) RecordAndLearn(ctx context.Context, c *domain.Correction) (int64, *int64, error) {
	m.corrections = append(m.corrections, c)
	return int64(len(m.corrections)), nil, nil
}

type passBreaker struct{}

func (passBreaker) Execute(ctx context.Context, fn func() error) error { return fn() }

// ---- fixtures ----

type fixture struct {
	llm     *mockLLM
	rules   *mockRuleRepo
	audit   *mockAudit
	learner *mockLearner
	orch    *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		llm:     &mockLLM{},
		rules:   &mockRuleRepo{},
		audit:   &mockAudit{},
		learner: &mockLearner{},
	}
	runtime := config.NewRuntime(config.DefaultPolicy())
	clock := domain.FixedClock{T: time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)}
	logger := zerolog.Nop()
	f.orch = NewOrchestrator(
		NewTypeMapper(),
		NewRuleStore(f.rules, logger),
		f.llm,
		passBreaker{},
		f.learner,
		f.audit,
		runtime,
		clock,
		logger,
	)
	return f
}

func llmResult(typ domain.EmailType, conf float64) *out.ClassifyResult {
	return &out.ClassifyResult{
		Classification: domain.Classification{
			Type:         typ,
			TypeConf:     conf,
			Attention:    domain.AttentionNone,
			Importance:   domain.ImportanceRoutine,
			Relationship: domain.FromUnknown,
			ClientLabel:  domain.LabelEverythingElse,
			Decider:      domain.DeciderLLM,
		},
	}
}

// ---- type mapper tier ----

func TestOTPDetector(t *testing.T) {
	f := newFixture(t)
	email := &domain.InboundEmail{
		ID:      "m1",
		From:    "security@bank.example",
		Subject: "Your verification code is 123456",
		Snippet: "Do not share",
	}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Type != domain.TypeOTP {
		t.Errorf("type = %s, want otp", c.Type)
	}
	if c.Decider != domain.DeciderDetector {
		t.Errorf("decider = %s, want detector", c.Decider)
	}
	if c.ClientLabel != domain.LabelActionRequired {
		t.Errorf("client_label = %s, want action-required", c.ClientLabel)
	}
	if c.TypeConf < 0.95 {
		t.Errorf("type_conf = %v, want >= 0.95", c.TypeConf)
	}
	if f.llm.classifyCalls != 0 {
		t.Errorf("llm was called %d times for a detector hit", f.llm.classifyCalls)
	}
}

func TestTypeMapperDoesNotFireOnPlainMail(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypeMessage, 0.90)
	email := &domain.InboundEmail{
		ID:      "m2",
		From:    "alice@friends.example",
		Subject: "Lunch next week?",
		Snippet: "Are you free on Thursday",
	}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Decider != domain.DeciderLLM {
		t.Errorf("decider = %s, want llm (mapper must not fire)", c.Decider)
	}
}

// ---- rule tier ----

func TestLearnedRuleSkipsLLM(t *testing.T) {
	f := newFixture(t)
	f.rules.rules = []*domain.Rule{{
		ID:          7,
		UserID:      "user-1",
		PatternType: domain.PatternExactSender,
		Pattern:     "auto-confirm@retailer.example",
		Template: domain.ClassificationTemplate{
			Type:       domain.TypeReceipt,
			Attention:  domain.AttentionNone,
			Importance: domain.ImportanceRoutine,
			Label:      domain.LabelReceipts,
		},
		Confidence: 0.85,
	}}
	email := &domain.InboundEmail{
		ID:      "m3",
		From:    "auto-confirm@retailer.example",
		Subject: "Order #A-101",
	}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Decider != domain.DeciderRule {
		t.Errorf("decider = %s, want rule", c.Decider)
	}
	if c.Type != domain.TypeReceipt {
		t.Errorf("type = %s, want receipt", c.Type)
	}
	if f.llm.classifyCalls != 0 {
		t.Errorf("llm called %d times despite rule hit", f.llm.classifyCalls)
	}
	if len(f.rules.increments) != 1 || f.rules.increments[0] != 7 {
		t.Errorf("use_count increment = %v, want [7]", f.rules.increments)
	}
}

// ---- gate ----

func TestGateDemotesUncertainLLM(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypeNewsletter, 0.68)
	email := &domain.InboundEmail{ID: "m4", From: "weekly@blog.example", Subject: "Issue 42"}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Type != domain.TypeUncategorized {
		t.Errorf("type = %s, want uncategorized", c.Type)
	}
	if c.ClientLabel != domain.LabelEverythingElse {
		t.Errorf("client_label = %s, want everything-else", c.ClientLabel)
	}
	if c.Decider != domain.DeciderLLM {
		t.Errorf("decider = %s, want llm", c.Decider)
	}
	if !strings.Contains(c.Reason, "below type gate") {
		t.Errorf("reason %q should mention the type gate", c.Reason)
	}
}

func TestGateBoundaryIsInclusive(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypeMessage, 0.70)
	email := &domain.InboundEmail{ID: "m5", From: "bob@peers.example", Subject: "Quick question"}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Type != domain.TypeMessage {
		t.Errorf("type = %s, want message (gate is inclusive at the threshold)", c.Type)
	}
}

func TestGateMonotonicity(t *testing.T) {
	pol := config.DefaultPolicy()
	base := &domain.Classification{
		MessageID: "m", Type: domain.TypeMessage, TypeConf: 0.75,
		Attention: domain.AttentionNone, Importance: domain.ImportanceRoutine,
		Relationship: domain.FromUnknown, ClientLabel: domain.LabelMessages,
		Decider: domain.DeciderLLM,
	}

	loose := *base
	applyGate(&loose, pol)

	strictPol := *pol
	strictPol.MinTypeConf = 0.80
	strict := *base
	applyGate(&strict, &strictPol)

	if loose.Type == domain.TypeUncategorized && strict.Type != domain.TypeUncategorized {
		t.Error("raising the gate un-demoted a result")
	}
	if strict.Type != domain.TypeUncategorized {
		t.Error("0.75 under a 0.80 gate should demote")
	}
}

// ---- verifier ----

func TestVerifierRejectAccepted(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypePromotion, 0.72)
	f.llm.verifyVerdict = &out.VerifyVerdict{
		Verdict:    "reject",
		Confidence: 0.9,
		Correction: &domain.Classification{
			Type: domain.TypeReceipt, TypeConf: 0.90,
			Attention: domain.AttentionNone, Importance: domain.ImportanceRoutine,
			Relationship: domain.FromUnknown, ClientLabel: domain.LabelReceipts,
			Decider: domain.DeciderVerifier,
		},
	}
	email := &domain.InboundEmail{
		ID:      "m6",
		From:    "store@shop.example",
		Subject: "Thanks for shopping",
		Snippet: "Order #B-2041 total $31.99",
	}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Type != domain.TypeReceipt {
		t.Errorf("type = %s, want receipt", c.Type)
	}
	if c.Decider != domain.DeciderVerifier {
		t.Errorf("decider = %s, want verifier", c.Decider)
	}
	if len(f.audit.verdicts) != 1 || f.audit.verdicts[0] != "reject" {
		t.Errorf("audited verdicts = %v, want [reject]", f.audit.verdicts)
	}
}

func TestVerifierRejectBelowDeltaKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypePromotion, 0.80)
	f.llm.verifyVerdict = &out.VerifyVerdict{
		Verdict:    "reject",
		Confidence: 0.7,
		Correction: &domain.Classification{
			Type: domain.TypeReceipt, TypeConf: 0.88, // delta 0.08 < 0.15
			Attention: domain.AttentionNone, Importance: domain.ImportanceRoutine,
			Relationship: domain.FromUnknown, ClientLabel: domain.LabelReceipts,
			Decider: domain.DeciderVerifier,
		},
	}
	email := &domain.InboundEmail{ID: "m7", From: "deals@shop.example", Subject: "Weekend sale ends"}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Type != domain.TypePromotion {
		t.Errorf("type = %s, want promotion (delta below accept threshold)", c.Type)
	}
}

func TestVerifierSkippedOutsideBand(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypeMessage, 0.95)
	email := &domain.InboundEmail{ID: "m8", From: "carol@peers.example", Subject: "Notes from today"}

	if _, err := f.orch.Classify(context.Background(), "user-1", email); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if f.llm.verifyCalls != 0 {
		t.Errorf("verifier called %d times for a high-confidence result", f.llm.verifyCalls)
	}
}

// ---- fallback and learning ----

func TestFallbackOnLLMError(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyErr = apperr.LLMTransient(errors.New("upstream 503"))
	email := &domain.InboundEmail{ID: "m9", From: "dave@peers.example", Subject: "hello"}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify should not fail on llm error: %v", err)
	}
	if c.Decider != domain.DeciderFallback {
		t.Errorf("decider = %s, want fallback", c.Decider)
	}
	if c.Type != domain.TypeUncategorized || c.TypeConf != 0.0 {
		t.Errorf("fallback = %s/%v, want uncategorized/0.0", c.Type, c.TypeConf)
	}
	if len(f.learner.corrections) != 0 {
		t.Error("fallback result must not be learned from")
	}
}

func TestConfidentLLMResultIsLearned(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypeReceipt, 0.90)
	email := &domain.InboundEmail{
		ID:      "m10",
		From:    "auto-confirm@retailer.example",
		Subject: "We got your return",
	}

	c, err := f.orch.Classify(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if c.Decider != domain.DeciderLLM {
		t.Fatalf("decider = %s, want llm", c.Decider)
	}
	if len(f.learner.corrections) != 1 {
		t.Fatalf("learner writes = %d, want 1", len(f.learner.corrections))
	}
	if got := f.learner.corrections[0].From; got != "auto-confirm@retailer.example" {
		t.Errorf("learned from = %s", got)
	}
}

func TestDemotedResultNotLearned(t *testing.T) {
	f := newFixture(t)
	f.llm.classifyResult = llmResult(domain.TypeNewsletter, 0.65)
	email := &domain.InboundEmail{ID: "m11", From: "weekly@blog.example", Subject: "Issue 43"}

	if _, err := f.orch.Classify(context.Background(), "user-1", email); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(f.learner.corrections) != 0 {
		t.Error("a gated-down result must not be learned from")
	}
}
