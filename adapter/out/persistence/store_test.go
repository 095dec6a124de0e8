package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsense/core/domain"
)

func openTestDB(t *testing.T) *testDeps {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	clock := domain.FixedClock{T: time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)}
	return &testDeps{
		db:       db,
		clock:    clock,
		rules:    NewRuleAdapter(db, clock),
		feedback: NewFeedbackAdapter(db, clock),
		audit:    NewAuditAdapter(db, clock),
		sessions: NewSessionAdapter(db, clock),
		costs:    NewCostAdapter(db, clock),
	}
}

type testDeps struct {
	db       *sqlx.DB
	clock    domain.FixedClock
	rules    *RuleAdapter
	feedback *FeedbackAdapter
	audit    *AuditAdapter
	sessions *SessionAdapter
	costs    *CostAdapter
}

func receiptTemplate() domain.ClassificationTemplate {
	return domain.ClassificationTemplate{
		Type:       domain.TypeReceipt,
		Domains:    []domain.EmailDomain{domain.DomainShopping},
		Attention:  domain.AttentionNone,
		Importance: domain.ImportanceRoutine,
		Label:      domain.LabelReceipts,
	}
}

func correction(userID, messageID, from string) *domain.Correction {
	original := domain.Classification{
		MessageID: messageID, Type: domain.TypePromotion, TypeConf: 0.8,
		Attention: domain.AttentionNone, Importance: domain.ImportanceRoutine,
		Relationship: domain.FromUnknown, ClientLabel: domain.LabelEverythingElse,
		Decider: domain.DeciderLLM,
	}
	corrected := original
	corrected.Type = domain.TypeReceipt
	corrected.Domains = []domain.EmailDomain{domain.DomainShopping}
	corrected.ClientLabel = domain.LabelReceipts
	corrected.Decider = domain.DeciderLLM
	return &domain.Correction{
		UserID: userID, MessageID: messageID, From: from,
		Subject: "Your order", Original: original, Corrected: corrected,
	}
}

func TestRuleRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rule := &domain.Rule{
		UserID:      "user-a",
		PatternType: domain.PatternExactSender,
		Pattern:     "receipts@shop.example",
		Template:    receiptTemplate(),
		Confidence:  0.85,
	}
	require.NoError(t, d.rules.Create(ctx, rule))
	require.NotZero(t, rule.ID)

	rules, err := d.rules.ListByUser(ctx, "user-a")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "receipts@shop.example", rules[0].Pattern)
	assert.Equal(t, domain.TypeReceipt, rules[0].Template.Type)
	assert.Equal(t, []domain.EmailDomain{domain.DomainShopping}, rules[0].Template.Domains)

	require.NoError(t, d.rules.IncrementUseCount(ctx, rule.ID))
	rules, err = d.rules.ListByUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rules[0].UseCount)

	require.NoError(t, d.rules.Delete(ctx, "user-a", rule.ID))
	rules, err = d.rules.ListByUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleDeleteWrongUser(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	rule := &domain.Rule{
		UserID: "user-a", PatternType: domain.PatternExactSender,
		Pattern: "receipts@shop.example", Template: receiptTemplate(), Confidence: 0.85,
	}
	require.NoError(t, d.rules.Create(ctx, rule))

	err := d.rules.Delete(ctx, "user-b", rule.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	rules, err := d.rules.ListByUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, rules, 1, "foreign user delete must not remove the rule")
}

func TestFeedbackPromotesAtSupportTwo(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	id1, promoted1, err := d.feedback.RecordAndLearn(ctx, correction("user-a", "m1", "auto-confirm@retailer.example"))
	require.NoError(t, err)
	assert.NotZero(t, id1)
	assert.Nil(t, promoted1, "one correction must not promote")

	pattern, err := d.feedback.GetPattern(ctx, "user-a", domain.PatternExactSender, "auto-confirm@retailer.example")
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, int64(1), pattern.SupportCount)

	_, promoted2, err := d.feedback.RecordAndLearn(ctx, correction("user-a", "m2", "auto-confirm@retailer.example"))
	require.NoError(t, err)
	require.NotNil(t, promoted2, "second correction must promote")

	rules, err := d.rules.ListByUser(ctx, "user-a")
	require.NoError(t, err)
	var exact *domain.Rule
	for _, r := range rules {
		if r.PatternType == domain.PatternExactSender {
			exact = r
		}
	}
	require.NotNil(t, exact)
	assert.Equal(t, "auto-confirm@retailer.example", exact.Pattern)
	assert.Equal(t, domain.TypeReceipt, exact.Template.Type)
	assert.InDelta(t, 0.80, exact.Confidence, 1e-9)
}

func TestFeedbackPromotionIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	for _, msg := range []string{"m1", "m2", "m3"} {
		_, _, err := d.feedback.RecordAndLearn(ctx, correction("user-a", msg, "auto-confirm@retailer.example"))
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, d.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM rules WHERE user_id = ? AND pattern_type = ?`,
		"user-a", domain.PatternExactSender))
	assert.Equal(t, 1, count, "repeated support must keep a single rule")
}

func TestFeedbackConflictingPatternGoesPending(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	// An exact-sender rule with a different template type already covers an
	// address in the candidate domain.
	existing := &domain.Rule{
		UserID:      "user-a",
		PatternType: domain.PatternExactSender,
		Pattern:     "alerts@retailer.example",
		Template: domain.ClassificationTemplate{
			Type: domain.TypeNotification, Attention: domain.AttentionNone,
			Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse,
		},
		Confidence: 0.9,
	}
	require.NoError(t, d.rules.Create(ctx, existing))

	_, _, err := d.feedback.RecordAndLearn(ctx, correction("user-a", "m1", "auto-confirm@retailer.example"))
	require.NoError(t, err)
	_, _, err = d.feedback.RecordAndLearn(ctx, correction("user-a", "m2", "orders@retailer.example"))
	require.NoError(t, err)

	// The sender_domain pattern hit support 2 but is blocked; the exact
	// senders each have support 1 and stay unpromoted.
	var domainRules int
	require.NoError(t, d.db.GetContext(ctx, &domainRules,
		`SELECT COUNT(*) FROM rules WHERE user_id = ? AND pattern_type = ?`,
		"user-a", domain.PatternSenderDomain))
	assert.Zero(t, domainRules)

	var pending int
	require.NoError(t, d.db.GetContext(ctx, &pending,
		`SELECT COUNT(*) FROM pending_rules WHERE user_id = ? AND blocked_by = ?`,
		"user-a", existing.ID))
	assert.Equal(t, 1, pending)
}

func TestFeedbackTenancyIsolation(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	_, _, err := d.feedback.RecordAndLearn(ctx, correction("user-a", "m1", "auto-confirm@retailer.example"))
	require.NoError(t, err)
	_, _, err = d.feedback.RecordAndLearn(ctx, correction("user-b", "m1", "auto-confirm@retailer.example"))
	require.NoError(t, err)

	// Same sender across two users never pools support.
	pattern, err := d.feedback.GetPattern(ctx, "user-a", domain.PatternExactSender, "auto-confirm@retailer.example")
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, int64(1), pattern.SupportCount)

	corrections, err := d.feedback.ListCorrections(ctx, "user-a", 50)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, "user-a", corrections[0].UserID)
}

func TestAuditRoundTrip(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	c := &domain.Classification{
		MessageID: "m1", Type: domain.TypeReceipt, TypeConf: 0.91,
		Attention: domain.AttentionNone, AttentionConf: 0.9,
		Importance: domain.ImportanceRoutine, ImportanceConf: 0.9,
		Relationship: domain.FromUnknown, ClientLabel: domain.LabelReceipts,
		Decider: domain.DeciderLLM, ModelVersion: "gpt-4o-mini", PromptVersion: "v3",
	}
	require.NoError(t, d.audit.RecordClassification(ctx, "user-a", c))
	require.NoError(t, d.audit.RecordVerifierOutcome(ctx, "user-a", "m1", "confirm", true))

	recent, err := d.audit.ListRecent(ctx, "user-a", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.TypeReceipt, recent[0].Type)
	assert.Equal(t, "gpt-4o-mini", recent[0].ModelVersion)

	other, err := d.audit.ListRecent(ctx, "user-b", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSessionLifecycleAndReap(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := d.clock.Now()

	running := &domain.Session{
		SessionID: "s-running", UserID: "user-a", Now: now, Timezone: "UTC",
		InputMessageIDs: []string{"m1", "m2"}, DeciderCounts: map[string]int64{"llm": 2},
		Status: domain.SessionRunning,
	}
	require.NoError(t, d.sessions.Create(ctx, running))

	done := &domain.Session{
		SessionID: "s-done", UserID: "user-a", Now: now, Timezone: "UTC",
		InputMessageIDs: []string{"m3"}, DeciderCounts: map[string]int64{"rule": 1},
		Status: domain.SessionRunning,
	}
	require.NoError(t, d.sessions.Create(ctx, done))
	done.OutputHTMLSHA = "abc123"
	done.StageTimings = map[string]int64{"synthesize": 4}
	require.NoError(t, d.sessions.Complete(ctx, done))

	reaped, err := d.sessions.ReapStale(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped, "only the running session is stale")

	got, err := d.sessions.Get(ctx, "user-a", "s-running")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionAborted, got.Status)

	got, err = d.sessions.Get(ctx, "user-a", "s-done")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.SessionComplete, got.Status)
	assert.Equal(t, "abc123", got.OutputHTMLSHA)
	assert.Equal(t, int64(4), got.StageTimings["synthesize"])

	// Tenancy: another user cannot read the session.
	got, err = d.sessions.Get(ctx, "user-b", "s-done")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCostSpendSince(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	now := d.clock.Now()

	old := &domain.CostEvent{
		Operation: "classify", ModelVersion: "gpt-4o-mini",
		CostUSDEst: 1.00, CreatedAt: now.Add(-48 * time.Hour),
	}
	require.NoError(t, d.costs.Record(ctx, old))
	for i := 0; i < 3; i++ {
		require.NoError(t, d.costs.Record(ctx, &domain.CostEvent{
			Operation: "classify", ModelVersion: "gpt-4o-mini",
			CostUSDEst: 0.25, CreatedAt: now.Add(-time.Hour),
		}))
	}

	total, err := d.costs.SpendSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-9, "spend outside the window must not count")
}
