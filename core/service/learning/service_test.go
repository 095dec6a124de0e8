package learning

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailsense/core/domain"
	"mailsense/pkg/apperr"
)

type mockFeedbackRepo struct {
	corrections []*domain.Correction
	promoteAt   int // promotion fires on this call number, 0 = never
}

func (m *mockFeedbackRepo) RecordAndLearn(ctx context.Context, c *domain.Correction) (int64, *int64, error) {
	m.corrections = append(m.corrections, c)
	id := int64(len(m.corrections))
	if m.promoteAt > 0 && len(m.corrections) == m.promoteAt {
		ruleID := int64(100 + id)
		return id, &ruleID, nil
	}
	return id, nil, nil
}

func (m *mockFeedbackRepo) ListCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	return m.corrections, nil
}

func (m *mockFeedbackRepo) GetPattern(ctx context.Context, userID string, pt domain.PatternType, pattern string) (*domain.LearnedPattern, error) {
	return nil, nil
}

type mockInvalidator struct {
	users []string
}

func (m *mockInvalidator) Invalidate(userID string) { m.users = append(m.users, userID) }

func validCorrection() *domain.Correction {
	c := domain.Classification{
		MessageID: "m1", Type: domain.TypeReceipt, TypeConf: 0.9,
		Attention: domain.AttentionNone, Importance: domain.ImportanceRoutine,
		Relationship: domain.FromUnknown, ClientLabel: domain.LabelReceipts,
		Decider: domain.DeciderLLM,
	}
	return &domain.Correction{
		UserID:    "user-1",
		MessageID: "m1",
		From:      "auto-confirm@retailer.example",
		Subject:   "Order #A-100",
		Original:  c,
		Corrected: c,
	}
}

func newService(repo *mockFeedbackRepo, cache *mockInvalidator) *Service {
	clock := domain.FixedClock{T: time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)}
	return NewService(repo, cache, clock, zerolog.Nop())
}

func TestRecordAndLearnWritesCorrection(t *testing.T) {
	repo := &mockFeedbackRepo{}
	s := newService(repo, &mockInvalidator{})

	id, promoted, err := s.RecordAndLearn(context.Background(), validCorrection())
	if err != nil {
		t.Fatalf("RecordAndLearn: %v", err)
	}
	if id != 1 {
		t.Errorf("correction id = %d, want 1", id)
	}
	if promoted != nil {
		t.Errorf("unexpected promotion on first correction")
	}
	if len(repo.corrections) != 1 {
		t.Fatalf("repo writes = %d, want 1", len(repo.corrections))
	}
	if repo.corrections[0].CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestPromotionInvalidatesRuleCache(t *testing.T) {
	repo := &mockFeedbackRepo{promoteAt: 2}
	cache := &mockInvalidator{}
	s := newService(repo, cache)

	if _, _, err := s.RecordAndLearn(context.Background(), validCorrection()); err != nil {
		t.Fatalf("first correction: %v", err)
	}
	_, promoted, err := s.RecordAndLearn(context.Background(), validCorrection())
	if err != nil {
		t.Fatalf("second correction: %v", err)
	}
	if promoted == nil {
		t.Fatal("second correction should promote")
	}
	if len(cache.users) != 1 || cache.users[0] != "user-1" {
		t.Errorf("cache invalidations = %v, want [user-1]", cache.users)
	}
}

func TestRecordAndLearnRejectsInvalidInput(t *testing.T) {
	s := newService(&mockFeedbackRepo{}, &mockInvalidator{})

	tests := []struct {
		name   string
		mutate func(*domain.Correction)
	}{
		{"missing user", func(c *domain.Correction) { c.UserID = "" }},
		{"missing message", func(c *domain.Correction) { c.MessageID = "" }},
		{"missing from", func(c *domain.Correction) { c.From = "" }},
		{"invalid corrected type", func(c *domain.Correction) { c.Corrected.Type = "junk" }},
		{"conf out of range", func(c *domain.Correction) { c.Corrected.TypeConf = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCorrection()
			tt.mutate(c)
			_, _, err := s.RecordAndLearn(context.Background(), c)
			if !apperr.IsKind(err, apperr.KindInvalidInput) {
				t.Errorf("err = %v, want InvalidInput", err)
			}
		})
	}
}

func TestDerivePatterns(t *testing.T) {
	c := validCorrection()
	patterns := c.DerivePatterns()
	if len(patterns) != 2 {
		t.Fatalf("patterns = %d, want 2", len(patterns))
	}
	if patterns[0].PatternType != domain.PatternExactSender || patterns[0].Pattern != "auto-confirm@retailer.example" {
		t.Errorf("first pattern = %s %q", patterns[0].PatternType, patterns[0].Pattern)
	}
	if patterns[1].PatternType != domain.PatternSenderDomain || patterns[1].Pattern != "retailer.example" {
		t.Errorf("second pattern = %s %q", patterns[1].PatternType, patterns[1].Pattern)
	}
	for _, p := range patterns {
		if p.Template.Type != domain.TypeReceipt {
			t.Errorf("template type = %s, want receipt", p.Template.Type)
		}
	}
}
