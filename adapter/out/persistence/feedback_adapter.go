package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"mailsense/core/domain"
)

// FeedbackAdapter implements out.FeedbackRepository. RecordAndLearn runs
// correction insert, pattern upsert, and rule promotion in one transaction
// so a crash never leaves a counted correction without its patterns.
type FeedbackAdapter struct {
	db    *sqlx.DB
	clock domain.Clock
}

func NewFeedbackAdapter(db *sqlx.DB, clock domain.Clock) *FeedbackAdapter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &FeedbackAdapter{db: db, clock: clock}
}

type correctionRow struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	MessageID string    `db:"message_id"`
	FromAddr  string    `db:"from_addr"`
	Subject   string    `db:"subject"`
	Original  string    `db:"original"`
	Corrected string    `db:"corrected"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *correctionRow) toEntity() (*domain.Correction, error) {
	c := &domain.Correction{
		ID:        r.ID,
		UserID:    r.UserID,
		MessageID: r.MessageID,
		From:      r.FromAddr,
		Subject:   r.Subject,
		CreatedAt: r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.Original), &c.Original); err != nil {
		return nil, fmt.Errorf("correction %d: bad original: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Corrected), &c.Corrected); err != nil {
		return nil, fmt.Errorf("correction %d: bad corrected: %w", r.ID, err)
	}
	return c, nil
}

type patternRow struct {
	ID           int64     `db:"id"`
	UserID       string    `db:"user_id"`
	PatternType  string    `db:"pattern_type"`
	Pattern      string    `db:"pattern"`
	SupportCount int64     `db:"support_count"`
	Template     string    `db:"template"`
	FirstSeen    time.Time `db:"first_seen"`
	LastSeen     time.Time `db:"last_seen"`
}

func (r *patternRow) toEntity() (*domain.LearnedPattern, error) {
	p := &domain.LearnedPattern{
		ID:           r.ID,
		UserID:       r.UserID,
		PatternType:  domain.PatternType(r.PatternType),
		Pattern:      r.Pattern,
		SupportCount: r.SupportCount,
		FirstSeen:    r.FirstSeen,
		LastSeen:     r.LastSeen,
	}
	if err := json.Unmarshal([]byte(r.Template), &p.Template); err != nil {
		return nil, fmt.Errorf("pattern %d: bad template: %w", r.ID, err)
	}
	return p, nil
}

func (a *FeedbackAdapter) RecordAndLearn(ctx context.Context, correction *domain.Correction) (int64, *int64, error) {
	now := a.clock.Now()
	if correction.CreatedAt.IsZero() {
		correction.CreatedAt = now
	}

	original, err := json.Marshal(correction.Original)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal original: %w", err)
	}
	corrected, err := json.Marshal(correction.Corrected)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal corrected: %w", err)
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO corrections (user_id, message_id, from_addr, subject, original, corrected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		correction.UserID, correction.MessageID, correction.From, correction.Subject,
		string(original), string(corrected), correction.CreatedAt)
	if err != nil {
		return 0, nil, fmt.Errorf("insert correction: %w", err)
	}
	correctionID, _ := result.LastInsertId()

	var promotedRuleID *int64
	for _, candidate := range correction.DerivePatterns() {
		updated, err := upsertPattern(ctx, tx, &candidate, now)
		if err != nil {
			return 0, nil, err
		}
		if !updated.ReadyToPromote() {
			continue
		}
		ruleID, err := a.promote(ctx, tx, updated, now)
		if err != nil {
			return 0, nil, err
		}
		if ruleID != nil && promotedRuleID == nil {
			promotedRuleID = ruleID
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit: %w", err)
	}
	correction.ID = correctionID
	return correctionID, promotedRuleID, nil
}

// upsertPattern increments support for an existing candidate or starts one
// at support 1, and returns the row as stored.
func upsertPattern(ctx context.Context, tx *sqlx.Tx, candidate *domain.LearnedPattern, now time.Time) (*domain.LearnedPattern, error) {
	template, err := json.Marshal(candidate.Template)
	if err != nil {
		return nil, fmt.Errorf("marshal pattern template: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO learned_patterns (user_id, pattern_type, pattern, support_count, template, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT (user_id, pattern_type, pattern)
		DO UPDATE SET support_count = support_count + 1, last_seen = excluded.last_seen`,
		candidate.UserID, candidate.PatternType, candidate.Pattern, string(template), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert pattern: %w", err)
	}

	var row patternRow
	err = tx.GetContext(ctx, &row, `
		SELECT * FROM learned_patterns
		WHERE user_id = ? AND pattern_type = ? AND pattern = ?`,
		candidate.UserID, candidate.PatternType, candidate.Pattern)
	if err != nil {
		return nil, fmt.Errorf("read pattern: %w", err)
	}
	return row.toEntity()
}

// promote turns a supported pattern into a rule, or parks it in
// pending_rules when a higher-precedence rule with a different template
// already covers it. The unique index on rules makes concurrent identical
// corrections create at most one rule.
func (a *FeedbackAdapter) promote(ctx context.Context, tx *sqlx.Tx, pattern *domain.LearnedPattern, now time.Time) (*int64, error) {
	template, err := json.Marshal(pattern.Template)
	if err != nil {
		return nil, fmt.Errorf("marshal rule template: %w", err)
	}

	conflict, err := findConflictingTx(ctx, tx, pattern.UserID, pattern)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_rules (user_id, pattern_type, pattern, template, blocked_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			pattern.UserID, pattern.PatternType, pattern.Pattern, string(template), conflict.ID, now)
		if err != nil {
			return nil, fmt.Errorf("insert pending rule: %w", err)
		}
		return nil, nil
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO rules (user_id, pattern_type, pattern, template, template_type, confidence, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (user_id, pattern_type, pattern, template_type) DO NOTHING`,
		pattern.UserID, pattern.PatternType, pattern.Pattern, string(template),
		pattern.Template.Type, pattern.PromotedConfidence(), now, now)
	if err != nil {
		return nil, fmt.Errorf("promote rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Already promoted by an earlier correction.
		return nil, nil
	}
	id, _ := result.LastInsertId()
	return &id, nil
}

func (a *FeedbackAdapter) ListCorrections(ctx context.Context, userID string, limit int) ([]*domain.Correction, error) {
	var rows []correctionRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT * FROM corrections
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	corrections := make([]*domain.Correction, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		corrections = append(corrections, c)
	}
	return corrections, nil
}

func (a *FeedbackAdapter) GetPattern(ctx context.Context, userID string, patternType domain.PatternType, pattern string) (*domain.LearnedPattern, error) {
	var row patternRow
	err := a.db.GetContext(ctx, &row, `
		SELECT * FROM learned_patterns
		WHERE user_id = ? AND pattern_type = ? AND pattern = ?`,
		userID, patternType, pattern)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return row.toEntity()
}
