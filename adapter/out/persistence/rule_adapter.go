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

// RuleAdapter implements out.RuleRepository.
type RuleAdapter struct {
	db    *sqlx.DB
	clock domain.Clock
}

func NewRuleAdapter(db *sqlx.DB, clock domain.Clock) *RuleAdapter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &RuleAdapter{db: db, clock: clock}
}

type ruleRow struct {
	ID           int64     `db:"id"`
	UserID       string    `db:"user_id"`
	PatternType  string    `db:"pattern_type"`
	Pattern      string    `db:"pattern"`
	Template     string    `db:"template"`
	TemplateType string    `db:"template_type"`
	Confidence   float64   `db:"confidence"`
	UseCount     int64     `db:"use_count"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *ruleRow) toEntity() (*domain.Rule, error) {
	var template domain.ClassificationTemplate
	if err := json.Unmarshal([]byte(r.Template), &template); err != nil {
		return nil, fmt.Errorf("rule %d: bad template: %w", r.ID, err)
	}
	return &domain.Rule{
		ID:          r.ID,
		UserID:      r.UserID,
		PatternType: domain.PatternType(r.PatternType),
		Pattern:     r.Pattern,
		Template:    template,
		Confidence:  r.Confidence,
		UseCount:    r.UseCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (a *RuleAdapter) ListByUser(ctx context.Context, userID string) ([]*domain.Rule, error) {
	var rows []ruleRow
	query := `SELECT * FROM rules WHERE user_id = ? ORDER BY updated_at DESC, id DESC`
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	rules := make([]*domain.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (a *RuleAdapter) Create(ctx context.Context, rule *domain.Rule) error {
	template, err := json.Marshal(rule.Template)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	now := a.clock.Now()
	result, err := a.db.ExecContext(ctx, `
		INSERT INTO rules (user_id, pattern_type, pattern, template, template_type, confidence, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rule.UserID, rule.PatternType, rule.Pattern, string(template), rule.Template.Type,
		rule.Confidence, now, now)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	rule.ID, _ = result.LastInsertId()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

func (a *RuleAdapter) Delete(ctx context.Context, userID string, id int64) error {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM rules WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IncrementUseCount commits immediately; rule usage must survive a crash
// that follows the classification response.
func (a *RuleAdapter) IncrementUseCount(ctx context.Context, id int64) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE rules SET use_count = use_count + 1, updated_at = ? WHERE id = ?`,
		a.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("increment use_count: %w", err)
	}
	return nil
}

// FindConflicting returns an existing rule of higher pattern precedence for
// the same user whose template type differs from the candidate's.
func (a *RuleAdapter) FindConflicting(ctx context.Context, userID string, candidate *domain.LearnedPattern) (*domain.Rule, error) {
	return findConflictingTx(ctx, a.db, userID, candidate)
}

// queryer covers *sqlx.DB and *sqlx.Tx so the promotion transaction can
// reuse the lookup.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

func findConflictingTx(ctx context.Context, q queryer, userID string, candidate *domain.LearnedPattern) (*domain.Rule, error) {
	// Only a domain-wide candidate can be shadowed by a narrower rule: an
	// exact-sender rule inside that domain with a different template type.
	if candidate.PatternType != domain.PatternSenderDomain {
		return nil, nil
	}

	var row ruleRow
	err := q.GetContext(ctx, &row, `
		SELECT * FROM rules
		WHERE user_id = ? AND pattern_type = ? AND pattern LIKE '%@' || ? AND template_type != ?
		LIMIT 1`,
		userID, domain.PatternExactSender, candidate.Pattern, candidate.Template.Type)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find conflicting rule: %w", err)
	}
	return row.toEntity()
}
