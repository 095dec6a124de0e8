package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"mailsense/core/domain"
)

// AuditAdapter implements out.AuditRepository. The full record is stored as
// JSON next to indexed columns so it survives schema drift in Classification.
type AuditAdapter struct {
	db    *sqlx.DB
	clock domain.Clock
}

func NewAuditAdapter(db *sqlx.DB, clock domain.Clock) *AuditAdapter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &AuditAdapter{db: db, clock: clock}
}

type classificationRow struct {
	ID            int64     `db:"id"`
	UserID        string    `db:"user_id"`
	MessageID     string    `db:"message_id"`
	Type          string    `db:"type"`
	TypeConf      float64   `db:"type_conf"`
	Decider       string    `db:"decider"`
	Record        string    `db:"record"`
	ModelVersion  string    `db:"model_version"`
	PromptVersion string    `db:"prompt_version"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *classificationRow) toEntity() (*domain.Classification, error) {
	var c domain.Classification
	if err := json.Unmarshal([]byte(r.Record), &c); err != nil {
		return nil, fmt.Errorf("classification %d: bad record: %w", r.ID, err)
	}
	return &c, nil
}

func (a *AuditAdapter) RecordClassification(ctx context.Context, userID string, c *domain.Classification) error {
	record, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO classifications (user_id, message_id, type, type_conf, decider, record, model_version, prompt_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, c.MessageID, c.Type, c.TypeConf, c.Decider,
		string(record), c.ModelVersion, c.PromptVersion, a.clock.Now())
	if err != nil {
		return fmt.Errorf("record classification: %w", err)
	}
	return nil
}

func (a *AuditAdapter) RecordVerifierOutcome(ctx context.Context, userID, messageID, verdict string, accepted bool) error {
	acceptedInt := 0
	if accepted {
		acceptedInt = 1
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO feedback (user_id, message_id, kind, verdict, accepted, created_at)
		VALUES (?, ?, 'verifier', ?, ?, ?)`,
		userID, messageID, verdict, acceptedInt, a.clock.Now())
	if err != nil {
		return fmt.Errorf("record verifier outcome: %w", err)
	}
	return nil
}

func (a *AuditAdapter) ListRecent(ctx context.Context, userID string, limit int) ([]*domain.Classification, error) {
	var rows []classificationRow
	err := a.db.SelectContext(ctx, &rows, `
		SELECT * FROM classifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list classifications: %w", err)
	}
	out := make([]*domain.Classification, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
