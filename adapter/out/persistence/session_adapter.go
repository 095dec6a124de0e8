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

// SessionAdapter implements out.SessionRepository.
type SessionAdapter struct {
	db    *sqlx.DB
	clock domain.Clock
}

func NewSessionAdapter(db *sqlx.DB, clock domain.Clock) *SessionAdapter {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &SessionAdapter{db: db, clock: clock}
}

type sessionRow struct {
	SessionID       string    `db:"session_id"`
	UserID          string    `db:"user_id"`
	NowTS           time.Time `db:"now_ts"`
	Timezone        string    `db:"timezone"`
	InputMessageIDs string    `db:"input_message_ids"`
	OutputHTMLSHA   string    `db:"output_html_sha"`
	StageTimings    string    `db:"stage_timings"`
	DeciderCounts   string    `db:"decider_counts"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *sessionRow) toEntity() (*domain.Session, error) {
	s := &domain.Session{
		SessionID:     r.SessionID,
		UserID:        r.UserID,
		Now:           r.NowTS,
		Timezone:      r.Timezone,
		OutputHTMLSHA: r.OutputHTMLSHA,
		Status:        domain.SessionStatus(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.InputMessageIDs), &s.InputMessageIDs); err != nil {
		return nil, fmt.Errorf("session %s: bad input_message_ids: %w", r.SessionID, err)
	}
	if err := json.Unmarshal([]byte(r.StageTimings), &s.StageTimings); err != nil {
		return nil, fmt.Errorf("session %s: bad stage_timings: %w", r.SessionID, err)
	}
	if err := json.Unmarshal([]byte(r.DeciderCounts), &s.DeciderCounts); err != nil {
		return nil, fmt.Errorf("session %s: bad decider_counts: %w", r.SessionID, err)
	}
	return s, nil
}

func (a *SessionAdapter) Create(ctx context.Context, s *domain.Session) error {
	ids, err := json.Marshal(s.InputMessageIDs)
	if err != nil {
		return fmt.Errorf("marshal input ids: %w", err)
	}
	counts, err := json.Marshal(s.DeciderCounts)
	if err != nil {
		return fmt.Errorf("marshal decider counts: %w", err)
	}
	now := a.clock.Now()
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, now_ts, timezone, input_message_ids, decider_counts, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.UserID, s.Now, s.Timezone, string(ids), string(counts),
		domain.SessionRunning, now, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (a *SessionAdapter) Complete(ctx context.Context, s *domain.Session) error {
	timings, err := json.Marshal(s.StageTimings)
	if err != nil {
		return fmt.Errorf("marshal stage timings: %w", err)
	}
	result, err := a.db.ExecContext(ctx, `
		UPDATE sessions
		SET output_html_sha = ?, stage_timings = ?, status = ?, updated_at = ?
		WHERE session_id = ?`,
		s.OutputHTMLSHA, string(timings), domain.SessionComplete, a.clock.Now(), s.SessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (a *SessionAdapter) MarkAborted(ctx context.Context, sessionID string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE session_id = ? AND status = ?`,
		domain.SessionAborted, a.clock.Now(), sessionID, domain.SessionRunning)
	if err != nil {
		return fmt.Errorf("mark aborted: %w", err)
	}
	return nil
}

// ReapStale marks sessions left running before cutoff as aborted. Rows get
// into this state when the process dies mid-run.
func (a *SessionAdapter) ReapStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		domain.SessionAborted, a.clock.Now(), domain.SessionRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (a *SessionAdapter) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	var row sessionRow
	err := a.db.GetContext(ctx, &row, `
		SELECT * FROM sessions WHERE session_id = ? AND user_id = ?`,
		sessionID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return row.toEntity()
}
