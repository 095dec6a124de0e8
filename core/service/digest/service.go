package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"mailsense/config"
	"mailsense/core/domain"
	"mailsense/core/port/out"
	"mailsense/pkg/apperr"
)

// Service runs digest sessions: one validated pipeline shared by all runs,
// single-flight per (user_id, session_id), and a session audit row per run.
type Service struct {
	pipeline *Pipeline
	sessions out.SessionRepository
	clock    domain.Clock
	logger   zerolog.Logger
	group    singleflight.Group
}

// Request is one digest invocation. Now is resolved by the caller: the
// injected clock in production, the override in test mode.
type Request struct {
	UserID    string
	SessionID string
	Messages  []domain.ClassifiedEmail
	Timezone  string
	Now       time.Time
}

func NewService(
	llm out.LLMPort,
	links *LinkBuilder,
	greeter GreetingProvider,
	runtime *config.Runtime,
	sessions out.SessionRepository,
	clock domain.Clock,
	logger zerolog.Logger,
) (*Service, error) {
	llmEnabled := func() bool { return runtime.FeatureEnabled(config.FeatureLLMExtraction) }
	pipeline, err := NewPipeline([]*Stage{
		temporalStage(),
		intrinsicStage(),
		decayStage(),
		entityStage(llm, llmEnabled),
		enrichStage(links, greeter),
		renderStage(links),
		validateStage(links),
	})
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Service{
		pipeline: pipeline,
		sessions: sessions,
		clock:    clock,
		logger:   logger.With().Str("component", "digest").Logger(),
	}, nil
}

// Run executes one digest session. Concurrent requests for the same
// (user_id, session_id) coalesce onto one execution and share the result.
func (s *Service) Run(ctx context.Context, req *Request) (*domain.DigestDTO, error) {
	if req.UserID == "" {
		return nil, apperr.InvalidInput("user_id", "required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Now.IsZero() {
		req.Now = s.clock.Now()
	}

	key := req.UserID + "/" + req.SessionID
	result, err, _ := s.group.Do(key, func() (any, error) {
		return s.run(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.DigestDTO), nil
}

func (s *Service) run(ctx context.Context, req *Request) (*domain.DigestDTO, error) {
	loc := time.UTC
	var warnings []string
	if req.Timezone != "" {
		parsed, err := time.LoadLocation(req.Timezone)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unknown timezone %q, using UTC", req.Timezone))
		} else {
			loc = parsed
		}
	}

	session := &domain.Session{
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		Now:             req.Now,
		Timezone:        loc.String(),
		InputMessageIDs: messageIDs(req.Messages),
		DeciderCounts:   deciderCounts(req.Messages),
		Status:          domain.SessionRunning,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperr.Storage("session create", err)
	}

	rc := NewRunContext(req.Now, loc, req.Messages)
	if err := s.pipeline.Execute(ctx, rc); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The partial row stays with status=aborted; startup reaping
			// catches rows where even this write was lost.
			if markErr := s.sessions.MarkAborted(context.WithoutCancel(ctx), req.SessionID); markErr != nil {
				s.logger.Error().Err(markErr).Str("session_id", req.SessionID).Msg("abort mark failed")
			}
			return nil, err
		}
		// A contract violation means a stage broke its declaration. The run
		// falls back to the minimal digest rather than emitting a broken one.
		s.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("pipeline aborted, rendering fallback")
		warnings = append(warnings, "digest degraded: "+err.Error())
		t1, _ := rc.value(KeyT1Sections).(map[string]domain.DigestSection)
		html, index := renderFallback(t1)
		return s.finish(ctx, session, rc, html, index, warnings), nil
	}

	html, _ := rc.value(KeyHTML).(string)
	index, _ := rc.value(KeySectionIndex).(map[domain.DigestSection][]int)
	if html == "" {
		warnings = append(warnings, "render produced no output, using fallback")
		t1, _ := rc.value(KeyT1Sections).(map[string]domain.DigestSection)
		html, index = renderFallback(t1)
	}
	return s.finish(ctx, session, rc, html, index, warnings), nil
}

func (s *Service) finish(
	ctx context.Context,
	session *domain.Session,
	rc *RunContext,
	html string,
	index map[domain.DigestSection][]int,
	warnings []string,
) *domain.DigestDTO {
	sum := sha256.Sum256([]byte(html))
	session.OutputHTMLSHA = hex.EncodeToString(sum[:])
	session.StageTimings = rc.StageTimings()
	session.Status = domain.SessionComplete
	session.UpdatedAt = s.clock.Now()
	if err := s.sessions.Complete(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.SessionID).Msg("session audit write failed")
	}

	if index == nil {
		index = map[domain.DigestSection][]int{}
	}
	return &domain.DigestDTO{
		HTML:         html,
		SessionID:    session.SessionID,
		SectionIndex: index,
		Warnings:     append(warnings, rc.Warnings()...),
	}
}

// ReapStaleSessions marks sessions still running after maxAge as aborted.
// Called once at startup.
func (s *Service) ReapStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.sessions.ReapStale(ctx, s.clock.Now().Add(-maxAge))
}

func messageIDs(messages []domain.ClassifiedEmail) []string {
	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].Email.ID
	}
	return ids
}

func deciderCounts(messages []domain.ClassifiedEmail) map[string]int64 {
	counts := make(map[string]int64)
	for i := range messages {
		counts[string(messages[i].Classification.Decider)]++
	}
	return counts
}
