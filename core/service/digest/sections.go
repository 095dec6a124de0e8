package digest

import (
	"context"
	"time"

	"mailsense/core/domain"
)

// Intrinsic section assignment (T0) and temporal decay (T1). T0 looks only
// at what a message is; T1 is the single place "now" enters the pipeline.

// assignIntrinsic maps one classified message to its T0 section using only
// {type, importance, temporal presence}. No clock.
func assignIntrinsic(c *domain.Classification, tc *domain.TemporalContext) domain.DigestSection {
	switch {
	case c.Type == domain.TypeOTP:
		// Too short-lived to digest.
		return domain.SectionSkip
	case c.Importance == domain.ImportanceCritical:
		return domain.SectionCritical
	case c.Importance == domain.ImportanceTimeSensitive && tc.HasAnyTimestamp():
		return domain.SectionToday
	default:
		return domain.SectionEverythingElse
	}
}

// decayGrace absorbs client-timezone skew: events are not skipped until an
// hour past their end.
const decayGrace = time.Hour

// decaySection applies the now-relative rules to a T0 section. First match
// wins. A critical T0 without event timestamps never demotes.
func decaySection(t0 domain.DigestSection, tc *domain.TemporalContext, importance domain.Importance, now time.Time) domain.DigestSection {
	if t0 == domain.SectionSkip {
		return domain.SectionSkip
	}
	hasEvent := tc != nil && (tc.EventStart != nil || tc.EventEnd != nil)
	if t0 == domain.SectionCritical && !hasEvent {
		return domain.SectionCritical
	}
	if tc == nil {
		return t0
	}

	if hasEvent {
		start := tc.EventStart
		end := tc.EventEnd
		switch {
		case end != nil && end.Before(now.Add(-decayGrace)):
			return domain.SectionSkip
		case end == nil && start != nil && start.Before(now.Add(-decayGrace)):
			return domain.SectionSkip
		}
		if start != nil {
			until := start.Sub(now)
			switch {
			case absDuration(until) <= decayGrace:
				return domain.SectionCritical
			case until <= 24*time.Hour:
				return domain.SectionToday
			case until <= 7*24*time.Hour: // inclusive: exactly 7d is coming_up
				return domain.SectionComingUp
			default:
				return domain.SectionWorthKnowing
			}
		}
	}

	if tc.DeliveryDate != nil {
		age := now.Sub(*tc.DeliveryDate)
		switch {
		case age >= -decayGrace && age <= 24*time.Hour:
			return domain.SectionToday
		case age > 24*time.Hour && importance == domain.ImportanceRoutine:
			return domain.SectionEverythingElse
		}
	}

	if tc.PurchaseDate != nil && tc.PurchaseDate.Before(now) && importance == domain.ImportanceRoutine {
		return domain.SectionEverythingElse
	}

	return t0
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func intrinsicStage() *Stage {
	return &Stage{
		Name:      "section_assign",
		DependsOn: []string{"temporal_extract"},
		Inputs:    []Key{KeyMessages, KeyTemporal},
		Outputs:   []Key{KeyT0Sections},
		Run: func(ctx context.Context, sc *StageContext) error {
			mv, err := sc.Get(KeyMessages)
			if err != nil {
				return err
			}
			tv, err := sc.Get(KeyTemporal)
			if err != nil {
				return err
			}
			messages := mv.([]domain.ClassifiedEmail)
			temporal := tv.(map[string]*domain.TemporalContext)

			t0 := make(map[string]domain.DigestSection, len(messages))
			for i := range messages {
				msg := &messages[i]
				t0[msg.Email.ID] = assignIntrinsic(&msg.Classification, temporal[msg.Email.ID])
			}
			return sc.Set(KeyT0Sections, t0)
		},
	}
}

func decayStage() *Stage {
	return &Stage{
		Name:      "section_decay",
		DependsOn: []string{"section_assign"},
		Inputs:    []Key{KeyMessages, KeyTemporal, KeyT0Sections},
		Outputs:   []Key{KeyT1Sections},
		Run: func(ctx context.Context, sc *StageContext) error {
			mv, err := sc.Get(KeyMessages)
			if err != nil {
				return err
			}
			tv, err := sc.Get(KeyTemporal)
			if err != nil {
				return err
			}
			t0v, err := sc.Get(KeyT0Sections)
			if err != nil {
				return err
			}
			messages := mv.([]domain.ClassifiedEmail)
			temporal := tv.(map[string]*domain.TemporalContext)
			t0 := t0v.(map[string]domain.DigestSection)

			t1 := make(map[string]domain.DigestSection, len(messages))
			for i := range messages {
				msg := &messages[i]
				id := msg.Email.ID
				t1[id] = decaySection(t0[id], temporal[id], msg.Classification.Importance, sc.Now())
			}
			return sc.Set(KeyT1Sections, t1)
		},
	}
}
