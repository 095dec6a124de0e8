package digest

import (
	"context"
	"fmt"
	"time"

	"mailsense/core/domain"
)

// Enrichment: resolved importance mirrors the T1 decision, relative-time
// labels render in the user timezone, and every entity gets a deep link.
// The greeting comes from an optional collaborator with a static fallback.

// GreetingProvider is an optional collaborator (weather, location). A nil
// provider or an error falls back to the static greeting.
type GreetingProvider interface {
	Greeting(ctx context.Context, now time.Time, loc *time.Location) (string, error)
}

// sectionImportance mirrors a T1 section back onto the entity.
func sectionImportance(section domain.DigestSection, intrinsic domain.Importance) domain.Importance {
	switch section {
	case domain.SectionCritical:
		return domain.ImportanceCritical
	case domain.SectionToday, domain.SectionComingUp:
		return domain.ImportanceTimeSensitive
	case domain.SectionWorthKnowing, domain.SectionEverythingElse:
		return domain.ImportanceRoutine
	default:
		return intrinsic
	}
}

// relativeLabel renders an event time against now, in the user's timezone.
func relativeLabel(now, t time.Time, loc *time.Location) string {
	nowL := now.In(loc)
	tL := t.In(loc)
	d := tL.Sub(nowL)

	sameDay := nowL.Year() == tL.Year() && nowL.YearDay() == tL.YearDay()
	tomorrow := nowL.AddDate(0, 0, 1)
	isTomorrow := tomorrow.Year() == tL.Year() && tomorrow.YearDay() == tL.YearDay()

	switch {
	case d < 0 && sameDay:
		return "earlier today"
	case d < 0:
		return tL.Format("Mon, Jan 2")
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins <= 1 {
			return "now"
		}
		return fmt.Sprintf("in %d minutes", mins)
	case sameDay:
		hours := int(d.Round(time.Hour).Hours())
		return fmt.Sprintf("in %d hours", hours)
	case isTomorrow:
		return "tomorrow " + clockLabel(tL)
	case d < 7*24*time.Hour:
		return tL.Format("Mon ") + clockLabel(tL)
	default:
		return tL.Format("Jan 2")
	}
}

func clockLabel(t time.Time) string {
	if t.Minute() == 0 {
		return t.Format("3pm")
	}
	return t.Format("3:04pm")
}

// staticGreeting is the fallback when no provider is wired.
func staticGreeting(now time.Time, loc *time.Location) string {
	switch h := now.In(loc).Hour(); {
	case h < 5:
		return "Here is your digest."
	case h < 12:
		return "Good morning. Here is your digest."
	case h < 18:
		return "Good afternoon. Here is your digest."
	default:
		return "Good evening. Here is your digest."
	}
}

// enrichStage mutates entities in place: resolved importance, digest
// section, relative labels, deep links; and writes the greeting.
func enrichStage(links *LinkBuilder, greeter GreetingProvider) *Stage {
	return &Stage{
		Name:      "enrich",
		DependsOn: []string{"entity_extract"},
		Inputs:    []Key{KeyEntities, KeyT1Sections},
		Outputs:   []Key{KeyEntities, KeyGreeting},
		Run: func(ctx context.Context, sc *StageContext) error {
			ev, err := sc.Get(KeyEntities)
			if err != nil {
				return err
			}
			t1v, err := sc.Get(KeyT1Sections)
			if err != nil {
				return err
			}
			entities := ev.([]domain.Entity)
			t1 := t1v.(map[string]domain.DigestSection)

			for i := range entities {
				e := &entities[i]
				section, ok := t1[e.SourceMessageID]
				if !ok {
					section = domain.SectionEverythingElse
				}
				e.DigestSection = section
				e.ResolvedImportance = sectionImportance(section, e.Importance)
				if e.EventTime != nil {
					e.RelativeLabel = relativeLabel(sc.Now(), *e.EventTime, sc.Location())
				}
				if links != nil {
					e.DeepLink = links.MessageLink(e.SourceMessageID)
				}
			}
			if err := sc.Set(KeyEntities, entities); err != nil {
				return err
			}

			greeting := ""
			if greeter != nil {
				g, err := greeter.Greeting(ctx, sc.Now(), sc.Location())
				if err != nil {
					sc.Warn("greeting provider unavailable: %v", err)
				} else {
					greeting = g
				}
			}
			if greeting == "" {
				greeting = staticGreeting(sc.Now(), sc.Location())
			}
			return sc.Set(KeyGreeting, greeting)
		},
	}
}
