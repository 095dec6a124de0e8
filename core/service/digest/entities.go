package digest

import (
	"context"
	"regexp"
	"strings"
	"time"

	"mailsense/core/domain"
	"mailsense/core/port/out"
)

// Entity extraction: regex families first, LLM second for messages in the
// urgent sections that rules could not structure. Dedupe key is
// (source_message_id, variant, natural_key); the earliest entity wins.

var (
	flightRe      = regexp.MustCompile(`(?i)\bflight\s+([A-Z]{2})\s?(\d{2,4})\b`)
	trackingUPSRe = regexp.MustCompile(`\b(1Z[0-9A-Z]{16})\b`)
	trackingNumRe = regexp.MustCompile(`(?i)\btracking\s*(?:number|no\.?|#)?[:\s]+([A-Z0-9]{10,22})\b`)
	reservationRe = regexp.MustCompile(`(?i)\b(?:confirmation|reservation|booking)\s*(?:code|number|no\.?|#|id)?[:\s]+([A-Z0-9]{5,10})\b`)
	amountRe      = regexp.MustCompile(`[$€£]\s?\d+(?:[.,]\d{2})?`)
	dueRe         = regexp.MustCompile(`(?i)\b(?:payment\s+)?due\b|\bdeadline\b|\bpast due\b`)
)

// extractByRules builds entities for one message from the regex families.
func extractByRules(msg *domain.ClassifiedEmail, tc *domain.TemporalContext) []domain.Entity {
	text := msg.Email.Subject + "\n" + msg.Email.Snippet
	var entities []domain.Entity

	if m := flightRe.FindStringSubmatch(text); m != nil {
		flightNo := strings.ToUpper(m[1]) + m[2]
		details := &domain.FlightDetails{FlightNumber: flightNo}
		if tc != nil && tc.EventStart != nil {
			details.DepartureTime = tc.EventStart
		}
		if r := reservationRe.FindStringSubmatch(text); r != nil {
			details.Confirmation = strings.ToUpper(r[1])
		}
		entities = append(entities, domain.Entity{
			Variant:         domain.EntityFlight,
			SourceMessageID: msg.Email.ID,
			SourceSubject:   msg.Email.Subject,
			Importance:      msg.Classification.Importance,
			EventTime:       details.DepartureTime,
			NaturalKey:      flightNo,
			Flight:          details,
		})
	}

	if m := firstMatch(trackingUPSRe, trackingNumRe, text); m != "" {
		details := &domain.DeliveryDetails{TrackingNumber: m}
		var eventTime *time.Time
		if tc != nil && tc.DeliveryDate != nil {
			details.ExpectedDate = tc.DeliveryDate
			eventTime = tc.DeliveryDate
		}
		details.Delivered = strings.Contains(strings.ToLower(text), "delivered")
		entities = append(entities, domain.Entity{
			Variant:         domain.EntityDelivery,
			SourceMessageID: msg.Email.ID,
			SourceSubject:   msg.Email.Subject,
			Importance:      msg.Classification.Importance,
			EventTime:       eventTime,
			NaturalKey:      m,
			Delivery:        details,
		})
	}

	if msg.Classification.Type == domain.TypeEvent && tc != nil && tc.EventStart != nil {
		entities = append(entities, domain.Entity{
			Variant:         domain.EntityEvent,
			SourceMessageID: msg.Email.ID,
			SourceSubject:   msg.Email.Subject,
			Importance:      msg.Classification.Importance,
			EventTime:       tc.EventStart,
			NaturalKey:      tc.EventStart.UTC().Format(time.RFC3339),
			Event: &domain.EventDetails{
				Title: msg.Email.Subject,
				Start: tc.EventStart,
				End:   tc.EventEnd,
			},
		})
	}

	if dueRe.MatchString(text) && msg.Classification.Type != domain.TypePromotion {
		what := msg.Email.Subject
		if amt := amountRe.FindString(text); amt != "" {
			what = what + " (" + amt + ")"
		}
		var due *time.Time
		if tc != nil {
			if tc.ExpirationDate != nil {
				due = tc.ExpirationDate
			} else if tc.EventStart != nil {
				due = tc.EventStart
			}
		}
		entities = append(entities, domain.Entity{
			Variant:         domain.EntityDeadline,
			SourceMessageID: msg.Email.ID,
			SourceSubject:   msg.Email.Subject,
			Importance:      msg.Classification.Importance,
			EventTime:       due,
			NaturalKey:      strings.ToLower(msg.Email.Subject),
			Deadline:        &domain.DeadlineDetails{What: what, Due: due},
		})
	}

	if msg.Classification.Type == domain.TypePromotion && tc != nil && tc.ExpirationDate != nil {
		entities = append(entities, domain.NewPromoEntity(
			msg.Email.ID, msg.Email.Subject,
			"expires:"+tc.ExpirationDate.UTC().Format(time.RFC3339),
			&domain.PromoDetails{
				Merchant: msg.Email.SenderDomain(),
				Offer:    msg.Email.Subject,
				Expires:  tc.ExpirationDate,
			},
		))
	}

	return entities
}

func firstMatch(a, b *regexp.Regexp, text string) string {
	if m := a.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := b.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// urgentSections are the T1 sections worth an LLM extraction call when the
// regex families found nothing.
var urgentSections = map[domain.DigestSection]bool{
	domain.SectionCritical: true,
	domain.SectionToday:    true,
	domain.SectionComingUp: true,
}

// fromLLM converts one schema-validated LLM entity to the domain sum type.
func fromLLM(msg *domain.ClassifiedEmail, e out.ExtractedEntity) domain.Entity {
	entity := domain.Entity{
		Variant:         e.Variant,
		SourceMessageID: msg.Email.ID,
		SourceSubject:   msg.Email.Subject,
		Importance:      msg.Classification.Importance,
		NaturalKey:      e.NaturalKey,
	}
	when := parsePayloadTime(e.Payload, "time", "start", "when", "due", "expected_date", "expires")
	entity.EventTime = when

	switch e.Variant {
	case domain.EntityFlight:
		entity.Flight = &domain.FlightDetails{
			FlightNumber:  e.Payload["flight_number"],
			Departure:     e.Payload["departure"],
			Arrival:       e.Payload["arrival"],
			DepartureTime: when,
			Confirmation:  e.Payload["confirmation"],
		}
	case domain.EntityEvent:
		entity.Event = &domain.EventDetails{
			Title:    nonEmpty(e.Payload["title"], msg.Email.Subject),
			Start:    when,
			Location: e.Payload["location"],
		}
	case domain.EntityDeadline:
		entity.Deadline = &domain.DeadlineDetails{
			What: nonEmpty(e.Payload["what"], msg.Email.Subject),
			Due:  when,
		}
	case domain.EntityReminder:
		entity.Reminder = &domain.ReminderDetails{
			What: nonEmpty(e.Payload["what"], msg.Email.Subject),
			When: when,
		}
	case domain.EntityDelivery:
		entity.Delivery = &domain.DeliveryDetails{
			Carrier:        e.Payload["carrier"],
			TrackingNumber: e.Payload["tracking_number"],
			ExpectedDate:   when,
		}
	case domain.EntityPromo:
		entity.Importance = domain.ImportanceRoutine
		entity.Promo = &domain.PromoDetails{
			Merchant: e.Payload["merchant"],
			Offer:    nonEmpty(e.Payload["offer"], msg.Email.Subject),
			Expires:  when,
		}
	default:
		entity.Variant = domain.EntityNotification
		entity.Notification = &domain.NotificationDetails{
			Service: msg.Email.SenderDomain(),
			Summary: nonEmpty(e.Payload["summary"], msg.Email.Subject),
		}
	}
	return entity
}

func parsePayloadTime(payload map[string]string, keys ...string) *time.Time {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				u := t.UTC()
				return &u
			}
		}
	}
	return nil
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// dedupe keeps the earliest entity per (source_message_id, variant,
// natural_key), preserving order.
func dedupe(entities []domain.Entity) []domain.Entity {
	type key struct {
		msgID      string
		variant    domain.EntityVariant
		naturalKey string
	}
	seen := make(map[key]bool, len(entities))
	out := entities[:0]
	for _, e := range entities {
		k := key{e.SourceMessageID, e.Variant, e.NaturalKey}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// entityStage builds the extraction stage. llm may be nil (regex only).
func entityStage(llm out.LLMPort, llmEnabled func() bool) *Stage {
	return &Stage{
		Name:      "entity_extract",
		DependsOn: []string{"section_decay"},
		Inputs:    []Key{KeyMessages, KeyTemporal, KeyT1Sections},
		Outputs:   []Key{KeyEntities},
		Run: func(ctx context.Context, sc *StageContext) error {
			mv, err := sc.Get(KeyMessages)
			if err != nil {
				return err
			}
			tv, err := sc.Get(KeyTemporal)
			if err != nil {
				return err
			}
			t1v, err := sc.Get(KeyT1Sections)
			if err != nil {
				return err
			}
			messages := mv.([]domain.ClassifiedEmail)
			temporal := tv.(map[string]*domain.TemporalContext)
			t1 := t1v.(map[string]domain.DigestSection)

			var entities []domain.Entity
			for i := range messages {
				msg := &messages[i]
				section := t1[msg.Email.ID]
				if section == domain.SectionSkip {
					continue
				}
				found := extractByRules(msg, temporal[msg.Email.ID])
				if len(found) == 0 && llm != nil && llmEnabled != nil && llmEnabled() && urgentSections[section] {
					extracted, err := llm.ExtractEntities(ctx, &msg.Email)
					if err != nil {
						sc.Warn("llm extraction failed for one message: %v", err)
					}
					for _, e := range extracted {
						found = append(found, fromLLM(msg, e))
					}
				}
				entities = append(entities, found...)
			}
			return sc.Set(KeyEntities, dedupe(entities))
		},
	}
}
