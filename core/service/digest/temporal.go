package digest

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mailsense/core/domain"
)

// Temporal extraction (T-ex): a deterministic mini-parser that pulls
// intrinsic timestamps out of subject and snippet. It never compares to
// "now"; relative phrases without an absolute date are simply not extracted.
// Failure to parse is not an error, the field stays absent.

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// dateRe covers "Nov 21, 2025", "November 21 2025", with an optional
// leading weekday and optional trailing clock time ("6:30pm", "18:00").
var dateRe = regexp.MustCompile(`(?i)\b(?:(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*,?\s+)?` +
	`(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})` +
	`(?:,?\s+(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?)?`)

// isoRe covers "2025-11-21" and "2025-11-21T18:30" / "2025-11-21 18:30".
var isoRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})(?:[T ](\d{2}):(\d{2}))?\b`)

// slashRe covers "11/21/2025" (month first).
var slashRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)

type dateHit struct {
	t       time.Time
	hasTime bool
	index   int
}

// extractTemporal parses one message's subject and snippet into a
// TemporalContext. The first date in event context becomes event_start; a
// second event-context date becomes event_end when it follows the start.
func extractTemporal(email *domain.InboundEmail) *domain.TemporalContext {
	text := email.Subject + "\n" + email.Snippet
	hits := findDates(text)
	if len(hits) == 0 {
		return nil
	}

	tc := &domain.TemporalContext{}
	lower := strings.ToLower(text)
	for _, h := range hits {
		switch classifyDateContext(lower, h.index) {
		case "delivery":
			if tc.DeliveryDate == nil {
				t := h.t
				tc.DeliveryDate = &t
			}
		case "expiration":
			if tc.ExpirationDate == nil {
				t := h.t
				tc.ExpirationDate = &t
			}
		case "purchase":
			if tc.PurchaseDate == nil {
				t := h.t
				tc.PurchaseDate = &t
			}
		default: // event
			t := h.t
			if tc.EventStart == nil {
				tc.EventStart = &t
			} else if tc.EventEnd == nil && !t.Before(*tc.EventStart) {
				tc.EventEnd = &t
			}
		}
	}
	if tc.IsEmpty() {
		return nil
	}
	if err := tc.Validate(); err != nil {
		// Inconsistent extraction is discarded wholesale rather than
		// propagating a half-wrong context.
		return nil
	}
	return tc
}

// findDates returns every parsable absolute date in text, in order.
func findDates(text string) []dateHit {
	var hits []dateHit

	for _, m := range dateRe.FindAllStringSubmatchIndex(text, -1) {
		sub := submatches(text, m)
		month := monthNames[strings.ToLower(sub[1])[:3]]
		day, _ := strconv.Atoi(sub[2])
		year, _ := strconv.Atoi(sub[3])
		hour, minute, hasTime := parseClock(sub[4], sub[5], sub[6])
		if day < 1 || day > 31 {
			continue
		}
		hits = append(hits, dateHit{
			t:       time.Date(year, month, day, hour, minute, 0, 0, time.UTC),
			hasTime: hasTime,
			index:   m[0],
		})
	}

	for _, m := range isoRe.FindAllStringSubmatchIndex(text, -1) {
		sub := submatches(text, m)
		year, _ := strconv.Atoi(sub[1])
		month, _ := strconv.Atoi(sub[2])
		day, _ := strconv.Atoi(sub[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		hour, minute := 0, 0
		hasTime := sub[4] != ""
		if hasTime {
			hour, _ = strconv.Atoi(sub[4])
			minute, _ = strconv.Atoi(sub[5])
		}
		hits = append(hits, dateHit{
			t:       time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC),
			hasTime: hasTime,
			index:   m[0],
		})
	}

	for _, m := range slashRe.FindAllStringSubmatchIndex(text, -1) {
		sub := submatches(text, m)
		month, _ := strconv.Atoi(sub[1])
		day, _ := strconv.Atoi(sub[2])
		year, _ := strconv.Atoi(sub[3])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		hits = append(hits, dateHit{
			t:     time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC),
			index: m[0],
		})
	}

	// Order by position so context classification sees the same date first
	// on every run.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].index < hits[j-1].index; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
	return hits
}

func parseClock(hourStr, minStr, ampm string) (hour, minute int, ok bool) {
	if hourStr == "" {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(hourStr)
	if minStr != "" {
		minute, _ = strconv.Atoi(minStr)
	}
	switch strings.ToLower(ampm) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// classifyDateContext inspects the text immediately before a date for the
// keyword family that owns it.
func classifyDateContext(lower string, index int) string {
	start := index - 48
	if start < 0 {
		start = 0
	}
	window := lower[start:index]
	switch {
	case strings.Contains(window, "deliver"): // delivered on, delivery by
		return "delivery"
	case strings.Contains(window, "expire") || strings.Contains(window, "valid until") || strings.Contains(window, "valid through"):
		return "expiration"
	case strings.Contains(window, "purchas") || strings.Contains(window, "order placed") || strings.Contains(window, "paid on"):
		return "purchase"
	default:
		return "event"
	}
}

func submatches(text string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}

// temporalStage wires extraction into the pipeline.
func temporalStage() *Stage {
	return &Stage{
		Name:    "temporal_extract",
		Inputs:  []Key{KeyMessages},
		Outputs: []Key{KeyTemporal},
		Run: func(ctx context.Context, sc *StageContext) error {
			v, err := sc.Get(KeyMessages)
			if err != nil {
				return err
			}
			messages := v.([]domain.ClassifiedEmail)
			temporal := make(map[string]*domain.TemporalContext, len(messages))
			for i := range messages {
				msg := &messages[i]
				// A caller-provided context wins over re-extraction.
				if msg.Temporal != nil && msg.Temporal.HasAnyTimestamp() {
					temporal[msg.Email.ID] = msg.Temporal
					continue
				}
				if tc := extractTemporal(&msg.Email); tc != nil {
					temporal[msg.Email.ID] = tc
				}
			}
			return sc.Set(KeyTemporal, temporal)
		},
	}
}
