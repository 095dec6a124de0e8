package domain

import (
	"fmt"
	"time"
)

// TemporalContext holds the intrinsic timestamps extracted from a message.
// These are facts about the message content, never comparisons to "now" —
// the decay stage is the only place "now" enters.
type TemporalContext struct {
	EventStart     *time.Time `json:"event_start,omitempty"`
	EventEnd       *time.Time `json:"event_end,omitempty"`
	DeliveryDate   *time.Time `json:"delivery_date,omitempty"`
	PurchaseDate   *time.Time `json:"purchase_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// IsEmpty reports whether extraction found nothing. Failure to parse is not
// an error; fields simply remain absent.
func (t *TemporalContext) IsEmpty() bool {
	return t == nil ||
		(t.EventStart == nil && t.EventEnd == nil && t.DeliveryDate == nil &&
			t.PurchaseDate == nil && t.ExpirationDate == nil)
}

// HasAnyTimestamp reports whether any intrinsic timestamp is present.
func (t *TemporalContext) HasAnyTimestamp() bool { return !t.IsEmpty() }

// Validate enforces event_end >= event_start when both are set.
func (t *TemporalContext) Validate() error {
	if t == nil {
		return nil
	}
	if t.EventStart != nil && t.EventEnd != nil && t.EventEnd.Before(*t.EventStart) {
		return fmt.Errorf("temporal: event_end %s before event_start %s",
			t.EventEnd.Format(time.RFC3339), t.EventStart.Format(time.RFC3339))
	}
	return nil
}
