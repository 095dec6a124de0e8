package domain

import "time"

// EntityVariant tags the Entity sum type.
type EntityVariant string

const (
	EntityFlight       EntityVariant = "flight"
	EntityEvent        EntityVariant = "event"
	EntityDeadline     EntityVariant = "deadline"
	EntityReminder     EntityVariant = "reminder"
	EntityDelivery     EntityVariant = "delivery"
	EntityPromo        EntityVariant = "promo"
	EntityNotification EntityVariant = "notification"
)

// Entity is a structured fact extracted from one message. Exactly one payload
// pointer matching Variant is set. Entities are created by the extractor,
// mutated only by the enricher (ResolvedImportance, DigestSection), and never
// destroyed except by deduplication.
type Entity struct {
	Variant         EntityVariant `json:"variant"`
	SourceMessageID string        `json:"source_message_id"`
	SourceSubject   string        `json:"source_subject"`
	Importance      Importance    `json:"importance"`
	EventTime       *time.Time    `json:"event_time,omitempty"`

	// NaturalKey identifies the fact within its variant (flight number,
	// tracking number, event start, ...). Dedupe key is
	// (source_message_id, variant, natural_key); earliest wins.
	NaturalKey string `json:"natural_key"`

	// Enricher-owned fields, empty until enrichment.
	ResolvedImportance Importance    `json:"resolved_importance,omitempty"`
	DigestSection      DigestSection `json:"digest_section,omitempty"`
	RelativeLabel      string        `json:"relative_label,omitempty"`
	DeepLink           string        `json:"deep_link,omitempty"`

	Flight       *FlightDetails       `json:"flight,omitempty"`
	Event        *EventDetails        `json:"event,omitempty"`
	Deadline     *DeadlineDetails     `json:"deadline,omitempty"`
	Reminder     *ReminderDetails     `json:"reminder,omitempty"`
	Delivery     *DeliveryDetails     `json:"delivery,omitempty"`
	Promo        *PromoDetails        `json:"promo,omitempty"`
	Notification *NotificationDetails `json:"notification,omitempty"`
}

type FlightDetails struct {
	FlightNumber  string     `json:"flight_number"`
	Departure     string     `json:"departure,omitempty"`
	Arrival       string     `json:"arrival,omitempty"`
	DepartureTime *time.Time `json:"departure_time,omitempty"`
	Confirmation  string     `json:"confirmation,omitempty"`
}

type EventDetails struct {
	Title    string     `json:"title"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Location string     `json:"location,omitempty"`
}

type DeadlineDetails struct {
	What string     `json:"what"`
	Due  *time.Time `json:"due,omitempty"`
}

type ReminderDetails struct {
	What string     `json:"what"`
	When *time.Time `json:"when,omitempty"`
}

type DeliveryDetails struct {
	Carrier        string     `json:"carrier,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ExpectedDate   *time.Time `json:"expected_date,omitempty"`
	Delivered      bool       `json:"delivered,omitempty"`
}

type PromoDetails struct {
	Merchant string     `json:"merchant,omitempty"`
	Offer    string     `json:"offer,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
}

type NotificationDetails struct {
	Service string `json:"service,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// NewPromoEntity builds a Promo entity. Promos are routine by construction;
// there is no constructor argument to say otherwise.
func NewPromoEntity(sourceID, sourceSubject, naturalKey string, details *PromoDetails) Entity {
	return Entity{
		Variant:         EntityPromo,
		SourceMessageID: sourceID,
		SourceSubject:   sourceSubject,
		Importance:      ImportanceRoutine,
		NaturalKey:      naturalKey,
		Promo:           details,
	}
}
