package domain

import (
	"fmt"
)

// EmailType is the primary classification axis.
type EmailType string

const (
	TypeNewsletter    EmailType = "newsletter"
	TypeNotification  EmailType = "notification"
	TypeReceipt       EmailType = "receipt"
	TypeEvent         EmailType = "event"
	TypePromotion     EmailType = "promotion"
	TypeMessage       EmailType = "message"
	TypeOTP           EmailType = "otp"
	TypeUncategorized EmailType = "uncategorized"
)

var validTypes = map[EmailType]bool{
	TypeNewsletter: true, TypeNotification: true, TypeReceipt: true,
	TypeEvent: true, TypePromotion: true, TypeMessage: true,
	TypeOTP: true, TypeUncategorized: true,
}

// EmailDomain is a life-area tag; a message can carry several.
type EmailDomain string

const (
	DomainFinance      EmailDomain = "finance"
	DomainShopping     EmailDomain = "shopping"
	DomainProfessional EmailDomain = "professional"
	DomainPersonal     EmailDomain = "personal"
)

var validDomains = map[EmailDomain]bool{
	DomainFinance: true, DomainShopping: true, DomainProfessional: true, DomainPersonal: true,
}

// Attention flags whether the user must act.
type Attention string

const (
	AttentionActionRequired Attention = "action_required"
	AttentionNone           Attention = "none"
)

// Importance is the intrinsic priority, independent of when it is viewed.
type Importance string

const (
	ImportanceCritical      Importance = "critical"
	ImportanceTimeSensitive Importance = "time_sensitive"
	ImportanceRoutine       Importance = "routine"
)

var validImportance = map[Importance]bool{
	ImportanceCritical: true, ImportanceTimeSensitive: true, ImportanceRoutine: true,
}

// Relationship distinguishes known contacts from strangers.
type Relationship string

const (
	FromContact Relationship = "from_contact"
	FromUnknown Relationship = "from_unknown"
)

// ClientLabel is the mailbox label the provider applies.
type ClientLabel string

const (
	LabelReceipts       ClientLabel = "receipts"
	LabelActionRequired ClientLabel = "action-required"
	LabelMessages       ClientLabel = "messages"
	LabelEverythingElse ClientLabel = "everything-else"
)

var validLabels = map[ClientLabel]bool{
	LabelReceipts: true, LabelActionRequired: true, LabelMessages: true, LabelEverythingElse: true,
}

// Decider records which tier produced a classification.
type Decider string

const (
	DeciderTypeMapper Decider = "type_mapper"
	DeciderRule       Decider = "rule"
	DeciderLLM        Decider = "llm"
	DeciderVerifier   Decider = "verifier"
	DeciderDetector   Decider = "detector"
	DeciderFallback   Decider = "fallback"
)

var validDeciders = map[Decider]bool{
	DeciderTypeMapper: true, DeciderRule: true, DeciderLLM: true,
	DeciderVerifier: true, DeciderDetector: true, DeciderFallback: true,
}

// Classification is the record the classifier returns and the digest
// consumes. Model and prompt versions are pinned for rollback.
type Classification struct {
	MessageID     string                  `json:"message_id"`
	Type          EmailType               `json:"type"`
	TypeConf      float64                 `json:"type_conf"`
	Domains       []EmailDomain           `json:"domains,omitempty"`
	DomainConf    map[EmailDomain]float64 `json:"domain_conf,omitempty"`
	Attention     Attention               `json:"attention"`
	AttentionConf float64                 `json:"attention_conf"`
	Importance    Importance              `json:"importance"`
	ImportanceConf float64                `json:"importance_conf"`
	Relationship  Relationship            `json:"relationship"`
	ClientLabel   ClientLabel             `json:"client_label"`
	Decider       Decider                 `json:"decider"`
	Reason        string                  `json:"reason,omitempty"`
	ModelVersion  string                  `json:"model_version,omitempty"`
	PromptVersion string                  `json:"prompt_version,omitempty"`
}

func confInRange(v float64) bool { return v >= 0 && v <= 1 }

// Validate fails closed: unknown enum values, negative confidences, or
// confidences above 1 are rejected before the record crosses any boundary.
func (c *Classification) Validate() error {
	if c.MessageID == "" {
		return fmt.Errorf("classification: missing message_id")
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("classification: unknown type %q", c.Type)
	}
	if !confInRange(c.TypeConf) {
		return fmt.Errorf("classification: type_conf %v out of [0,1]", c.TypeConf)
	}
	for _, d := range c.Domains {
		if !validDomains[d] {
			return fmt.Errorf("classification: unknown domain %q", d)
		}
	}
	for d, v := range c.DomainConf {
		if !validDomains[d] {
			return fmt.Errorf("classification: unknown domain %q in domain_conf", d)
		}
		if !confInRange(v) {
			return fmt.Errorf("classification: domain_conf[%s] %v out of [0,1]", d, v)
		}
	}
	if c.Attention != AttentionActionRequired && c.Attention != AttentionNone {
		return fmt.Errorf("classification: unknown attention %q", c.Attention)
	}
	if !confInRange(c.AttentionConf) {
		return fmt.Errorf("classification: attention_conf %v out of [0,1]", c.AttentionConf)
	}
	if !validImportance[c.Importance] {
		return fmt.Errorf("classification: unknown importance %q", c.Importance)
	}
	if !confInRange(c.ImportanceConf) {
		return fmt.Errorf("classification: importance_conf %v out of [0,1]", c.ImportanceConf)
	}
	if c.Relationship != FromContact && c.Relationship != FromUnknown {
		return fmt.Errorf("classification: unknown relationship %q", c.Relationship)
	}
	if !validLabels[c.ClientLabel] {
		return fmt.Errorf("classification: unknown client_label %q", c.ClientLabel)
	}
	if !validDeciders[c.Decider] {
		return fmt.Errorf("classification: unknown decider %q", c.Decider)
	}
	// OTP messages always demand action: the code expires in minutes.
	if c.Type == TypeOTP && c.ClientLabel != LabelActionRequired {
		return fmt.Errorf("classification: otp must carry action-required label")
	}
	return nil
}

// IsValidType reports whether t is a known email type.
func IsValidType(t EmailType) bool { return validTypes[t] }

// IsValidImportance reports whether i is a known importance level.
func IsValidImportance(i Importance) bool { return validImportance[i] }

// IsValidDomain reports whether d is a known life-area domain.
func IsValidDomain(d EmailDomain) bool { return validDomains[d] }
