// Package classify implements the tiered classifier: deterministic type
// mapper, learned per-user rules, LLM call, and selective second-pass
// verification, with a confidence gate in front of every result.
package classify

import (
	"regexp"
	"strings"

	"mailsense/core/domain"
)

// mapperHit is the partial classification a compiled rule produces.
type mapperHit struct {
	Type       domain.EmailType
	Domains    []domain.EmailDomain
	Attention  domain.Attention
	Importance domain.Importance
	Label      domain.ClientLabel
	Conf       float64
	Decider    domain.Decider
	Reason     string
}

// TypeMapper is the deterministic, user-independent first tier. All tables
// are compiled once at construction; matching allocates nothing.
type TypeMapper struct {
	otpSubject   *regexp.Regexp
	otpBody      *regexp.Regexp
	domainRules  map[string]mapperHit
	senderRules  []senderRule
	subjectRules []subjectRule
	bodyRules    []bodyRule
}

type senderRule struct {
	prefix string
	hit    mapperHit
}

type subjectRule struct {
	re  *regexp.Regexp
	hit mapperHit
}

type bodyRule struct {
	phrase string
	hit    mapperHit
}

func NewTypeMapper() *TypeMapper {
	return &TypeMapper{
		otpSubject: regexp.MustCompile(`(?i)\b(verification code|one.time (code|password)|security code|login code|2fa|otp)\b|\bcode is \d{4,8}\b`),
		otpBody:    regexp.MustCompile(`(?i)\b(verification|security|login|one.time) code\b|\bcode is[: ]+\d{4,8}\b|\b\d{6} is your\b`),

		domainRules: map[string]mapperHit{
			"facebookmail.com": {Type: domain.TypeNotification, Domains: []domain.EmailDomain{domain.DomainPersonal}, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "social notification domain"},
			"linkedin.com":     {Type: domain.TypeNotification, Domains: []domain.EmailDomain{domain.DomainProfessional}, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "social notification domain"},
			"github.com":       {Type: domain.TypeNotification, Domains: []domain.EmailDomain{domain.DomainProfessional}, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "developer notification domain"},
			"substack.com":     {Type: domain.TypeNewsletter, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "newsletter platform domain"},
			"mailchimp.com":    {Type: domain.TypeNewsletter, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "newsletter platform domain"},
		},

		senderRules: []senderRule{
			{prefix: "no-reply@calendar", hit: mapperHit{Type: domain.TypeEvent, Importance: domain.ImportanceTimeSensitive, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "calendar sender"}},
			{prefix: "newsletter@", hit: mapperHit{Type: domain.TypeNewsletter, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "newsletter mailbox"}},
			{prefix: "receipts@", hit: mapperHit{Type: domain.TypeReceipt, Domains: []domain.EmailDomain{domain.DomainFinance}, Importance: domain.ImportanceRoutine, Label: domain.LabelReceipts, Conf: 0.98, Reason: "receipts mailbox"}},
			{prefix: "billing@", hit: mapperHit{Type: domain.TypeReceipt, Domains: []domain.EmailDomain{domain.DomainFinance}, Importance: domain.ImportanceRoutine, Label: domain.LabelReceipts, Conf: 0.98, Reason: "billing mailbox"}},
		},

		subjectRules: []subjectRule{
			{re: regexp.MustCompile(`(?i)\b(your (order|receipt|invoice)|order confirm|payment (received|confirmation))\b`), hit: mapperHit{Type: domain.TypeReceipt, Domains: []domain.EmailDomain{domain.DomainShopping}, Importance: domain.ImportanceRoutine, Label: domain.LabelReceipts, Conf: 0.98, Reason: "receipt subject"}},
			{re: regexp.MustCompile(`(?i)\b(has (shipped|been delivered)|out for delivery|track(ing)? (number|package))\b`), hit: mapperHit{Type: domain.TypeNotification, Domains: []domain.EmailDomain{domain.DomainShopping}, Importance: domain.ImportanceTimeSensitive, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "shipping subject"}},
			{re: regexp.MustCompile(`(?i)\b(invitation|invited you|calendar invite|meeting request)\b`), hit: mapperHit{Type: domain.TypeEvent, Importance: domain.ImportanceTimeSensitive, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "event subject"}},
			{re: regexp.MustCompile(`(?i)(\b\d{1,2}% off\b|\bflash sale\b|\blast chance\b|\bcoupon\b)`), hit: mapperHit{Type: domain.TypePromotion, Domains: []domain.EmailDomain{domain.DomainShopping}, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "promotion subject"}},
			{re: regexp.MustCompile(`(?i)\b(suspicious (sign.in|activity)|fraud alert|unusual activity|password was (changed|reset))\b`), hit: mapperHit{Type: domain.TypeNotification, Domains: []domain.EmailDomain{domain.DomainFinance}, Attention: domain.AttentionActionRequired, Importance: domain.ImportanceCritical, Label: domain.LabelActionRequired, Conf: 0.98, Reason: "security alert subject"}},
		},

		bodyRules: []bodyRule{
			{phrase: "unsubscribe from this list", hit: mapperHit{Type: domain.TypeNewsletter, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "list unsubscribe phrase"}},
			{phrase: "view this email in your browser", hit: mapperHit{Type: domain.TypeNewsletter, Importance: domain.ImportanceRoutine, Label: domain.LabelEverythingElse, Conf: 0.98, Reason: "newsletter boilerplate"}},
		},
	}
}

// Match runs the compiled tables against one message. Order is fixed: OTP
// detector, sender domain exact, sender pattern, subject, body, attachment.
// First match wins; no match returns nil.
func (m *TypeMapper) Match(email *domain.InboundEmail) *domain.Classification {
	from := strings.ToLower(email.From)
	senderDomain := strings.ToLower(email.SenderDomain())
	subject := email.Subject
	snippet := email.Snippet

	// OTP first: the code expires in minutes, nothing may outrank it.
	if m.otpSubject.MatchString(subject) || m.otpBody.MatchString(snippet) {
		return m.build(email, mapperHit{
			Type:       domain.TypeOTP,
			Attention:  domain.AttentionActionRequired,
			Importance: domain.ImportanceCritical,
			Label:      domain.LabelActionRequired,
			Conf:       0.98,
			Decider:    domain.DeciderDetector,
			Reason:     "one-time code detected",
		})
	}

	if hit, ok := m.domainRules[senderDomain]; ok {
		return m.build(email, hit)
	}
	for _, r := range m.senderRules {
		if strings.HasPrefix(from, r.prefix) {
			return m.build(email, r.hit)
		}
	}
	for _, r := range m.subjectRules {
		if r.re.MatchString(subject) {
			return m.build(email, r.hit)
		}
	}
	lowerSnippet := strings.ToLower(snippet)
	for _, r := range m.bodyRules {
		if strings.Contains(lowerSnippet, r.phrase) {
			return m.build(email, r.hit)
		}
	}
	// Attachment check is the weakest signal: an invoice-style subject word
	// plus an attachment reads as a receipt.
	if email.HasAttachment && strings.Contains(strings.ToLower(subject), "invoice") {
		return m.build(email, mapperHit{
			Type: domain.TypeReceipt, Domains: []domain.EmailDomain{domain.DomainFinance},
			Importance: domain.ImportanceRoutine, Label: domain.LabelReceipts,
			Conf: 0.98, Reason: "invoice attachment",
		})
	}
	return nil
}

func (m *TypeMapper) build(email *domain.InboundEmail, hit mapperHit) *domain.Classification {
	decider := hit.Decider
	if decider == "" {
		decider = domain.DeciderTypeMapper
	}
	attention := hit.Attention
	if attention == "" {
		attention = domain.AttentionNone
	}
	c := &domain.Classification{
		MessageID:      email.ID,
		Type:           hit.Type,
		TypeConf:       hit.Conf,
		Domains:        hit.Domains,
		Attention:      attention,
		AttentionConf:  hit.Conf,
		Importance:     hit.Importance,
		ImportanceConf: hit.Conf,
		Relationship:   domain.FromUnknown,
		ClientLabel:    hit.Label,
		Decider:        decider,
		Reason:         hit.Reason,
	}
	if len(hit.Domains) > 0 {
		c.DomainConf = make(map[domain.EmailDomain]float64, len(hit.Domains))
		for _, d := range hit.Domains {
			c.DomainConf[d] = hit.Conf
		}
	}
	return c
}
