package llm

import (
	"fmt"

	"mailsense/core/domain"
)

// classifyResponse is the wire schema of a primary classification call.
type classifyResponse struct {
	Type           string             `json:"type"`
	TypeConf       float64            `json:"type_conf"`
	Domains        []string           `json:"domains"`
	DomainConf     map[string]float64 `json:"domain_conf"`
	Attention      string             `json:"attention"`
	AttentionConf  float64            `json:"attention_conf"`
	Importance     string             `json:"importance"`
	ImportanceConf float64            `json:"importance_conf"`
	Relationship   string             `json:"relationship"`
	Reason         string             `json:"reason"`
}

// verifyResponse is the wire schema of a verifier call.
type verifyResponse struct {
	Verdict    string            `json:"verdict"`
	Confidence float64           `json:"confidence"`
	Correction *classifyResponse `json:"correction"`
}

// extractResponse is the wire schema of an entity extraction call.
type extractResponse struct {
	Entities []struct {
		Variant    string            `json:"variant"`
		NaturalKey string            `json:"natural_key"`
		Payload    map[string]string `json:"payload"`
	} `json:"entities"`
}

var validVariants = map[string]bool{
	"flight": true, "event": true, "deadline": true, "reminder": true,
	"delivery": true, "promo": true, "notification": true,
}

// toClassification validates and converts the wire response. The type enum
// fails closed: an unknown type rejects the whole response so the retry path
// runs. Unknown values on the softer axes collapse to their safe default and
// are counted, because a single hallucinated domain tag should not burn a
// retry.
func (r *classifyResponse) toClassification(messageID string, collapsed func(field, value string)) (*domain.Classification, error) {
	if !domain.IsValidType(domain.EmailType(r.Type)) {
		return nil, fmt.Errorf("unknown type %q", r.Type)
	}
	if r.TypeConf < 0 || r.TypeConf > 1 {
		return nil, fmt.Errorf("type_conf %v out of [0,1]", r.TypeConf)
	}

	c := &domain.Classification{
		MessageID:      messageID,
		Type:           domain.EmailType(r.Type),
		TypeConf:       r.TypeConf,
		AttentionConf:  clamp01(r.AttentionConf),
		ImportanceConf: clamp01(r.ImportanceConf),
		Reason:         r.Reason,
		Decider:        domain.DeciderLLM,
	}

	for _, d := range r.Domains {
		if domain.IsValidDomain(domain.EmailDomain(d)) {
			c.Domains = append(c.Domains, domain.EmailDomain(d))
		} else if collapsed != nil {
			collapsed("domain", d)
		}
	}
	if len(r.DomainConf) > 0 {
		c.DomainConf = make(map[domain.EmailDomain]float64, len(r.DomainConf))
		for d, v := range r.DomainConf {
			if domain.IsValidDomain(domain.EmailDomain(d)) {
				c.DomainConf[domain.EmailDomain(d)] = clamp01(v)
			} else if collapsed != nil {
				collapsed("domain_conf", d)
			}
		}
	}

	switch r.Attention {
	case string(domain.AttentionActionRequired), string(domain.AttentionNone):
		c.Attention = domain.Attention(r.Attention)
	default:
		c.Attention = domain.AttentionNone
		c.AttentionConf = 0
		if collapsed != nil {
			collapsed("attention", r.Attention)
		}
	}

	if domain.IsValidImportance(domain.Importance(r.Importance)) {
		c.Importance = domain.Importance(r.Importance)
	} else {
		c.Importance = domain.ImportanceRoutine
		c.ImportanceConf = 0
		if collapsed != nil {
			collapsed("importance", r.Importance)
		}
	}

	switch r.Relationship {
	case string(domain.FromContact), string(domain.FromUnknown):
		c.Relationship = domain.Relationship(r.Relationship)
	default:
		c.Relationship = domain.FromUnknown
		if collapsed != nil {
			collapsed("relationship", r.Relationship)
		}
	}

	c.ClientLabel = labelFor(c)
	return c, nil
}

// labelFor derives the mailbox label from type and attention.
func labelFor(c *domain.Classification) domain.ClientLabel {
	switch {
	case c.Type == domain.TypeOTP:
		return domain.LabelActionRequired
	case c.Attention == domain.AttentionActionRequired:
		return domain.LabelActionRequired
	case c.Type == domain.TypeReceipt:
		return domain.LabelReceipts
	case c.Type == domain.TypeMessage:
		return domain.LabelMessages
	default:
		return domain.LabelEverythingElse
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
