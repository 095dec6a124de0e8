package classify

import (
	"mailsense/config"
	"mailsense/core/domain"
)

// applyGate enforces the confidence thresholds on a classification. The
// type gate is inclusive: type_conf equal to the threshold passes. Below it
// the result demotes to uncategorized/everything-else; domain tags below the
// domain gate are dropped; action_required survives only above the attention
// gate. The input is mutated and returned for chaining.
func applyGate(c *domain.Classification, pol *config.Policy) *domain.Classification {
	if c.TypeConf < pol.MinTypeConf {
		c.Type = domain.TypeUncategorized
		c.ClientLabel = domain.LabelEverythingElse
		c.Attention = domain.AttentionNone
		if c.Reason != "" {
			c.Reason += "; below type gate"
		} else {
			c.Reason = "below type gate"
		}
	}

	if len(c.Domains) > 0 && c.DomainConf != nil {
		kept := c.Domains[:0]
		for _, d := range c.Domains {
			if conf, ok := c.DomainConf[d]; !ok || conf >= pol.DomainGate {
				kept = append(kept, d)
			} else {
				delete(c.DomainConf, d)
			}
		}
		c.Domains = kept
	}

	if c.Attention == domain.AttentionActionRequired && c.AttentionConf < pol.AttentionGate {
		// OTP keeps its label regardless: the invariant outranks the gate.
		if c.Type != domain.TypeOTP {
			c.Attention = domain.AttentionNone
			if c.ClientLabel == domain.LabelActionRequired {
				c.ClientLabel = relabel(c)
			}
		}
	}
	return c
}

// relabel recomputes the mailbox label after attention was gated off.
func relabel(c *domain.Classification) domain.ClientLabel {
	switch c.Type {
	case domain.TypeReceipt:
		return domain.LabelReceipts
	case domain.TypeMessage:
		return domain.LabelMessages
	default:
		return domain.LabelEverythingElse
	}
}
