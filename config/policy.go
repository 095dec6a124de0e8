package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the confidence thresholds and budget caps. The YAML file is
// authoritative; unset keys fall back to compiled defaults.
type Policy struct {
	MinTypeConf         float64 `yaml:"min_type_conf"`
	MinLabelConf        float64 `yaml:"min_label_conf"`
	TypeGate            float64 `yaml:"type_gate"`
	DomainGate          float64 `yaml:"domain_gate"`
	AttentionGate       float64 `yaml:"attention_gate"`
	LearningMinConf     float64 `yaml:"learning_min_conf"`
	VerifierTriggerLo   float64 `yaml:"verifier_trigger_lo"`
	VerifierTriggerHi   float64 `yaml:"verifier_trigger_hi"`
	VerifierAcceptDelta float64 `yaml:"verifier_accept_delta"`
	DailyCostCapUSD     float64 `yaml:"daily_cost_cap_usd"`
	EmailsPerMinute     int     `yaml:"emails_per_minute"`
	EmailsPerHour       int     `yaml:"emails_per_hour"`
	RequestsPerMinute   int     `yaml:"requests_per_minute"`
	MaxTrackedIPs       int     `yaml:"max_tracked_ips"`
}

// DefaultPolicy returns the compiled defaults (verify-first posture: the
// primary type gate stays at 0.70 and the verifier band catches the middle).
func DefaultPolicy() *Policy {
	return &Policy{
		MinTypeConf:         0.70,
		MinLabelConf:        0.70,
		TypeGate:            0.70,
		DomainGate:          0.60,
		AttentionGate:       0.75,
		LearningMinConf:     0.80,
		VerifierTriggerLo:   0.70,
		VerifierTriggerHi:   0.85,
		VerifierAcceptDelta: 0.15,
		DailyCostCapUSD:     10.0,
		EmailsPerMinute:     500,
		EmailsPerHour:       5000,
		RequestsPerMinute:   60,
		MaxTrackedIPs:       10000,
	}
}

// LoadPolicy reads the policy YAML, overlaying defaults. A missing file is
// fine in development; an unparsable or out-of-range file is a startup error.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects thresholds outside [0,1] and inverted verifier bands.
func (p *Policy) Validate() error {
	for name, v := range map[string]float64{
		"min_type_conf":         p.MinTypeConf,
		"min_label_conf":        p.MinLabelConf,
		"type_gate":             p.TypeGate,
		"domain_gate":           p.DomainGate,
		"attention_gate":        p.AttentionGate,
		"learning_min_conf":     p.LearningMinConf,
		"verifier_trigger_lo":   p.VerifierTriggerLo,
		"verifier_trigger_hi":   p.VerifierTriggerHi,
		"verifier_accept_delta": p.VerifierAcceptDelta,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("policy: %s = %v out of [0,1]", name, v)
		}
	}
	if p.VerifierTriggerLo > p.VerifierTriggerHi {
		return fmt.Errorf("policy: verifier_trigger_lo %v > verifier_trigger_hi %v",
			p.VerifierTriggerLo, p.VerifierTriggerHi)
	}
	if p.DailyCostCapUSD < 0 {
		return fmt.Errorf("policy: daily_cost_cap_usd must be >= 0")
	}
	if p.EmailsPerMinute <= 0 || p.EmailsPerHour <= 0 || p.RequestsPerMinute <= 0 {
		return fmt.Errorf("policy: rate limits must be positive")
	}
	if p.MaxTrackedIPs <= 0 {
		return fmt.Errorf("policy: max_tracked_ips must be positive")
	}
	return nil
}
