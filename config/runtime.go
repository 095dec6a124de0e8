package config

import (
	"fmt"
	"sync"
)

// Feature gate names recognized by the admin endpoint.
const (
	FeatureVerifier      = "verifier"
	FeatureLearning      = "learning"
	FeatureLLMClassify   = "llm_classify"
	FeatureLLMExtraction = "llm_extraction"
)

// Runtime holds the policy and feature gates that can change while the
// process runs. Overrides are ephemeral: they apply to the current process
// only and are lost on restart. Reads take a snapshot so a request sees one
// consistent policy for its whole lifetime.
type Runtime struct {
	mu       sync.RWMutex
	policy   Policy
	features map[string]bool
}

func NewRuntime(policy *Policy) *Runtime {
	return &Runtime{
		policy: *policy,
		features: map[string]bool{
			FeatureVerifier:      true,
			FeatureLearning:      true,
			FeatureLLMClassify:   true,
			FeatureLLMExtraction: true,
		},
	}
}

// Policy returns a copy of the current policy.
func (r *Runtime) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// SetPolicy swaps the policy after validating it.
func (r *Runtime) SetPolicy(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.policy = *p
	r.mu.Unlock()
	return nil
}

// FeatureEnabled reports the gate state. Unknown names read as disabled.
func (r *Runtime) FeatureEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.features[name]
}

// SetFeature flips a gate. Unknown names are rejected so a typo in an admin
// call cannot silently create a dead gate.
func (r *Runtime) SetFeature(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.features[name]; !ok {
		return fmt.Errorf("unknown feature gate %q", name)
	}
	r.features[name] = enabled
	return nil
}

// Features returns a copy of all gates, for the admin listing.
func (r *Runtime) Features() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.features))
	for k, v := range r.features {
		out[k] = v
	}
	return out
}
