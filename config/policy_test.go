package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}

func TestLoadPolicyMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TypeGate != 0.70 {
		t.Errorf("type_gate = %v, want 0.70", p.TypeGate)
	}
}

func TestLoadPolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "type_gate: 0.75\nemails_per_minute: 250\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TypeGate != 0.75 {
		t.Errorf("type_gate = %v, want 0.75", p.TypeGate)
	}
	if p.EmailsPerMinute != 250 {
		t.Errorf("emails_per_minute = %d, want 250", p.EmailsPerMinute)
	}
	// Untouched keys keep defaults.
	if p.VerifierAcceptDelta != 0.15 {
		t.Errorf("verifier_accept_delta = %v, want 0.15", p.VerifierAcceptDelta)
	}
}

func TestLoadPolicyRejectsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("type_gate: 1.5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Error("expected error for type_gate > 1")
	}
}

func TestValidateRejectsInvertedBand(t *testing.T) {
	p := DefaultPolicy()
	p.VerifierTriggerLo = 0.9
	p.VerifierTriggerHi = 0.7
	if err := p.Validate(); err == nil {
		t.Error("expected error for inverted verifier band")
	}
}
