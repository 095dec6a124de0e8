// Package redact provides prompt hygiene and PII hashing for log safety.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	// Marker replaces any text that matched an injection pattern.
	Marker = "[redacted]"

	hashPrefixLen = 12
)

// Injection patterns are matched case-insensitively against every text field
// that will be sent to an LLM. The set covers instruction-override phrasing
// and role impersonation.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?prior\b`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|earlier)\b`),
	regexp.MustCompile(`(?i)\bsystem\s*:\s*`),
	regexp.MustCompile(`(?i)\bassistant\s*:\s*`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\b`),
	regexp.MustCompile("```[a-z]*\\s*(system|assistant|user)"),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
}

// Control chars plus markup delimiters that could smuggle structure into a
// prompt or break out of a JSON field.
var strippedRunes = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f<>{}|`]")

// Sanitize prepares a text field for inclusion in an LLM prompt:
// truncate to maxLen runes, neutralize injection patterns, strip control
// characters and markup delimiters. maxLen <= 0 means no truncation.
func Sanitize(text string, maxLen int) string {
	if maxLen > 0 {
		runes := []rune(text)
		if len(runes) > maxLen {
			text = string(runes[:maxLen])
		}
	}
	for _, p := range injectionPatterns {
		text = p.ReplaceAllString(text, Marker)
	}
	text = strippedRunes.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Hash returns a stable 12-hex prefix of SHA-256 for a PII field that must
// appear in structured logs. Empty input hashes to the empty string so log
// fields stay omittable.
func Hash(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

// HashEmail hashes the mailbox part but keeps the domain readable, which is
// enough for debugging sender issues without logging the address.
func HashEmail(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return Hash(addr)
	}
	return Hash(addr[:at]) + "@" + addr[at+1:]
}
