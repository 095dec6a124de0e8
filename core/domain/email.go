package domain

// InboundEmail is the provider-opaque message slice the core consumes.
// Fetching messages and applying labels stay behind the provider boundary;
// only these fields ever cross it.
type InboundEmail struct {
	ID            string            `json:"id"`
	From          string            `json:"from"`
	Subject       string            `json:"subject"`
	Snippet       string            `json:"snippet"`
	Headers       map[string]string `json:"headers,omitempty"`
	HasAttachment bool              `json:"has_attachment,omitempty"`
}

// SenderDomain returns the domain part of the From address, lowercased by
// the caller's normalization. Empty when From has no '@'.
func (e *InboundEmail) SenderDomain() string {
	for i := len(e.From) - 1; i >= 0; i-- {
		if e.From[i] == '@' {
			return e.From[i+1:]
		}
	}
	return ""
}

// ClassifiedEmail pairs a message with its classification and extracted
// temporal context. This is the digest pipeline's input unit.
type ClassifiedEmail struct {
	Email          InboundEmail     `json:"email"`
	Classification Classification   `json:"classification"`
	Temporal       *TemporalContext `json:"temporal,omitempty"`
}
