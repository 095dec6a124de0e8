package digest

import (
	"fmt"
	"net/url"
	"strings"
)

// LinkBuilder is the single place deep links are constructed. Every
// parameter is URL-encoded here; attribute escaping happens in the
// template. The validator later rejects any link whose host is not the
// builder's.
type LinkBuilder struct {
	base *url.URL
}

// NewLinkBuilder parses the mail-provider base URL, e.g.
// "https://mail.example.com". Relative or schemeless bases are rejected.
func NewLinkBuilder(base string) (*LinkBuilder, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("link base: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("link base: scheme %q not allowed", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("link base: missing host")
	}
	return &LinkBuilder{base: u}, nil
}

// MessageLink returns the deep link for one message.
func (b *LinkBuilder) MessageLink(messageID string) string {
	u := *b.base
	u.Path = strings.TrimRight(u.Path, "/") + "/mail/message"
	q := url.Values{}
	q.Set("id", messageID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Allowed reports whether a rendered link points at the provider host.
func (b *LinkBuilder) Allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == b.base.Scheme && u.Host == b.base.Host
}

// Host returns the whitelisted host, for health and logs.
func (b *LinkBuilder) Host() string { return b.base.Host }
