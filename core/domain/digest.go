package domain

// DigestSection is where a message or entity lands in the rendered digest.
type DigestSection string

const (
	SectionSkip           DigestSection = "skip"
	SectionCritical       DigestSection = "critical"
	SectionToday          DigestSection = "today"
	SectionComingUp       DigestSection = "coming_up"
	SectionWorthKnowing   DigestSection = "worth_knowing"
	SectionEverythingElse DigestSection = "everything_else"
)

// RenderedSections lists the sections that appear in output, in render order.
// SectionSkip is deliberately absent.
var RenderedSections = []DigestSection{
	SectionCritical,
	SectionToday,
	SectionComingUp,
	SectionWorthKnowing,
	SectionEverythingElse,
}

// SectionTitles maps sections to their display headings.
var SectionTitles = map[DigestSection]string{
	SectionCritical:       "Critical now",
	SectionToday:          "Today",
	SectionComingUp:       "Coming up",
	SectionWorthKnowing:   "Worth knowing",
	SectionEverythingElse: "Everything else",
}

// DigestDTO is the /digest response body.
type DigestDTO struct {
	HTML         string                  `json:"html"`
	SessionID    string                  `json:"session_id"`
	SectionIndex map[DigestSection][]int `json:"section_index"`
	Warnings     []string                `json:"warnings,omitempty"`
}
