package digest

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"mailsense/core/domain"
)

// Synthesis: a deterministic template renders the digest HTML. No LLM output
// reaches this path; every interpolated value is escaped by html/template.
// Output is byte-stable for a fixed input and fixed now.

// maxCardsPerSender caps how many cards one sender contributes to a section
// so a chatty sender cannot swamp it.
const maxCardsPerSender = 3

type cardView struct {
	Number   int
	Subject  string
	From     string
	Label    string
	Link     string
	Entities []entityView
}

type entityView struct {
	Line  string
	Label string
}

type sectionView struct {
	Title    string
	Cards    []cardView
	Overflow int // cards suppressed by the per-sender cap
}

type digestView struct {
	Greeting string
	Sections []sectionView
}

var digestTemplate = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body>
<p class="greeting">{{.Greeting}}</p>
{{- range .Sections}}
<section>
<h2>{{.Title}}</h2>
{{- range .Cards}}
<div class="card" id="card-{{.Number}}">
<h3>({{.Number}}) {{.Subject}}</h3>
<p class="from">{{.From}}{{if .Label}} &middot; {{.Label}}{{end}}</p>
{{- range .Entities}}
<p class="entity">{{.Line}}{{if .Label}} &mdash; {{.Label}}{{end}}</p>
{{- end}}
{{- if .Link}}
<p><a href="{{.Link}}">Open</a></p>
{{- end}}
</div>
{{- end}}
{{- if gt .Overflow 0}}
<p class="overflow">and {{.Overflow}} more</p>
{{- end}}
</section>
{{- end}}
</body>
</html>
`))

// entityLine summarizes one entity for its card.
func entityLine(e *domain.Entity) string {
	switch e.Variant {
	case domain.EntityFlight:
		line := "Flight " + e.Flight.FlightNumber
		if e.Flight.Departure != "" && e.Flight.Arrival != "" {
			line += " " + e.Flight.Departure + " to " + e.Flight.Arrival
		}
		return line
	case domain.EntityEvent:
		return e.Event.Title
	case domain.EntityDeadline:
		return "Due: " + e.Deadline.What
	case domain.EntityReminder:
		return e.Reminder.What
	case domain.EntityDelivery:
		if e.Delivery.Delivered {
			return "Delivered: " + e.Delivery.TrackingNumber
		}
		return "Package " + e.Delivery.TrackingNumber
	case domain.EntityPromo:
		return e.Promo.Offer
	case domain.EntityNotification:
		return e.Notification.Summary
	default:
		return e.SourceSubject
	}
}

// buildView assembles the deterministic view model: sections in fixed
// order, cards in input-message order, the per-sender cap applied, cards
// numbered globally in render order.
func buildView(
	messages []domain.ClassifiedEmail,
	t1 map[string]domain.DigestSection,
	entities []domain.Entity,
	greeting string,
	links *LinkBuilder,
) (*digestView, map[domain.DigestSection][]int) {
	entitiesByMsg := make(map[string][]*domain.Entity)
	for i := range entities {
		e := &entities[i]
		entitiesByMsg[e.SourceMessageID] = append(entitiesByMsg[e.SourceMessageID], e)
	}

	view := &digestView{Greeting: greeting}
	index := make(map[domain.DigestSection][]int)
	number := 0

	for _, section := range domain.RenderedSections {
		sv := sectionView{Title: domain.SectionTitles[section]}
		senderCount := make(map[string]int)

		for i := range messages {
			msg := &messages[i]
			if t1[msg.Email.ID] != section {
				continue
			}
			sender := strings.ToLower(msg.Email.SenderDomain())
			senderCount[sender]++
			if senderCount[sender] > maxCardsPerSender {
				sv.Overflow++
				continue
			}

			number++
			card := cardView{
				Number:  number,
				Subject: msg.Email.Subject,
				From:    msg.Email.From,
				Label:   string(msg.Classification.ClientLabel),
			}
			if links != nil {
				card.Link = links.MessageLink(msg.Email.ID)
			}
			for _, e := range entitiesByMsg[msg.Email.ID] {
				card.Entities = append(card.Entities, entityView{
					Line:  entityLine(e),
					Label: e.RelativeLabel,
				})
			}
			sv.Cards = append(sv.Cards, card)
			index[section] = append(index[section], i)
		}

		if len(sv.Cards) > 0 || sv.Overflow > 0 {
			view.Sections = append(view.Sections, sv)
		}
	}
	return view, index
}

func renderStage(links *LinkBuilder) *Stage {
	return &Stage{
		Name:      "synthesize",
		DependsOn: []string{"enrich"},
		Inputs:    []Key{KeyMessages, KeyT1Sections, KeyEntities, KeyGreeting},
		Outputs:   []Key{KeyHTML, KeySectionIndex},
		Run: func(ctx context.Context, sc *StageContext) error {
			mv, err := sc.Get(KeyMessages)
			if err != nil {
				return err
			}
			t1v, err := sc.Get(KeyT1Sections)
			if err != nil {
				return err
			}
			ev, err := sc.Get(KeyEntities)
			if err != nil {
				return err
			}
			gv, err := sc.Get(KeyGreeting)
			if err != nil {
				return err
			}
			messages := mv.([]domain.ClassifiedEmail)
			t1 := t1v.(map[string]domain.DigestSection)
			entities, _ := ev.([]domain.Entity)
			greeting, _ := gv.(string)

			view, index := buildView(messages, t1, entities, greeting, links)
			var buf strings.Builder
			if err := digestTemplate.Execute(&buf, view); err != nil {
				return fmt.Errorf("render: %w", err)
			}
			if err := sc.Set(KeyHTML, buf.String()); err != nil {
				return err
			}
			return sc.Set(KeySectionIndex, index)
		},
	}
}

// renderFallback is the deterministic minimal digest used when the full
// render cannot be trusted: section counts only, no content.
func renderFallback(t1 map[string]domain.DigestSection) (string, map[domain.DigestSection][]int) {
	counts := make(map[domain.DigestSection]int)
	for _, section := range t1 {
		if section != domain.SectionSkip {
			counts[section]++
		}
	}
	var buf strings.Builder
	buf.WriteString("<!DOCTYPE html>\n<html>\n<body>\n<p>Your digest is temporarily unavailable.</p>\n<ul>\n")
	for _, section := range domain.RenderedSections {
		if counts[section] > 0 {
			fmt.Fprintf(&buf, "<li>%s: %d</li>\n", domain.SectionTitles[section], counts[section])
		}
	}
	buf.WriteString("</ul>\n</body>\n</html>\n")
	return buf.String(), map[domain.DigestSection][]int{}
}
