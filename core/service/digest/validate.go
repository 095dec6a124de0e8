package digest

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"

	"mailsense/core/domain"
)

// Validation: the rendered HTML is checked before it leaves the pipeline.
// A failed check swaps in the minimal fallback digest rather than emitting
// broken output.

var (
	cardIDRe  = regexp.MustCompile(`id="card-(\d+)"`)
	cardRefRe = regexp.MustCompile(`\((\d+)\)`)
	hrefRe    = regexp.MustCompile(`href="([^"]*)"`)
)

// checkRendered verifies reference integrity, the link whitelist, and
// section counts. Returns nil when the output is sound.
func checkRendered(htmlOut string, index map[domain.DigestSection][]int, links *LinkBuilder) error {
	cards := make(map[int]bool)
	for _, m := range cardIDRe.FindAllStringSubmatch(htmlOut, -1) {
		n, _ := strconv.Atoi(m[1])
		cards[n] = true
	}
	for _, m := range cardRefRe.FindAllStringSubmatch(htmlOut, -1) {
		n, _ := strconv.Atoi(m[1])
		if !cards[n] {
			return fmt.Errorf("reference (%d) resolves to no card", n)
		}
	}

	if links != nil {
		for _, m := range hrefRe.FindAllStringSubmatch(htmlOut, -1) {
			raw := html.UnescapeString(m[1])
			if !links.Allowed(raw) {
				return fmt.Errorf("link %q outside provider whitelist", raw)
			}
		}
	}

	// Rendered card count can fall below the index only via the per-sender
	// cap, which removes from both. They must agree exactly.
	total := 0
	for _, ids := range index {
		total += len(ids)
	}
	if len(cards) != total {
		return fmt.Errorf("rendered %d cards, section index has %d", len(cards), total)
	}
	return nil
}

func validateStage(links *LinkBuilder) *Stage {
	return &Stage{
		Name:      "validate",
		DependsOn: []string{"synthesize"},
		Inputs:    []Key{KeyHTML, KeySectionIndex, KeyT1Sections},
		Outputs:   []Key{KeyHTML, KeySectionIndex},
		Run: func(ctx context.Context, sc *StageContext) error {
			hv, err := sc.Get(KeyHTML)
			if err != nil {
				return err
			}
			iv, err := sc.Get(KeySectionIndex)
			if err != nil {
				return err
			}
			htmlOut, _ := hv.(string)
			index, _ := iv.(map[domain.DigestSection][]int)

			if checkErr := checkRendered(htmlOut, index, links); checkErr != nil {
				sc.Warn("render rejected, using fallback: %v", checkErr)
				t1v, err := sc.Get(KeyT1Sections)
				if err != nil {
					return err
				}
				t1, _ := t1v.(map[string]domain.DigestSection)
				fallbackHTML, fallbackIndex := renderFallback(t1)
				if err := sc.Set(KeyHTML, fallbackHTML); err != nil {
					return err
				}
				return sc.Set(KeySectionIndex, fallbackIndex)
			}
			return nil
		},
	}
}
