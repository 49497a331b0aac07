// Package friction detects signs of user difficulty: repeated clicks on the
// same element, drop-off points of failed journeys and erratic page
// navigation.
package friction

import (
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
)

// Repeat is a run of consecutive identical interactions. Count is the
// number of repeats after the first interaction of the run.
type Repeat struct {
	Element    string
	URL        string
	SessionID  string
	InstanceID string
	Count      int
}

// WindowStart is where a scan around lastIdealStep begins, a few
// interactions early so loops leading into the step are caught.
func WindowStart(lastIdealStep, before int) int {
	if s := lastIdealStep - before; s > 0 {
		return s
	}
	return 0
}

// DetectRepeated scans events from index start and reports every run
// whose repeat count reaches threshold.
func DetectRepeated(events []models.InteractionEvent, start, threshold int) []Repeat {
	if start < 0 {
		start = 0
	}
	if start >= len(events) {
		return nil
	}
	scan := events[start:]

	var out []Repeat
	current := scan[0]
	counter := 0
	flush := func() {
		if counter >= threshold {
			out = append(out, Repeat{
				Element:    descriptor(current),
				URL:        current.URL,
				SessionID:  current.SessionID,
				InstanceID: current.InstanceID,
				Count:      counter,
			})
		}
	}
	for _, ev := range scan[1:] {
		if sameInteraction(ev, current) {
			counter++
			continue
		}
		flush()
		current = ev
		counter = 0
	}
	flush()
	return out
}

func sameInteraction(ev, current models.InteractionEvent) bool {
	if ev.URL != current.URL {
		return false
	}
	if ev.ElementsChain == "" && current.ElementsChain == "" {
		return ev.Selector == current.Selector
	}
	return selector.Compare(ev.ElementsChain, current.ElementsChain)
}

// descriptor names the element of an interaction for friction keys.
func descriptor(ev models.InteractionEvent) string {
	if ev.Selector != "" {
		return ev.Selector
	}
	if xp := selector.XPath(ev.ElementsChain); xp != "" {
		return xp
	}
	return selector.Leaf(ev.ElementsChain)
}
