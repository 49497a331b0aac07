// Package insights turns journey instances and their interactions into
// per-journey analytics: completion metrics, step funnels, alternative
// paths and friction.
package insights

import (
	"math"
	"sort"

	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
	"github.com/eitanko/Suggesty-backend/urlpattern"
)

// Completion counts instances by outcome.
type Completion struct {
	Total        int
	Completed    int
	Failed       int
	InProgress   int
	Direct       int
	Indirect     int
	Rate         float64
	IndirectRate float64
	MedianMs     int64
}

func CompletionOf(instances []models.JourneyInstance) Completion {
	var c Completion
	var durations []int64
	for _, inst := range instances {
		c.Total++
		switch inst.Status {
		case models.StatusCompleted:
			c.Completed++
			if inst.CompletionType == models.CompletionIndirect {
				c.Indirect++
			} else {
				c.Direct++
			}
			d := inst.EndTime.Sub(inst.StartTime).Milliseconds()
			if d < 0 {
				d = 0
			}
			durations = append(durations, d)
		case models.StatusFailed:
			c.Failed++
		default:
			c.InProgress++
		}
	}
	c.Rate = models.Rate(c.Completed, c.Total)
	c.IndirectRate = models.Rate(c.Indirect, c.Completed)
	c.MedianMs = median(durations)
	return c
}

func median(vals []int64) int64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Slice(vals, func(a, b int) bool { return vals[a] < vals[b] })
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// FrequentAltPaths lists off-path elements touched during indirect
// completions, grouped by URL pattern. Each element counts once per
// instance; frequency is the share of indirect completions touching it.
func FrequentAltPaths(instances []models.JourneyInstance, steps []models.Step, interactions map[string][]models.InteractionEvent) map[string][]models.AltPath {
	ideal := make(map[string]bool, len(steps))
	for _, s := range steps {
		ideal[s.Selector] = true
	}

	type key struct{ sel, url string }
	counts := map[key]int{}
	indirect := 0
	for _, inst := range instances {
		if inst.Status != models.StatusCompleted || inst.CompletionType != models.CompletionIndirect {
			continue
		}
		indirect++
		seen := map[key]bool{}
		for _, ev := range interactions[inst.ID] {
			if ev.IsMatch {
				continue
			}
			sel := selectorOf(ev)
			if sel == "" || ideal[sel] {
				continue
			}
			k := key{sel: sel, url: urlpattern.ExtractBasePattern(ev.URL)}
			if !seen[k] {
				seen[k] = true
				counts[k]++
			}
		}
	}

	out := map[string][]models.AltPath{}
	for k, n := range counts {
		out[k.url] = append(out[k.url], models.AltPath{
			Selector:  k.sel,
			Frequency: math.Round(models.Rate(n, indirect)*100) / 100,
		})
	}
	for url := range out {
		paths := out[url]
		sort.Slice(paths, func(a, b int) bool {
			if paths[a].Frequency != paths[b].Frequency {
				return paths[a].Frequency > paths[b].Frequency
			}
			return paths[a].Selector < paths[b].Selector
		})
	}
	return out
}

func selectorOf(ev models.InteractionEvent) string {
	if ev.Selector != "" {
		return ev.Selector
	}
	return selector.XPath(ev.ElementsChain)
}
