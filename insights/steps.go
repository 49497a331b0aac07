package insights

import (
	"fmt"

	"github.com/eitanko/Suggesty-backend/friction"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
	"github.com/eitanko/Suggesty-backend/urlpattern"
)

// Delayed is a transition into an ideal step that took longer than the
// multiplier allows. Each session is reported at most once per step.
type Delayed struct {
	Element    string
	URL        string
	SessionID  string
	InstanceID string
	DurationMs int64
}

// RateTables carry friction rates the step funnel looks up per step.
type RateTables struct {
	Repeated map[friction.RateKey]float64
	DropOff  map[friction.RateKey]float64
}

type stepStats struct {
	durations []float64
	sessions  map[string]bool
	delayed   map[string]bool
}

// Steps builds the funnel for an ideal path in ordinal order. sequences
// are the time-ordered interactions of direct completions. A transition
// counts towards step k when consecutive interactions land on steps k-1
// and k and the second one matched.
func Steps(steps []models.Step, sequences [][]models.InteractionEvent, multiplier float64, rates RateTables) ([]models.StepInsight, []Delayed) {
	n := len(steps)
	if n == 0 {
		return nil, nil
	}

	expected := make([]float64, n)
	hasExpected := make([]bool, n)
	for i := 1; i < n; i++ {
		prev, cur := steps[i-1].CreatedAt, steps[i].CreatedAt
		if prev.IsZero() || cur.IsZero() {
			continue
		}
		d := float64(cur.Sub(prev).Milliseconds())
		if d < 0 {
			d = 0
		}
		expected[i], hasExpected[i] = d, true
	}

	stats := make([]stepStats, n)
	for i := range stats {
		stats[i] = stepStats{sessions: map[string]bool{}, delayed: map[string]bool{}}
	}

	var delayed []Delayed
	for _, seq := range sequences {
		for j := 1; j < len(seq); j++ {
			prev, cur := seq[j-1], seq[j]
			if !cur.IsMatch {
				continue
			}
			d := cur.Timestamp.Sub(prev.Timestamp).Milliseconds()
			if d < 0 {
				continue
			}
			for k := 1; k < n; k++ {
				if !onStep(prev, steps[k-1]) || !onStep(cur, steps[k]) {
					continue
				}
				sess := sessionOf(cur)
				st := &stats[k]
				st.durations = append(st.durations, float64(d))
				st.sessions[sess] = true
				if hasExpected[k] && expected[k] > 0 && float64(d) > multiplier*expected[k] && !st.delayed[sess] {
					st.delayed[sess] = true
					delayed = append(delayed, Delayed{
						Element:    selectorOf(cur),
						URL:        urlpattern.ExtractBasePattern(cur.URL),
						SessionID:  cur.SessionID,
						InstanceID: cur.InstanceID,
						DurationMs: d,
					})
				}
				break
			}
		}
	}

	out := make([]models.StepInsight, 0, n)
	for i, s := range steps {
		st := stats[i]
		in := models.StepInsight{
			Key:            stepKey(i),
			Index:          s.Index,
			Name:           s.Name,
			URL:            s.URL,
			Selector:       s.Selector,
			AvgTimeMs:      mean(st.durations),
			ExpectedTimeMs: expected[i],
			DelayRate:      models.Rate(len(st.delayed), len(st.sessions)),
			DropOffRate:    lookup(rates.DropOff, s),
			RepeatedRate:   lookup(rates.Repeated, s),
			Anomalies:      []models.Anomaly{},
		}
		if in.DelayRate > 0 {
			in.Anomalies = append(in.Anomalies, anomaly("delay", in.DelayRate, "of users are delayed"))
		}
		if in.RepeatedRate > 0 {
			in.Anomalies = append(in.Anomalies, anomaly("repeated_interaction", in.RepeatedRate, "of users repeat this interaction"))
		}
		if in.DropOffRate > 0 {
			in.Anomalies = append(in.Anomalies, anomaly("drop_off", in.DropOffRate, "of users drop off here"))
		}
		if i+1 < n {
			next := stepKey(i + 1)
			in.NextStep = &next
		}
		out = append(out, in)
	}
	return out, delayed
}

func stepKey(i int) string { return fmt.Sprintf("step_%d", i+1) }

func anomaly(kind string, rate float64, detail string) models.Anomaly {
	severity := "medium"
	if rate > 0.5 {
		severity = "high"
	}
	return models.Anomaly{
		Type:     kind,
		Severity: severity,
		Detail:   fmt.Sprintf("%.0f%% %s", rate*100, detail),
	}
}

func onStep(ev models.InteractionEvent, step models.Step) bool {
	if !urlpattern.GlobMatches(ev.URL, step.URL) {
		return false
	}
	if selectorOf(ev) == step.Selector {
		return true
	}
	return ev.ElementsChain != "" && step.ElementsChain != "" && selector.Compare(ev.ElementsChain, step.ElementsChain)
}

func sessionOf(ev models.InteractionEvent) string {
	if ev.SessionID != "" {
		return ev.SessionID
	}
	return "instance:" + ev.InstanceID
}

// lookup returns the highest rate recorded for the step's element at a URL
// the step's pattern covers.
func lookup(m map[friction.RateKey]float64, step models.Step) float64 {
	var best float64
	for k, rate := range m {
		if k.Element != step.Selector {
			continue
		}
		if k.URL == step.URL || urlpattern.GlobMatches(k.URL, step.URL) {
			if rate > best {
				best = rate
			}
		}
	}
	return best
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
