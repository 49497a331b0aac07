package friction

import (
	"github.com/eitanko/Suggesty-backend/models"
)

// DropOff attributes one failed instance to the ideal step the user
// should have completed next.
type DropOff struct {
	Index      int
	Element    string
	URL        string
	SessionID  string
	InstanceID string
	Reasons    []Repeat
}

// ClampIndex maps a failed instance's current step to a zero-based ideal
// step in [0, total-1]. Corrupt indices are pulled into range.
func ClampIndex(currentStep, total int) int {
	idx := currentStep - 1
	if idx > total-1 {
		idx = total - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// DropOffs builds the drop-off distribution for a journey's failed
// instances. steps must be in ordinal order; interactions are grouped by
// instance id.
func DropOffs(instances []models.JourneyInstance, steps []models.Step, interactions map[string][]models.InteractionEvent, threshold, before int) (map[int]int, []DropOff) {
	dist := map[int]int{}
	if len(steps) == 0 {
		return dist, nil
	}
	var out []DropOff
	for _, inst := range instances {
		if inst.Status != models.StatusFailed {
			continue
		}
		idx := ClampIndex(inst.CurrentStep, len(steps))
		dist[idx]++

		reasons := DetectRepeated(interactions[inst.ID], WindowStart(idx, before), threshold)
		step := steps[idx]
		out = append(out, DropOff{
			Index:      idx,
			Element:    step.Selector,
			URL:        step.URL,
			SessionID:  inst.SessionID,
			InstanceID: inst.ID,
			Reasons:    dedupe(reasons),
		})
	}
	return dist, out
}

func dedupe(in []Repeat) []Repeat {
	if len(in) < 2 {
		return in
	}
	seen := map[Repeat]bool{}
	out := in[:0:0]
	for _, r := range in {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
