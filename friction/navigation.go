package friction

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eitanko/Suggesty-backend/models"
)

// Navigation is one navigation anomaly within a session.
type Navigation struct {
	EventName string
	Kind      models.FrictionKind
	Pathname  string
	Element   string
	SessionID string
	PersonID  string
	Dwell     *time.Duration
	Why       string
}

// DetectNavigation flags back-and-forth moves, bounces and stalls per
// session. Dwell on a page is the time until the next distinct pathname;
// the last page of a session has no dwell.
func DetectNavigation(events []models.RawEvent, bounce, stall time.Duration) []Navigation {
	sessions := map[string][]models.RawEvent{}
	var order []string
	for _, e := range events {
		if e.SessionID == "" || e.Pathname == "" {
			continue
		}
		if _, ok := sessions[e.SessionID]; !ok {
			order = append(order, e.SessionID)
		}
		sessions[e.SessionID] = append(sessions[e.SessionID], e)
	}

	var out []Navigation
	for _, sid := range order {
		evts := sessions[sid]
		sort.SliceStable(evts, func(a, b int) bool { return evts[a].Timestamp.Before(evts[b].Timestamp) })

		var trail []models.RawEvent
		for _, e := range evts {
			if len(trail) == 0 || trail[len(trail)-1].Pathname != e.Pathname {
				trail = append(trail, e)
			}
		}

		var visited []string
		for i, e := range trail {
			var dwell *time.Duration
			if i+1 < len(trail) {
				d := trail[i+1].Timestamp.Sub(e.Timestamp)
				dwell = &d
			}
			base := Navigation{SessionID: sid, PersonID: e.DistinctID, Pathname: e.Pathname, Dwell: dwell}

			if n := len(visited); n >= 2 && e.Pathname == visited[n-2] {
				nav := base
				nav.EventName = models.FrictionEventBacktrack
				nav.Kind = models.FrictionBacktracking
				nav.Element = strings.Join([]string{visited[n-2], visited[n-1], e.Pathname}, " > ")
				nav.Why = "Back-and-forth navigation detected"
				out = append(out, nav)
			}
			if dwell != nil && *dwell <= bounce {
				nav := base
				nav.EventName = models.FrictionEventBounce
				nav.Kind = models.FrictionBacktracking
				nav.Element = e.Pathname
				nav.Why = fmt.Sprintf("Users spend very little time (%.1fs) on %s", dwell.Seconds(), e.Pathname)
				out = append(out, nav)
			}
			if dwell != nil && *dwell >= stall {
				nav := base
				nav.EventName = models.FrictionEventStall
				nav.Kind = models.FrictionDelay
				nav.Element = e.Pathname
				nav.Why = fmt.Sprintf("Users spend too long (%.1fs) on %s, may be stuck", dwell.Seconds(), e.Pathname)
				out = append(out, nav)
			}
			visited = append(visited, e.Pathname)
		}
	}
	return out
}
