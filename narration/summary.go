package narration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/urlpattern"
)

const (
	topPages  = 20
	topFields = 5
	topIssues = 5
)

type PageSummary struct {
	Page    string `json:"page"`
	AvgTime string `json:"avgTime,omitempty"`
	Visits  int    `json:"visits"`
}

type FieldSummary struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
	Page   string `json:"page"`
}

type IssueSummary struct {
	FrictionType models.FrictionKind `json:"frictionType"`
	URL          string              `json:"url"`
	EventName    string              `json:"eventName"`
	Volume       int                 `json:"volume"`
}

type JourneySummary struct {
	JourneyID          string  `json:"journeyId"`
	TotalUsers         int     `json:"totalUsers"`
	CompletionRate     float64 `json:"completionRate"`
	IndirectRate       float64 `json:"indirectRate"`
	MedianCompletionMs int64   `json:"medianCompletionMs"`
	FrictionScore      float64 `json:"frictionScore"`
}

// Summary is what the narrator sees of an account.
type Summary struct {
	AccountID        int64            `json:"accountId"`
	GeneratedAt      time.Time        `json:"generatedAt"`
	Pages            []PageSummary    `json:"pages"`
	TopFields        []FieldSummary   `json:"topFields"`
	NavigationIssues []IssueSummary   `json:"navigationIssues"`
	Journeys         []JourneySummary `json:"journeys"`
}

func BuildSummary(ctx context.Context, s store.Store, accountID int64, now time.Time) (*Summary, error) {
	sum := &Summary{AccountID: accountID, GeneratedAt: now.UTC()}

	pages, err := s.PageUsage(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load page usage: %w", err)
	}
	sort.SliceStable(pages, func(a, b int) bool { return pages[a].TotalVisits > pages[b].TotalVisits })
	for i, p := range pages {
		if i == topPages {
			break
		}
		ps := PageSummary{Page: urlpattern.Pretty(p.Pathname), Visits: p.TotalVisits}
		if p.AvgTimeSeconds > 0 {
			ps.AvgTime = fmt.Sprintf("%.0fs", p.AvgTimeSeconds)
		}
		sum.Pages = append(sum.Pages, ps)
	}

	fields, err := s.TopEventUsage(ctx, accountID, "", topFields)
	if err != nil {
		return nil, fmt.Errorf("load event usage: %w", err)
	}
	for _, f := range fields {
		sum.TopFields = append(sum.TopFields, FieldSummary{
			Action: f.EventType + " " + f.Selector,
			Count:  f.Count,
			Page:   urlpattern.Pretty(f.Pathname),
		})
	}

	friction, err := s.Friction(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load friction: %w", err)
	}
	var nav []models.FrictionRecord
	for _, f := range friction {
		if f.JourneyID == "" && strings.HasPrefix(f.EventName, "NAV_") {
			nav = append(nav, f)
		}
	}
	sort.SliceStable(nav, func(a, b int) bool { return nav[a].Volume > nav[b].Volume })
	for i, f := range nav {
		if i == topIssues {
			break
		}
		sum.NavigationIssues = append(sum.NavigationIssues, IssueSummary{
			FrictionType: f.Kind,
			URL:          f.URL,
			EventName:    f.EventName,
			Volume:       f.Volume,
		})
	}

	analytics, err := s.Analytics(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load analytics: %w", err)
	}
	for _, a := range analytics {
		sum.Journeys = append(sum.Journeys, JourneySummary{
			JourneyID:          a.JourneyID,
			TotalUsers:         a.TotalUsers,
			CompletionRate:     a.CompletionRate,
			IndirectRate:       a.IndirectRate,
			MedianCompletionMs: a.MedianCompletionMs,
			FrictionScore:      a.FrictionScore,
		})
	}
	return sum, nil
}
