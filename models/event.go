// models/event.go
package models

import (
	"strings"
	"time"
)

// Pass names a downstream consumer of raw events. Each pass owns one
// processed flag on RawEvent and never reads another pass's flag.
type Pass string

const (
	PassIdealPath  Pass = "ideal_path"
	PassFriction   Pass = "friction"
	PassPageUsage  Pass = "page_usage"
	PassEventUsage Pass = "event_usage"
	PassFormUsage  Pass = "form_usage"
)

// AllPasses lists every pass in the order the batch runner executes them.
var AllPasses = []Pass{PassIdealPath, PassFriction, PassPageUsage, PassEventUsage, PassFormUsage}

func (p Pass) Valid() bool {
	for _, known := range AllPasses {
		if p == known {
			return true
		}
	}
	return false
}

// Column returns the raw_events column that records this pass.
func (p Pass) Column() string {
	return "processed_" + string(p)
}

// RawEvent is one captured browser interaction as written by ingestion.
type RawEvent struct {
	ID            int64     `json:"id"`
	AccountID     int64     `json:"accountId"`
	DistinctID    string    `json:"distinctId"`
	SessionID     string    `json:"sessionId"`
	Event         string    `json:"event"`
	EventType     string    `json:"eventType"`
	Pathname      string    `json:"pathname"`
	CurrentURL    string    `json:"currentUrl"`
	ElementsChain string    `json:"elementsChain"`
	Selector      string    `json:"selector"`
	Timestamp     time.Time `json:"timestamp"`

	ProcessedIdealPath  bool `json:"processedIdealPath"`
	ProcessedFriction   bool `json:"processedFriction"`
	ProcessedPageUsage  bool `json:"processedPageUsage"`
	ProcessedEventUsage bool `json:"processedEventUsage"`
	ProcessedFormUsage  bool `json:"processedFormUsage"`
}

// Processed reports the flag owned by pass p.
func (e *RawEvent) Processed(p Pass) bool {
	switch p {
	case PassIdealPath:
		return e.ProcessedIdealPath
	case PassFriction:
		return e.ProcessedFriction
	case PassPageUsage:
		return e.ProcessedPageUsage
	case PassEventUsage:
		return e.ProcessedEventUsage
	case PassFormUsage:
		return e.ProcessedFormUsage
	}
	return false
}

// SetProcessed sets the flag owned by pass p.
func (e *RawEvent) SetProcessed(p Pass, v bool) {
	switch p {
	case PassIdealPath:
		e.ProcessedIdealPath = v
	case PassFriction:
		e.ProcessedFriction = v
	case PassPageUsage:
		e.ProcessedPageUsage = v
	case PassEventUsage:
		e.ProcessedEventUsage = v
	case PassFormUsage:
		e.ProcessedFormUsage = v
	}
}

// nonInteractive event types never take part in step matching.
var nonInteractive = map[string]bool{
	"pageview":  true,
	"pageleave": true,
	"change":    true,
	"submit":    true,
}

// Interactive reports whether the event can match a journey step.
func (e *RawEvent) Interactive() bool {
	t := strings.TrimPrefix(strings.ToLower(e.EventType), "$")
	return !nonInteractive[t]
}

// TrackPayload is the decoded body accepted by the ingestion endpoint.
type TrackPayload struct {
	Event         string    `json:"event" binding:"required"`
	EventType     string    `json:"event_type"`
	DistinctID    string    `json:"distinct_id" binding:"required"`
	SessionID     string    `json:"session_id"`
	Pathname      string    `json:"pathname"`
	CurrentURL    string    `json:"current_url"`
	ElementsChain string    `json:"elements_chain"`
	Timestamp     time.Time `json:"timestamp"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Referrer      string    `json:"referrer,omitempty"`
}

// ArchivedEvent is the ClickHouse mirror of a raw event used for
// time-series stats.
type ArchivedEvent struct {
	EventID   string    `json:"eventId"`
	AccountID int64     `json:"accountId"`
	EventType string    `json:"eventType"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	PagePath  string    `json:"pagePath"`
	Selector  string    `json:"selector"`
	Referrer  string    `json:"referrer"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress"`
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}
