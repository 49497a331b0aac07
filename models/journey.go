// models/journey.go
package models

import (
	"sort"
	"time"
)

type JourneyStatus string

const (
	JourneyActive   JourneyStatus = "ACTIVE"
	JourneyDraft    JourneyStatus = "DRAFT"
	JourneyArchived JourneyStatus = "ARCHIVED"
)

// Journey is an admin-defined ideal path.
type Journey struct {
	ID        string        `json:"id"`
	AccountID int64         `json:"accountId"`
	Name      string        `json:"name"`
	Status    JourneyStatus `json:"status"`
	Steps     []Step        `json:"steps"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Step is one expected interaction on the ideal path.
type Step struct {
	Index         int       `json:"index"`
	Name          string    `json:"name,omitempty"`
	URL           string    `json:"url"`
	ElementsChain string    `json:"elementsChain"`
	Selector      string    `json:"selector"`
	EventType     string    `json:"eventType,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// OrderedSteps returns a copy of the steps sorted by their stored ordinal.
func (j *Journey) OrderedSteps() []Step {
	steps := make([]Step, len(j.Steps))
	copy(steps, j.Steps)
	sort.SliceStable(steps, func(a, b int) bool { return steps[a].Index < steps[b].Index })
	return steps
}

type InstanceStatus string

const (
	StatusInProgress InstanceStatus = "IN_PROGRESS"
	StatusCompleted  InstanceStatus = "COMPLETED"
	StatusFailed     InstanceStatus = "FAILED"
)

type CompletionType string

const (
	CompletionNone     CompletionType = ""
	CompletionDirect   CompletionType = "DIRECT"
	CompletionIndirect CompletionType = "INDIRECT"
)

// FailureTimeout is the reason stamped by the stale-instance sweep.
const FailureTimeout = "timeout"

// JourneyInstance is one person's attempt at a journey.
type JourneyInstance struct {
	ID             string         `json:"id"`
	AccountID      int64          `json:"accountId"`
	JourneyID      string         `json:"journeyId"`
	PersonID       string         `json:"personId"`
	SessionID      string         `json:"sessionId"`
	Status         InstanceStatus `json:"status"`
	CompletionType CompletionType `json:"completionType,omitempty"`
	CurrentStep    int            `json:"currentStep"`
	TotalSteps     int            `json:"totalSteps"`
	Extraneous     bool           `json:"extraneous"`
	FailureReason  string         `json:"failureReason,omitempty"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `json:"endTime"`
}

// InteractionEvent is a raw event attributed to a journey instance.
type InteractionEvent struct {
	ID            string    `json:"id"`
	InstanceID    string    `json:"instanceId"`
	AccountID     int64     `json:"accountId"`
	RawEventID    int64     `json:"rawEventId"`
	SessionID     string    `json:"sessionId"`
	EventType     string    `json:"eventType"`
	URL           string    `json:"url"`
	ElementsChain string    `json:"elementsChain"`
	Selector      string    `json:"selector"`
	IsMatch       bool      `json:"isMatch"`
	Timestamp     time.Time `json:"timestamp"`
}
