package models

import "time"

type PageUsage struct {
	AccountID      int64     `json:"accountId"`
	Pathname       string    `json:"pathname"`
	AvgTimeSeconds float64   `json:"avgTimeSeconds"`
	TotalVisits    int       `json:"totalVisits"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type EventUsageKey struct {
	AccountID int64  `json:"accountId"`
	Pathname  string `json:"pathname"`
	EventType string `json:"eventType"`
	Selector  string `json:"selector"`
}

type EventUsage struct {
	EventUsageKey
	ElementsChain string    `json:"elementsChain"`
	Count         int       `json:"count"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type FormStatus string

const (
	FormAbandoned FormStatus = "abandoned"
	FormCompleted FormStatus = "completed"
)

type FieldEngagement struct {
	Field     string    `json:"field"`
	Timestamp time.Time `json:"timestamp"`
	Changes   int       `json:"changes"`
}

type FieldsEngaged struct {
	Fields   []string          `json:"fields"`
	Sequence []FieldEngagement `json:"sequence"`
	Unique   int               `json:"unique"`
}

// FormUsage tracks one form within one session.
type FormUsage struct {
	ID            string        `json:"id"`
	AccountID     int64         `json:"accountId"`
	SessionID     string        `json:"sessionId"`
	Pathname      string        `json:"pathname"`
	FormHash      string        `json:"formHash"`
	FormClass     string        `json:"formClass"`
	FormIndex     int           `json:"formIndex"`
	StartedAt     time.Time     `json:"startedAt"`
	SubmittedAt   *time.Time    `json:"submittedAt,omitempty"`
	DurationSec   *int          `json:"durationSec,omitempty"`
	Status        FormStatus    `json:"status"`
	InputCount    int           `json:"inputCount"`
	LastField     string        `json:"lastField,omitempty"`
	SubmitText    string        `json:"submitText,omitempty"`
	ElementsChain string        `json:"elementsChain"`
	FieldsEngaged FieldsEngaged `json:"fieldsEngaged"`
}
