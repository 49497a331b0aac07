package models

import "time"

// JourneyAnalytics is the per-journey aggregate upserted after each pass.
type JourneyAnalytics struct {
	AccountID           int64                `json:"accountId"`
	JourneyID           string               `json:"journeyId"`
	TotalUsers          int                  `json:"totalUsers"`
	TotalCompleted      int                  `json:"totalCompleted"`
	TotalFailed         int                  `json:"totalFailed"`
	TotalInProgress     int                  `json:"totalInProgress"`
	CompletionRate      float64              `json:"completionRate"`
	IndirectRate        float64              `json:"indirectRate"`
	MedianCompletionMs  int64                `json:"medianCompletionMs"`
	DropOffDistribution map[int]int          `json:"dropOffDistribution"`
	FrictionScore       float64              `json:"frictionScore"`
	FrequentAltPaths    map[string][]AltPath `json:"frequentAltPaths"`
	StepInsights        []StepInsight        `json:"stepInsights"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// AltPath is an off-path element users of indirect completions touched.
type AltPath struct {
	Selector  string  `json:"selector"`
	Frequency float64 `json:"frequency"`
}

// StepInsight describes one ideal-path step in funnel order.
type StepInsight struct {
	Key            string    `json:"key"`
	Index          int       `json:"index"`
	Name           string    `json:"name,omitempty"`
	URL            string    `json:"url"`
	Selector       string    `json:"selector"`
	AvgTimeMs      float64   `json:"avgTimeMs"`
	ExpectedTimeMs float64   `json:"expectedTimeMs"`
	DelayRate      float64   `json:"delayRate"`
	DropOffRate    float64   `json:"dropOffRate"`
	RepeatedRate   float64   `json:"repeatedRate"`
	Anomalies      []Anomaly `json:"anomalies"`
	NextStep       *string   `json:"nextStep"`
}

type Anomaly struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Insight is the narrated summary kept per account run.
type Insight struct {
	ID        string    `json:"id"`
	AccountID int64     `json:"accountId"`
	Summary   string    `json:"summary"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
