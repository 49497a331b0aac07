package models

import "time"

type FrictionKind string

const (
	FrictionRepeated     FrictionKind = "REPEATED"
	FrictionDelay        FrictionKind = "DELAY"
	FrictionError        FrictionKind = "ERROR"
	FrictionDropOff      FrictionKind = "DROP_OFF"
	FrictionBacktracking FrictionKind = "BACKTRACKING"
)

// Event names carried by friction records.
const (
	FrictionEventRepeated  = "repeated_interaction"
	FrictionEventDropOff   = "drop_off"
	FrictionEventDelay     = "delay"
	FrictionEventBacktrack = "NAV_BACKTRACK"
	FrictionEventBounce    = "NAV_BOUNCE"
	FrictionEventStall     = "NAV_STALL"
)

// FrictionKey is the natural key friction rows are upserted on.
type FrictionKey struct {
	AccountID int64        `json:"accountId"`
	JourneyID string       `json:"journeyId"`
	EventName string       `json:"eventName"`
	URL       string       `json:"url"`
	Element   string       `json:"element"`
	Kind      FrictionKind `json:"kind"`
}

// FrictionRecord aggregates one kind of friction at one place.
// Navigation friction is account wide and carries an empty JourneyID.
type FrictionRecord struct {
	FrictionKey
	Volume     int       `json:"volume"`
	TotalUsers int       `json:"totalUsers"`
	Rate       float64   `json:"rate"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Rate divides volume by users and yields 0 when there are none.
func Rate(volume, users int) float64 {
	if users <= 0 {
		return 0
	}
	return float64(volume) / float64(users)
}
