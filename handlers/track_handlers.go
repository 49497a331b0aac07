package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/middleware"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/selector"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/urlpattern"
)

// TrackHandlers is the ingestion boundary. Archive may be nil.
type TrackHandlers struct {
	Store   store.Store
	Archive store.Archive
	now     func() time.Time
	log     *logger.Logger
}

func NewTrackHandlers(s store.Store, archive store.Archive, log *logger.Logger) *TrackHandlers {
	return &TrackHandlers{Store: s, Archive: archive, now: time.Now, log: log.With("handler", "track")}
}

// IsAdminEvent reports whether any element of the chain carries
// data-is-admin="true". Admin clicks are not user behaviour.
func IsAdminEvent(chain string) bool {
	for _, el := range selector.Parse(chain) {
		if el.Attributes["data-is-admin"] == "true" {
			return true
		}
	}
	return false
}

// BuildRawEvent turns a payload into the row written for accountID.
func BuildRawEvent(accountID int64, p models.TrackPayload, now time.Time) models.RawEvent {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return models.RawEvent{
		AccountID:     accountID,
		DistinctID:    p.DistinctID,
		SessionID:     p.SessionID,
		Event:         p.Event,
		EventType:     p.EventType,
		Pathname:      p.Pathname,
		CurrentURL:    urlpattern.Normalize(p.CurrentURL),
		ElementsChain: p.ElementsChain,
		Selector:      selector.XPath(p.ElementsChain),
		Timestamp:     ts.UTC(),
	}
}

func (h *TrackHandlers) TrackEvent(c *gin.Context) {
	var payload models.TrackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if IsAdminEvent(payload.ElementsChain) {
		h.log.Debug("ignoring admin event", "distinct_id", payload.DistinctID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "saved": 0})
		return
	}

	accountID := middleware.AccountID(c)
	ev := BuildRawEvent(accountID, payload, h.now())

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Store.InsertRawEvent(ctx, &ev); err != nil {
		h.log.Error("failed to save event", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "Failed to record event"})
		return
	}

	if h.Archive != nil {
		archived := models.ArchivedEvent{
			EventID:   strconv.FormatInt(ev.ID, 10),
			AccountID: accountID,
			EventType: ev.EventType,
			UserID:    ev.DistinctID,
			SessionID: ev.SessionID,
			Timestamp: ev.Timestamp,
			PagePath:  ev.Pathname,
			Selector:  ev.Selector,
			Referrer:  payload.Referrer,
			UserAgent: payload.UserAgent,
			IPAddress: c.ClientIP(),
		}
		// The archive only feeds stats; a failure must not lose the event.
		if err := h.Archive.InsertArchivedEvents(ctx, []models.ArchivedEvent{archived}); err != nil {
			h.log.Warn("failed to archive event", "event_id", ev.ID, "error", err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"status": "ok", "saved": 1})
}
