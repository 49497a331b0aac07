package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/middleware"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/utils"
)

// StatsHandlers serves time-series stats from the raw event archive.
type StatsHandlers struct {
	Archive store.Archive
	now     func() time.Time
	log     *logger.Logger
}

func NewStatsHandlers(archive store.Archive, log *logger.Logger) *StatsHandlers {
	return &StatsHandlers{Archive: archive, now: time.Now, log: log.With("handler", "stats")}
}

// timeRange reads start/end as RFC3339, defaulting to the last 7 days.
func (h *StatsHandlers) timeRange(c *gin.Context) (time.Time, time.Time, error) {
	return utils.ParseRange(c.Query("start"), c.Query("end"), h.now(), 7*24*time.Hour)
}

func (h *StatsHandlers) interval(c *gin.Context) (string, bool) {
	interval := c.Query("interval")
	if !utils.IsValidInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter must be one of Minute, Hour, Day, Week, Month, Quarter, Year"})
		return "", false
	}
	return interval, true
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval, ok := h.interval(c)
	if !ok {
		return
	}
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetEventCountsOverTime(ctx, middleware.AccountID(c), interval, start, end, c.Query("eventType"))
	if err != nil {
		h.log.Error("error getting event counts over time", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueUsersOverTime(c *gin.Context) {
	interval, ok := h.interval(c)
	if !ok {
		return
	}
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetUniqueUsersOverTime(ctx, middleware.AccountID(c), interval, start, end)
	if err != nil {
		h.log.Error("error getting unique users over time", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique user statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetTopNPagePaths(c *gin.Context) {
	start, end, err := h.timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, err := utils.ParseLimit(c.Query("limit"), 10)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetTopNPagePaths(ctx, middleware.AccountID(c), start, end, limit)
	if err != nil {
		h.log.Error("error getting top page paths", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}
