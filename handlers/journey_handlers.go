package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/eitanko/Suggesty-backend/journey"
	"github.com/eitanko/Suggesty-backend/lock"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/middleware"
	"github.com/eitanko/Suggesty-backend/models"
	"github.com/eitanko/Suggesty-backend/pipeline"
	"github.com/eitanko/Suggesty-backend/store"
)

// BatchRunner is the part of pipeline.Runner the API triggers.
type BatchRunner interface {
	RunAccount(ctx context.Context, accountID int64) (pipeline.AccountReport, error)
	FailStale(ctx context.Context, accountID int64) (int64, error)
}

type JourneyHandlers struct {
	Store  store.Store
	Runner BatchRunner
	log    *logger.Logger
}

func NewJourneyHandlers(s store.Store, runner BatchRunner, log *logger.Logger) *JourneyHandlers {
	return &JourneyHandlers{Store: s, Runner: runner, log: log.With("handler", "journeys")}
}

type JourneyRequest struct {
	ID     string               `json:"id"`
	Name   string               `json:"name" binding:"required"`
	Status models.JourneyStatus `json:"status"`
	Steps  []models.Step        `json:"steps" binding:"required,min=1"`
}

// SaveJourney creates or replaces an ideal path for the caller's account.
func (h *JourneyHandlers) SaveJourney(c *gin.Context) {
	var req JourneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	status := req.Status
	switch status {
	case "":
		status = models.JourneyDraft
	case models.JourneyActive, models.JourneyDraft, models.JourneyArchived:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown journey status"})
		return
	}

	j := models.Journey{ID: req.ID, AccountID: middleware.AccountID(c), Name: req.Name, Status: status, Steps: req.Steps}
	if _, err := journey.IdealPath(j); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ideal path", "details": err.Error()})
		return
	}
	if err := h.Store.SaveJourney(c.Request.Context(), &j); err != nil {
		h.log.Error("failed to save journey", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save journey"})
		return
	}
	c.JSON(http.StatusCreated, j)
}

// Process runs every batch pass for the caller's account.
func (h *JourneyHandlers) Process(c *gin.Context) {
	accountID := middleware.AccountID(c)
	rep, err := h.Runner.RunAccount(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			c.JSON(http.StatusConflict, gin.H{"error": "A run for this account is already in progress"})
			return
		}
		h.log.Error("batch run failed", "account_id", accountID, "error", err)
		rep.Error = err.Error()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Batch run failed", "report": rep})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *JourneyHandlers) FailStale(c *gin.Context) {
	accountID := middleware.AccountID(c)
	n, err := h.Runner.FailStale(c.Request.Context(), accountID)
	if err != nil {
		h.log.Error("failure sweep failed", "account_id", accountID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sweep stale journeys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failed": n})
}

func (h *JourneyHandlers) Analytics(c *gin.Context) {
	list, err := h.Store.Analytics(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		h.log.Error("failed to read analytics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve journey analytics"})
		return
	}
	if id := c.Query("journeyId"); id != "" {
		filtered := list[:0:0]
		for _, a := range list {
			if a.JourneyID == id {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []models.JourneyAnalytics{}
	}
	c.JSON(http.StatusOK, list)
}

// Friction lists friction rows, optionally filtered by journeyId and kind.
// journeyId=navigation selects the account-wide navigation rows.
func (h *JourneyHandlers) Friction(c *gin.Context) {
	rows, err := h.Store.Friction(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		h.log.Error("failed to read friction", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve friction"})
		return
	}
	journeyID, hasJourney := c.GetQuery("journeyId")
	if journeyID == "navigation" {
		journeyID = ""
	}
	kind := models.FrictionKind(strings.ToUpper(c.Query("kind")))

	out := []models.FrictionRecord{}
	for _, r := range rows {
		if hasJourney && r.JourneyID != journeyID {
			continue
		}
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, out)
}

func (h *JourneyHandlers) Pages(c *gin.Context) {
	pages, err := h.Store.PageUsage(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		h.log.Error("failed to read page usage", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve page usage"})
		return
	}
	if pages == nil {
		pages = []models.PageUsage{}
	}
	c.JSON(http.StatusOK, pages)
}

func (h *JourneyHandlers) LatestInsight(c *gin.Context) {
	in, err := h.Store.LatestInsight(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No insight generated yet"})
			return
		}
		h.log.Error("failed to read insight", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve insight"})
		return
	}
	c.JSON(http.StatusOK, in)
}
