package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/middleware"
	"github.com/eitanko/Suggesty-backend/store"
	"github.com/eitanko/Suggesty-backend/utils"
)

// RouterDeps wires the API. Archive may be nil, in which case the stats
// routes are not registered.
type RouterDeps struct {
	Store   store.Store
	Archive store.Archive
	Runner  BatchRunner
	Tokens  *utils.TokenIssuer
	Origins []string
	Log     *logger.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	auth := NewAuthHandlers(d.Store, d.Tokens, log)
	track := NewTrackHandlers(d.Store, d.Archive, log)
	journeys := NewJourneyHandlers(d.Store, d.Runner, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(d.Origins...))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	{
		api.POST("/signup", auth.Signup)
		api.POST("/login", auth.Login)
		api.POST("/logout", auth.Logout)
		api.POST("/events", middleware.APIKeyRequired(d.Store, log), track.TrackEvent)

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(d.Tokens, log))
		{
			protected.POST("/journeys", journeys.SaveJourney)
			protected.GET("/journeys/analytics", journeys.Analytics)
			protected.GET("/journeys/friction", journeys.Friction)
			protected.GET("/usage/pages", journeys.Pages)
			protected.GET("/insights/latest", journeys.LatestInsight)
			protected.POST("/process", journeys.Process)
			protected.POST("/process/fail-stale", journeys.FailStale)

			if d.Archive != nil {
				stats := NewStatsHandlers(d.Archive, log)
				group := protected.Group("/stats")
				group.GET("/event-counts", stats.GetEventCountsOverTime)
				group.GET("/unique-users", stats.GetUniqueUsersOverTime)
				group.GET("/top-paths", stats.GetTopNPagePaths)
			}
		}
	}
	return r
}
