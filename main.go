package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eitanko/Suggesty-backend/config"
	"github.com/eitanko/Suggesty-backend/handlers"
	"github.com/eitanko/Suggesty-backend/logger"
	"github.com/eitanko/Suggesty-backend/pipeline"
	"github.com/eitanko/Suggesty-backend/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Mode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := pipeline.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize services", "error", err)
	}
	defer svc.Close()

	secret := cfg.JWTSecret
	if secret == "" {
		log.Warn("JWT_SECRET_KEY not set, using an insecure development secret")
		secret = "dev-only-secret"
	}
	tokens, err := utils.NewTokenIssuer(secret, 24*time.Hour)
	if err != nil {
		log.Fatal("failed to initialize token issuer", "error", err)
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Store:   svc.Store,
		Archive: svc.Archive,
		Runner:  svc.Runner,
		Tokens:  tokens,
		Origins: []string{cfg.FEOrigin},
		Log:     log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("api server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api server failed to start", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("server exiting")
}
