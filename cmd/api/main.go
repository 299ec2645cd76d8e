package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-ivr/internal/calllog"
	"restaurant-ivr/internal/config"
	"restaurant-ivr/internal/convai"
	"restaurant-ivr/internal/notify"
	"restaurant-ivr/internal/restaurants"
	"restaurant-ivr/internal/session"
	"restaurant-ivr/internal/telephony"
	"restaurant-ivr/pkg/logger"
	"restaurant-ivr/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is optional; without it the per-restaurant call cap is off.
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	orch, err := buildOrchestrator(cfg, db, rdb, log)
	if err != nil {
		log.Error("orchestrator init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, "/media-stream"))

	registerRoutes(r, orch, db, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No ReadTimeout/WriteTimeout: media-stream websockets live for
		// the whole call.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func buildOrchestrator(cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*session.Orchestrator, error) {
	convaiClient, err := convai.NewClient(convai.ClientOptions{
		WSBaseURL:       cfg.ConvAI.WSBaseURL,
		APIKey:          cfg.ConvAI.APIKey,
		ConnectTimeout:  cfg.ConvAI.ConnectTimeout,
		AudioQueueDepth: cfg.Session.AudioQueueDepth,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := telephony.NewTokenIssuer(cfg.Stream.TokenSecret, cfg.Stream.TokenTTL)
	if err != nil {
		return nil, err
	}

	return session.NewOrchestrator(session.Options{
		Resolver:           restaurants.NewResolver(restaurants.NewPGStore(db)),
		Dialer:             session.NewConvAIDialer(convaiClient),
		Control:            telephony.NewTwilioControl(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken),
		Tokens:             tokens,
		CallLog:            calllog.NewService(calllog.NewPGRepo(db)),
		Notifier:           notify.NewLogNotifier(log),
		Redis:              rdb,
		StreamURL:          cfg.MediaStreamURL(),
		Session:            cfg.Session,
		StreamStartTimeout: cfg.Stream.TokenTTL,
		Logger:             log,
	})
}
