package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fathima-sithara/sync-service/internal/api"
	"github.com/fathima-sithara/sync-service/internal/auth"
	"github.com/fathima-sithara/sync-service/internal/config"
	"github.com/fathima-sithara/sync-service/internal/events"
	"github.com/fathima-sithara/sync-service/internal/logger"
	"github.com/fathima-sithara/sync-service/internal/metrics"
	"github.com/fathima-sithara/sync-service/internal/presence"
	"github.com/fathima-sithara/sync-service/internal/push"
	"github.com/fathima-sithara/sync-service/internal/session"
	"github.com/fathima-sithara/sync-service/internal/store"
	"github.com/fathima-sithara/sync-service/internal/tokens"
	"github.com/fathima-sithara/sync-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	metrics.Init()

	mc, err := store.NewMongoClient(context.Background(), cfg.Mongo.URI)
	if err != nil {
		zlog.Fatalw("mongo init", "error", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	st := store.NewMongoStore(mc.Database(cfg.Mongo.DB))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	source, err := events.NewNATSSource(cfg.NATS.URL, zlog)
	if err != nil {
		zlog.Fatalw("change feed init", "error", err)
	}
	defer source.Close()

	hub := ws.NewHub(presence.NewStore(rdb, cfg.Redis.Prefix), zlog)
	pusher := push.NewClient(push.Config{
		Endpoint: cfg.Push.Endpoint,
		Timeout:  cfg.Push.Timeout(),
	}, zlog)
	registry := tokens.NewRegistry(st, zlog)

	sessions := session.NewManager(session.Deps{
		Store:    st,
		Source:   source,
		Hub:      hub,
		Push:     pusher,
		Registry: registry,
		Log:      zlog,
		Sync:     cfg.Sync,
	})

	jv, err := auth.NewJWTValidator(cfg.JWT.HSSecret)
	if err != nil {
		zlog.Fatalw("jwt init", "error", err)
	}

	app := api.NewServer(sessions, hub, jv)

	go func() {
		addr := ":" + cfg.App.PortString()
		if err := app.Listen(addr); err != nil {
			zlog.Fatalw("server listen", "error", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		addr := fmt.Sprintf(":%d", cfg.App.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			zlog.Warnw("metrics listen", "error", err)
		}
	}()
	zlog.Infow("sync-service started", "port", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sessions.CloseAll()
	_ = app.ShutdownWithContext(ctx)
	zlog.Infow("sync-service stopped")
}
