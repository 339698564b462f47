package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/kakaotech-large-scale-challenge/Backend/internal/ai"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/api"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/auth"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/config"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/events"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/gate"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/hub"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/logger"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/room"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/session"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/store"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/timeline"
	"github.com/kakaotech-large-scale-challenge/Backend/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("config load (%s): %v, using defaults", cfgPath, err)
		cfg = config.Default()
	}
	if s := os.Getenv("JWT_SECRET"); s != "" {
		cfg.App.JWTSecret = s
	}
	if cfg.App.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	kv := store.NewRedisKV(rdb)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := kv.Ping(pingCtx); err != nil {
		cancel()
		zlog.Fatalw("redis connect", "addr", cfg.Redis.Addr, "error", err)
	}
	cancel()
	zlog.Infow("redis connected", "addr", cfg.Redis.Addr)

	sessions := session.NewRegistry(kv, cfg.Redis.Prefix, cfg.SessionTTL)
	tl := timeline.NewStore(kv, cfg.Redis.Prefix)
	paginator := timeline.NewPaginator(tl, timeline.PaginatorOptions{
		Timeout:     cfg.PageTimeout,
		MaxRetries:  cfg.Pagination.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		Debounce:    cfg.GuardDebounce,
	})

	h := hub.New()
	relay := ai.NewRelay(ai.Unconfigured{}, tl, h, zlog)
	dir := room.NewDirectory(kv, cfg.Redis.Prefix)
	coord := room.NewCoordinator(dir, tl, paginator, relay, h, cfg.Pagination.PageSize, zlog)

	verifier := auth.NewJWTVerifier(cfg.App.JWTSecret)
	gatekeeper := gate.New(verifier, sessions, h, cfg.DuplicateGrace, zlog)

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPersisted)
	defer func() { _ = producer.Close() }()
	if producer != nil {
		tl.SetPublisher(producer)
	}

	handler := ws.NewHandler(gatekeeper, coord, tl, paginator, relay, h, ws.HandlerOptions{
		PageSize:      cfg.Pagination.PageSize,
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		MaxMsgSize:    cfg.WS.MaxMessageSizeBytes,
	}, zlog)

	app := api.NewServer(handler)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		zlog.Infow("starting realtime service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zlog.Fatalw("server error", "error", e)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zlog.Warnw("fiber shutdown", "error", err)
	}
	zlog.Info("shutting down")
}
