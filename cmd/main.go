package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fathima-sithara/chat-relay/internal/api"
	"github.com/fathima-sithara/chat-relay/internal/auth"
	"github.com/fathima-sithara/chat-relay/internal/config"
	"github.com/fathima-sithara/chat-relay/internal/kafka"
	"github.com/fathima-sithara/chat-relay/internal/metric"
	"github.com/fathima-sithara/chat-relay/internal/middleware"
	redisstore "github.com/fathima-sithara/chat-relay/internal/redis"
	"github.com/fathima-sithara/chat-relay/internal/repository"
	"github.com/fathima-sithara/chat-relay/internal/service"
	"github.com/fathima-sithara/chat-relay/internal/utils"
	"github.com/fathima-sithara/chat-relay/internal/ws"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := utils.NewLogger(cfg.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	if cfg.Metrics.Enabled {
		metric.Init()
	}

	ctx := context.Background()

	var repo repository.MessageRepository
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warnw("using in-memory message store, data is lost on restart")
		repo = repository.NewMemoryStore()
	default:
		client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI, time.Duration(cfg.Mongo.ConnectTimeoutSecs)*time.Second, logger)
		if err != nil {
			logger.Fatalw("mongo connect failed", "error", err)
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		repo = repository.NewMongoRepository(client.Database(cfg.Mongo.Database), cfg.Mongo.MessagesCollection)
		logger.Infow("connected to mongo", "database", cfg.Mongo.Database)
	}

	var events, notifications kafka.Publisher = kafka.Nop{}, kafka.Nop{}
	if cfg.Kafka.Enabled {
		events = kafka.NewAsync(kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessages, logger), cfg.Kafka.QueueSize, 5*time.Second, logger)
		notifications = kafka.NewAsync(kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, logger), cfg.Kafka.QueueSize, 5*time.Second, logger)
		logger.Infow("kafka publishing enabled", "brokers", cfg.Kafka.Brokers)
	}
	defer events.Close()
	defer notifications.Close()

	var (
		rdb     *goredis.Client
		mirror  ws.PresenceMirror
		shared  api.PresenceReader
		limiter *middleware.RateLimiter
	)
	if cfg.Redis.Enabled {
		rdb, err = redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 10*time.Second, logger)
		if err != nil {
			logger.Fatalw("redis connect failed", "error", err)
		}
		defer rdb.Close()
		p := redisstore.NewPresence(rdb, cfg.Redis.Prefix, cfg.PresenceTTL)
		mirror, shared = p, p
		if cfg.RateLimit.Enabled {
			limiter = middleware.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.Limit, cfg.RateWindow, logger)
		}
	}

	var jv *auth.JWTValidator
	if cfg.Auth.Enabled {
		jv, err = auth.NewJWTValidatorHS256(cfg.Auth.JWTSecret)
		if err != nil {
			logger.Fatalw("jwt validator init failed", "error", err)
		}
	}

	svc := service.NewMessageService(repo, events, logger)
	hub := ws.NewHub(mirror, logger)
	wsSrv := ws.NewServer(hub, jv, notifications, ws.Options{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:     cfg.WS.SendBuffer,
		RatePerSec:     cfg.WS.RateLimitPerSec,
	}, logger)

	app := api.NewServer(api.Deps{
		Handlers:    api.NewHandlers(svc, api.FallbackPresence{Shared: shared, Local: hub, Log: logger}, cfg.RequestTimeout, logger),
		WS:          wsSrv,
		RateLimiter: limiter,
		CORSOrigins: cfg.App.CORSOrigins,
		Metrics:     cfg.Metrics.Enabled,
		Log:         logger,
	})

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		logger.Infow("starting chat relay", "addr", addr, "storage", cfg.Storage.Driver)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		logger.Errorw("server error", "error", e)
	case s := <-sig:
		logger.Infow("signal received", "signal", s.String())
	}

	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		logger.Errorw("fiber shutdown error", "error", err)
	}
	logger.Infow("shutdown complete")
}
