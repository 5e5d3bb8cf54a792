package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopchat/internal/api"
	"shopchat/internal/auth"
	"shopchat/internal/config"
	"shopchat/internal/conversation"
	"shopchat/internal/events"
	"shopchat/internal/redis"
	"shopchat/internal/service/ai"
	"shopchat/internal/service/assistant"
	"shopchat/internal/service/shop"
	"shopchat/internal/storage"
	"shopchat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("SHOPCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := cfg.BasicConfig.Database
	log.Printf("dbType: %s provider: %s", dbType, cfg.BasicConfig.Provider)
	dialect, err := storage.DialectFor(dbType)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create users and orders, then make sure the configured accounts exist.
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	if err := storage.Seed(context.Background(), db, dbType, cfg.BasicConfig.SeedUsers); err != nil {
		log.Fatalf("seed database: %v", err)
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chatModel, err := ai.NewChatModel(ctx, cfg.BasicConfig.Provider, cfg.Providers[cfg.BasicConfig.Provider])
	if err != nil {
		log.Fatalf("init chat model: %v", err)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			log.Fatalf("connect rabbitmq: %v", err)
		}
		publisher = rabbit
	}
	defer publisher.Close()

	ttl := time.Duration(cfg.BasicConfig.SessionTTLMinutes) * time.Minute
	shopService := shop.NewService(db, dialect, publisher)
	conversations := conversation.NewRedisStore(rdb, ttl)
	authService := auth.NewService(shopService, rdb, conversations, cfg.BasicConfig.JWTSecret, ttl)
	turns := assistant.NewDispatcher(ai.NewChatClient(chatModel), shopService)

	workers := worker.NewDispatcher(cfg.BasicConfig.Workers, cfg.BasicConfig.QueueSize)
	defer workers.Stop()
	invalidator := worker.NewInvalidator(rdb)
	if err := invalidator.Listen(ctx, workers); err != nil {
		log.Printf("worker invalidation disabled: %v", err)
		invalidator = nil
	}

	handlers := api.NewHandler(authService, conversations, turns, workers, invalidator, cfg.BasicConfig.SystemPrompt)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.BasicConfig.ServerAddress, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server stopped: %v", err)
	}
}
