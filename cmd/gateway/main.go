package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cellar/internal/config"
	h "github.com/fjod/go_cellar/internal/http"
	"github.com/fjod/go_cellar/internal/notify"
	"github.com/fjod/go_cellar/internal/poller"
	"github.com/fjod/go_cellar/internal/repository"
	"github.com/fjod/go_cellar/internal/service"
	"github.com/fjod/go_cellar/pkg/logger"
)

const cartTTL = 7 * 24 * time.Hour

func main() {
	config.LoadDotEnv()
	cfg := config.LoadGateway()

	log, err := logger.New(cfg.AppEnv, cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	cancelPing()

	hub := notify.NewHub(log.Named("notify"))
	defer hub.Close()

	catalog, err := repository.OpenCatalog(cfg.CatalogDBPath)
	if err != nil {
		log.Fatal("failed to open catalog", zap.String("path", cfg.CatalogDBPath), zap.Error(err))
	}
	defer catalog.Close()

	cartService := service.NewCartService(
		repository.NewRedisRepository(redisClient, cartTTL),
		catalog,
		log.Named("cart"),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(
			poller.NewKafkaReader(cfg.CheckoutTopic, cfg.KafkaBrokers...),
			cartService,
			hub,
			log.Named("poller"),
		)
		defer p.Close()
		go p.Run(ctx)
		log.Info("checkout consumer started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.CheckoutTopic))
	}

	router := h.NewRouter(h.RouterConfig{
		JWTSecret:         []byte(cfg.JWTSecret),
		AdminRoleID:       cfg.AdminRoleID,
		RequestTimeout:    cfg.RequestTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, cartService, hub, log.Named("http"))

	// WriteTimeout stays zero: SSE responses are open-ended. Streams end
	// when ctx is cancelled on shutdown.
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     otelhttp.NewHandler(router, "gateway"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info("gateway starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
