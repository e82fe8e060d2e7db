package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"tasklane/api"
	"tasklane/config"
	"tasklane/domain"
	"tasklane/events"
	"tasklane/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetLevel(cfg.LogLevel)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	base, err := storage.New(cfg.Storage.ConnectionString, cfg.Storage.TasksTable, cfg.Storage.EventsQueue)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	redisOpts, err := cfg.Redis.RedisOptions()
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	store := storage.NewCache(base, rc, cfg.Redis.CacheTTL)
	deduper := api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
	publisher := events.NewPublisher(rc, cfg.Redis.StatusChannel)

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// status changes applied by other instances invalidate our cached lists
	go events.Subscribe(ctx, logger, rc, cfg.Redis.StatusChannel, func(ev domain.StatusChangedEvent) {
		store.Evict(ctx, ev.UserID)
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("tasklane"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{Store: store, Auth: auth, Deduper: deduper, Publisher: publisher}, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

func newAuth(cfg config.AuthConfig) (*api.Auth, error) {
	if cfg.LocalMode == "hs256" {
		return api.NewAuth(api.AuthOptions{SharedSecret: []byte(cfg.SharedSecret)}), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthOptions{
		JWKS:        jwks,
		Audience:    cfg.Auth0Audience,
		Issuer:      "https://" + cfg.Auth0Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}), nil
}
