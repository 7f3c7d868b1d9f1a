package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-admission/internal/auth"
	"ms-admission/internal/config"
	"ms-admission/internal/gateway"
	"ms-admission/internal/kafka"
	"ms-admission/internal/logger"
	"ms-admission/internal/redemption"
	"ms-admission/internal/store"
)

// gatePolicy resolves the configured event into a concrete admission
// window so the scan path never has to look the event up again.
func gatePolicy(ctx context.Context, cfg *config.Config, ticketStore *store.DB, appLogger *logger.Logger) redemption.GatePolicy {
	if cfg.Gate.EventID == "" {
		appLogger.Warn("GATE", "GATE_EVENT_ID not set; event and window checks disabled")
		return redemption.GatePolicy{}
	}

	event, err := ticketStore.GetEvent(ctx, cfg.Gate.EventID)
	if err != nil {
		appLogger.Fatal("GATE", "Failed to load gate event: "+err.Error())
	}

	return redemption.GatePolicy{
		EventID:  event.ID,
		OpensAt:  event.StartDate.Add(-cfg.Gate.OpenBefore),
		ClosesAt: event.EndDate.Add(cfg.Gate.CloseAfter),
	}
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	appLogger := logger.NewLogger("gate-service")
	defer appLogger.Close()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("[Database] Failed to open Postgres: %v", err)
	}
	defer sqldb.Close()
	if err := sqldb.Ping(); err != nil {
		log.Fatalf("[Database] Failed to connect to Postgres: %v", err)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Warn("REDIS", "Redis unreachable, throttling and token cache disabled: "+err.Error())
		redisClient = nil
	}

	var notifier redemption.Notifier
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		notifier = producer
	}

	ticketStore := store.NewDB(bunDB)
	policy := gatePolicy(context.Background(), cfg, ticketStore, appLogger)
	coordinator := redemption.NewCoordinator(ticketStore, policy, notifier, appLogger)

	var limiter *gateway.RateLimiter
	var tokenCache *auth.DeviceTokenCache
	if redisClient != nil {
		limiter = gateway.NewRateLimiter(redisClient, cfg.Gate.ScanRateLimit, cfg.Gate.ScanRateWindow)
		tokenCache = auth.NewDeviceTokenCache(redisClient)
	}

	handler := gateway.NewHandler(coordinator, limiter, appLogger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth.OIDCIssuer, tokenCache))
		r.Post("/api/v1/scan", handler.Scan)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("SERVER", "Gate service on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("SERVER", "HTTP error: "+err.Error())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	appLogger.Info("SERVER", "Gate service shutdown complete")
}
