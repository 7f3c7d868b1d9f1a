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
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-admission/internal/config"
	"ms-admission/internal/database/migrations"
	"ms-admission/internal/issuance"
	"ms-admission/internal/issuance/api"
	"ms-admission/internal/kafka"
	"ms-admission/internal/logger"
	"ms-admission/internal/store"
)

func connectDB(cfg *config.Config) *bun.DB {
	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("[Database] Failed to open Postgres: %v", err)
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("[Database] Failed to connect to Postgres: %v", err)
	}
	log.Println("[Database] Postgres connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	appLogger := logger.NewLogger("ticket-service")
	defer appLogger.Close()

	bunDB := connectDB(cfg)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		appLogger.Fatal("DATABASE", "Migrations failed: "+err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notifier issuance.Notifier
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{
			kafka.TopicRegistrationFinalized,
			kafka.TopicTicketIssued,
			kafka.TopicTicketAdmitted,
		}); err != nil {
			appLogger.Warn("KAFKA", "Topic setup failed: "+err.Error())
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		notifier = producer
	}

	ticketStore := store.NewDB(bunDB)
	service := issuance.NewService(ticketStore, notifier, appLogger)
	handler := api.NewHandler(service)

	// Registrations finalized by the purchase collaborator arrive on Kafka
	// and mint credentials the same way the HTTP input does.
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, kafka.TopicRegistrationFinalized, cfg.Kafka.GroupID)
		defer consumer.Close()
		go consumer.Start(ctx, func(ctx context.Context, fin issuance.Finalization) {
			if _, err := service.Issue(ctx, fin); err != nil {
				appLogger.Error("ISSUE", "Finalization event failed: "+err.Error())
			}
		})
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Route("/api/v1/tickets", func(r chi.Router) {
		r.Post("/", handler.IssueTicket)
		r.Get("/{ticketID}", handler.ViewTicket)
		r.Get("/{ticketID}/qr", handler.TicketQR)
		r.Delete("/{ticketID}", handler.CancelTicket)
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("SERVER", "Ticket service on "+cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("SERVER", "HTTP error: "+err.Error())
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = server.Shutdown(ctxShutdown)
	appLogger.Info("SERVER", "Ticket service shutdown complete")
}
