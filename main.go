package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/DarioSilvaDev/pawgo-sub001/internal/config"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/database/migrations"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/kafka"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/logger"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/mercadopago"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/models"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/notification"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/reconcile"
	reconciledb "github.com/DarioSilvaDev/pawgo-sub001/internal/reconcile/db"
	rediswrap "github.com/DarioSilvaDev/pawgo-sub001/internal/reconcile/redis"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/settlement"
	"github.com/DarioSilvaDev/pawgo-sub001/internal/webhook"
)

func verifyConnections(ctx context.Context, cfg *config.Config, log *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Redis.Addr))

	return bunDB, redisClient
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting payment reconciliation service")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bunDB, redisClient := verifyConnections(ctx, cfg, log)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: cfg.Database.MigrationsDir,
			AutoMigrate:   true,
		}, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
	}

	kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer kafkaProducer.Close()
	log.Info("KAFKA", "Kafka producer initialized successfully")

	if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.SettlementTopic}, log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	} else {
		log.Info("KAFKA", "Required topics ensured successfully")
	}

	mpClient, err := mercadopago.NewClient(cfg.MercadoPago, log)
	if err != nil {
		log.Fatal("MERCADOPAGO", fmt.Sprintf("Failed to initialize MercadoPago client: %v", err))
	}

	verifier := webhook.NewSignatureVerifier(cfg.MercadoPago.WebhookSecret, log)
	resolver := mercadopago.NewStatusResolver(mpClient, log)
	locks := rediswrap.NewLocks(redisClient, cfg.Redis, log)
	engine := reconcile.NewEngine(&reconciledb.DB{Bun: bunDB}, locks, log)
	webhookHandler := webhook.NewHandler(verifier, resolver, engine, log)

	settlementStore := &settlement.Store{Bun: bunDB}
	notifier := notification.NewEmailSender(cfg.Notification, log)
	worker := settlement.NewWorker(settlementStore, notifier, log)
	scanner := settlement.NewScanner(
		settlementStore, kafkaProducer,
		cfg.Kafka.SettlementTopic, cfg.Settlement.BatchSize, cfg.Settlement.ScanInterval, log)
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.SettlementTopic, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	log.Info("HTTP", "Setting up router")
	r := chi.NewRouter()
	r.Post("/webhooks/mercadopago", webhookHandler.HandleMercadoPago)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go scanner.Run(ctx)
	go consumer.Start(ctx, cfg.Settlement.Concurrency, func(ctx context.Context, job models.SettlementJob) error {
		_, err := worker.Process(ctx, job.DiscountCodeID)
		return err
	})

	go func() {
		log.Info("HTTP", fmt.Sprintf("Payment reconciliation service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Payment reconciliation service shutdown complete")
	}
}
