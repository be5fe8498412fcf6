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

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/api"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/config"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/pushstream"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/repository"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/service"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("deposit-reconciler", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Deposit Reconciler",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("max_poll_attempts", cfg.MaxPollAttempts),
		zap.Duration("confirm_timeout", cfg.ConfirmTimeout),
	)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repository
	repo := repository.NewDepositStateRepository(db)
	if err := repo.InitDB(); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	// Connect to NATS. A disconnect is non-fatal: the poll channel keeps
	// working while the client reconnects.
	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			telemetry.Logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			telemetry.Logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	// Connect to Kafka
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers),
		Topic:    "deposit.state.changed",
		Balancer: &kafka.LeastBytes{},
	}
	defer kafkaWriter.Close()

	// Payment gateway client and deposit service
	gw := gateway.NewClient(cfg.GatewayURL, telemetry.Logger)
	lock := service.NewRedisSubmissionLock(redisClient, cfg.ConfirmTimeout)
	svc := service.NewDepositService(repo, gw, lock, kafkaWriter, service.Policy{
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
		ConfirmTimeout:  cfg.ConfirmTimeout,
	}, telemetry.Logger)

	// Push channel: long-lived subscription routing status events to the
	// active reconcilers.
	stream := pushstream.New(svc, telemetry.Logger)
	if err := stream.Subscribe(nc); err != nil {
		telemetry.Logger.Fatal("Failed to subscribe to deposit status events", zap.Error(err))
	}
	defer stream.Close()

	// Setup Gin router
	r := api.NewRouter(repo, svc, nc)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Deposit Reconciler starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc.Shutdown(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
