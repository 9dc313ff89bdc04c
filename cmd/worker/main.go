package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/config"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/email"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository/postgres"
	eventService "github.com/cedrick13bienvenue/prescripto-sub000/internal/service/event"
	prescriptionService "github.com/cedrick13bienvenue/prescripto-sub000/internal/service/prescription"
	tokenService "github.com/cedrick13bienvenue/prescripto-sub000/internal/service/token"
	internalWorker "github.com/cedrick13bienvenue/prescripto-sub000/internal/worker"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/logger"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/messaging/redis"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/metrics"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/qrcode"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/worker"
)

// WorkerEnv carries env-only overrides for the worker binary, so it can be
// tuned per deployment without editing the shared config file.
type WorkerEnv struct {
	OutboxBatchSize    int `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxPollSeconds  int `envconfig:"OUTBOX_POLL_SECONDS"`
	SweeperIntervalSec int `envconfig:"SWEEPER_INTERVAL_SECONDS"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var env WorkerEnv
	if err := envconfig.Process("prescripto", &env); err != nil {
		log.Fatal().Err(err).Msg("Failed to process worker environment")
	}
	if env.OutboxBatchSize > 0 {
		cfg.Outbox.BatchSize = env.OutboxBatchSize
	}
	if env.OutboxPollSeconds > 0 {
		cfg.Outbox.PollIntervalSeconds = env.OutboxPollSeconds
	}
	if env.SweeperIntervalSec > 0 {
		cfg.Sweeper.IntervalSeconds = env.SweeperIntervalSec
	}

	lg := logger.NewLogger(nil)

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		lg.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &lg.ZL)
	if err != nil {
		lg.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	prescriptionRepo := postgres.NewPrescriptionRepository(baseRepo)
	tokenRepo := postgres.NewTokenRepository(baseRepo)
	logRepo := postgres.NewPharmacyLogRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	codec, err := tokenService.NewCodec(cfg.Token.Secret, cfg.Token.KeySalt)
	if err != nil {
		lg.Fatal(err, "Failed to initialize token codec")
	}

	m := metrics.NewMetrics("prescripto", "worker")
	prescriptionSvc := prescriptionService.NewService(
		prescriptionRepo, tokenRepo, logRepo, codec, cfg.Token.TTL(), m,
	)

	// Outbox relay
	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  time.Duration(cfg.Outbox.PollIntervalSeconds) * time.Second,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    time.Duration(cfg.Outbox.RetryDelaySeconds) * time.Second,
		},
		lg,
		m,
	)

	// Expiry sweeper
	sweeper := internalWorker.NewExpirySweeper(
		prescriptionSvc,
		time.Duration(cfg.Sweeper.IntervalSeconds)*time.Second,
		cfg.Sweeper.BatchSize,
		lg,
		m,
	)

	// Email consumer
	emailSvc := email.NewSMTPService(cfg.SMTP)
	eventSvc := eventService.NewService(outboxRepo)
	consumer := email.NewConsumer(broker, emailSvc, qrcode.NewPNGRenderer(), eventSvc, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		lg.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Start(ctx); err != nil {
			lg.Error(err, "Email consumer stopped")
		}
	}()

	wg.Wait()
}
