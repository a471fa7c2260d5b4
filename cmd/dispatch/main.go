// Command dispatch runs a single scheduler pass and exits. It is meant for
// external schedulers (Kubernetes CronJob, systemd timers) when the API runs
// with SCHEDULER_ENABLED=false.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getsentry/sentry-go"
	"github.com/jordanlanch/occasions/config"
	"github.com/jordanlanch/occasions/pkg/cache"
	"github.com/jordanlanch/occasions/pkg/database"
	"github.com/jordanlanch/occasions/pkg/email"
	"github.com/jordanlanch/occasions/pkg/logger"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/scheduler"
	"github.com/jordanlanch/occasions/pkg/secrets"
)

func main() {
	// Exit only after run's deferred Sentry flush and connection cleanup.
	os.Exit(run())
}

// run performs one pass and returns the process exit code: 0 on success or
// when another pass holds the lock, 1 when the pass fails, 2 when at least
// one delivery failed.
func run() int {
	timeout := flag.Duration("timeout", 10*time.Minute, "maximum duration of the pass")
	flag.Parse()

	cfg := config.Load()
	appLogger := logger.New(cfg.LogLevel)

	secretsManager, err := secrets.NewManager(secrets.Config{Backend: cfg.SecretsBackend, AWSRegion: cfg.SecretsAWSRegion})
	if err != nil {
		log.Fatalf("❌ Failed to initialize secrets manager: %v", err)
	}
	if err := secrets.Apply(context.Background(), secretsManager, cfg); err != nil {
		log.Fatalf("❌ Failed to load secrets: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			AttachStacktrace: true,
		}); err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := database.NewClient(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Printf("❌ Failed to connect to database: %v", err)
		return 1
	}
	defer db.Close()

	var passLock scheduler.PassLocker
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Printf("❌ Failed to connect to Redis: %v", err)
			return 1
		}
		defer redisClient.Close()
		passLock = cache.NewLocker(redisClient, "occasions:scheduler:pass", cfg.SchedulerLockTTL)
	}

	store := occasions.NewSQLStore(db)
	sender := email.NewService(email.Config{
		FromEmail:     cfg.EmailFrom,
		FromName:      cfg.EmailFromName,
		APIKey:        cfg.SendGridAPIKey,
		RetryAttempts: cfg.EmailRetryAttempts,
		RetryBackoff:  cfg.EmailRetryBackoff,
	}, appLogger.With("component", "email"))
	dispatcher := scheduler.NewDispatcher(store, sender, passLock, nil,
		appLogger.With("component", "scheduler"), clock.New(), scheduler.Config{
			BatchSize:       cfg.SchedulerBatchSize,
			Workers:         cfg.SchedulerWorkers,
			Lease:           cfg.SchedulerLease,
			DeliveryTimeout: cfg.EmailDeliveryTimeout,
		})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := dispatcher.RunOnce(ctx)
	if errors.Is(err, scheduler.ErrPassInProgress) {
		log.Printf("ℹ️  %v", err)
		return 0
	}
	if err != nil {
		log.Printf("❌ Scheduler pass failed: %v", err)
		return 1
	}

	_ = json.NewEncoder(os.Stdout).Encode(result)
	if result.Failed > 0 {
		return 2
	}
	return 0
}
