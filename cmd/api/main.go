package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/jordanlanch/occasions/config"
	"github.com/jordanlanch/occasions/pkg/api/handlers"
	apimiddleware "github.com/jordanlanch/occasions/pkg/api/middleware"
	"github.com/jordanlanch/occasions/pkg/cache"
	"github.com/jordanlanch/occasions/pkg/database"
	"github.com/jordanlanch/occasions/pkg/email"
	"github.com/jordanlanch/occasions/pkg/jobs"
	"github.com/jordanlanch/occasions/pkg/logger"
	"github.com/jordanlanch/occasions/pkg/metrics"
	custommiddleware "github.com/jordanlanch/occasions/pkg/middleware"
	"github.com/jordanlanch/occasions/pkg/occasions"
	"github.com/jordanlanch/occasions/pkg/scheduler"
	"github.com/jordanlanch/occasions/pkg/secrets"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const passLockKey = "occasions:scheduler:pass"

func main() {
	// Load configuration
	cfg := config.Load()
	log.Printf("🔧 Configuration loaded (environment: %s)", cfg.APIEnvironment)

	// Overlay secrets from the configured backend
	secretsManager, err := secrets.NewManager(secrets.Config{Backend: cfg.SecretsBackend, AWSRegion: cfg.SecretsAWSRegion})
	if err != nil {
		log.Fatalf("❌ Failed to initialize secrets manager: %v", err)
	}
	if err := secrets.Apply(context.Background(), secretsManager, cfg); err != nil {
		log.Fatalf("❌ Failed to load secrets: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("⚠️  Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s)", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Printf("ℹ️  Sentry disabled (no DSN configured)")
	}

	// Initialize database
	db, err := database.NewClient(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("✅ Database ready (%s)", db.Driver)

	// Redis is optional; without it only the row lease guards overlapping passes
	var (
		redisClient *cache.Client
		passLock    scheduler.PassLocker
		healthCache handlers.Pinger
	)
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		passLock = cache.NewLocker(redisClient, passLockKey, cfg.SchedulerLockTTL)
		healthCache = redisClient
		log.Printf("✅ Redis pass lock enabled")
	} else {
		log.Printf("ℹ️  Redis disabled (no REDIS_URL configured)")
	}

	// Initialize Prometheus metrics
	prometheusMetrics := metrics.New()
	log.Printf("✅ Prometheus metrics initialized")

	// Services
	store := occasions.NewSQLStore(db)
	occasionService := occasions.NewService(store, clock.New())
	emailService := email.NewService(email.Config{
		FromEmail:     cfg.EmailFrom,
		FromName:      cfg.EmailFromName,
		APIKey:        cfg.SendGridAPIKey,
		RetryAttempts: cfg.EmailRetryAttempts,
		RetryBackoff:  cfg.EmailRetryBackoff,
	}, appLogger.With("component", "email"))
	dispatcher := scheduler.NewDispatcher(store, emailService, passLock, prometheusMetrics,
		appLogger.With("component", "scheduler"), clock.New(), scheduler.Config{
			BatchSize:       cfg.SchedulerBatchSize,
			Workers:         cfg.SchedulerWorkers,
			Lease:           cfg.SchedulerLease,
			DeliveryTimeout: cfg.EmailDeliveryTimeout,
		})

	// Cron trigger
	var cronManager *jobs.CronManager
	if cfg.SchedulerEnabled {
		cronManager = jobs.NewCronManager(dispatcher, db, prometheusMetrics, cfg.SchedulerCron, cfg.SchedulerLockTTL, log.Default())
		if err := cronManager.SetupJobs(); err != nil {
			log.Fatalf("❌ Failed to setup cron jobs: %v", err)
		}
		cronManager.Start()
		log.Printf("⏰ Scheduler running on %q", cfg.SchedulerCron)
	} else {
		log.Printf("ℹ️  Scheduler disabled (SCHEDULER_ENABLED=false)")
	}

	// Echo
	e := echo.New()
	e.HideBanner = true

	globalRateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer globalRateLimiter.Close()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[%s] %s - Status: %d", c.Request().Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true,
		}))
	}

	e.Use(prometheusMetrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(globalRateLimiter.RateLimitMiddleware())

	// Public endpoints
	healthHandler := handlers.NewHealthHandler(db, healthCache)
	e.GET("/health", healthHandler.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Handlers
	dateHandler := handlers.NewDateHandler(occasionService, dispatcher)
	contactHandler := handlers.NewContactHandler(occasionService)
	templateHandler := handlers.NewTemplateHandler(occasionService)
	exportHandler := handlers.NewExportHandler(occasionService, prometheusMetrics)
	adminHandler := handlers.NewAdminHandler(dispatcher, occasionService, cfg.SchedulerLockTTL)

	v1 := e.Group("/api/v1", apimiddleware.JWTMiddleware(cfg.JWTSecret))
	{
		v1.POST("/contacts", contactHandler.Create)
		v1.GET("/contacts/:contactId", contactHandler.Get)

		dates := v1.Group("/contacts/:contactId/dates")
		dates.GET("", dateHandler.List)
		dates.POST("", dateHandler.Create)
		dates.GET("/:dateId", dateHandler.Get)
		dates.PUT("/:dateId", dateHandler.Update)
		dates.DELETE("/:dateId", dateHandler.Delete)
		dates.POST("/:dateId/send", dateHandler.Send)
		dates.GET("/:dateId/deliveries", dateHandler.Deliveries)

		v1.GET("/email-templates", templateHandler.List)
		v1.POST("/email-templates", templateHandler.Create)

		v1.GET("/occasions/upcoming/export", exportHandler.Upcoming)

		admin := v1.Group("/admin", custommiddleware.RequireAdmin())
		admin.POST("/scheduler/run", adminHandler.RunScheduler)
		admin.GET("/occasions/due", adminHandler.ListDue)
	}

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Printf("🚀 Occasions API starting on %s", address)
	log.Printf("🌍 CORS: %v", cfg.CORSAllowedOrigins)
	log.Printf("🛡️  Rate limiting: %d req/min (burst: %d)", cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	if cronManager != nil {
		cronManager.Stop(30 * time.Second)
		log.Println("✅ Scheduler stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("❌ Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}
