package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jordanlanch/occasions/pkg/database"
	"github.com/jordanlanch/occasions/pkg/metrics"
	"github.com/jordanlanch/occasions/pkg/scheduler"
	"github.com/robfig/cron/v3"
)

// CronManager manages scheduled jobs
type CronManager struct {
	cron        *cron.Cron
	runner      scheduler.Runner
	db          *database.Client
	metrics     *metrics.Metrics
	logger      *log.Logger
	dispatchAt  string
	passTimeout time.Duration
}

// NewCronManager creates a new cron manager. dispatchAt is a standard
// five-field cron expression.
func NewCronManager(runner scheduler.Runner, db *database.Client, m *metrics.Metrics, dispatchAt string, passTimeout time.Duration, logger *log.Logger) *CronManager {
	if logger == nil {
		logger = log.Default()
	}
	if passTimeout <= 0 {
		passTimeout = 10 * time.Minute
	}

	return &CronManager{
		cron:        cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		runner:      runner,
		db:          db,
		metrics:     m,
		logger:      logger,
		dispatchAt:  dispatchAt,
		passTimeout: passTimeout,
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	cm.logger.Println("Setting up cron jobs...")

	// A slow pass makes the next tick skip instead of piling up.
	dispatch := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(cron.FuncJob(cm.RunDispatch))
	if _, err := cm.cron.AddJob(cm.dispatchAt, dispatch); err != nil {
		return err
	}

	if cm.db != nil {
		if _, err := cm.cron.AddFunc("@every 1m", cm.recordPoolStats); err != nil {
			return err
		}
	}

	cm.logger.Println("✅ Cron jobs configured successfully")
	cm.logger.Printf("  - %s: Dispatch due occasion emails", cm.dispatchAt)
	if cm.db != nil {
		cm.logger.Println("  - Every minute: Record database pool stats")
	}

	return nil
}

// RunDispatch runs one scheduler pass
func (cm *CronManager) RunDispatch() {
	cm.logger.Println("🕐 Running occasion dispatch pass...")

	ctx, cancel := context.WithTimeout(context.Background(), cm.passTimeout)
	defer cancel()

	result, err := cm.runner.RunOnce(ctx)
	if errors.Is(err, scheduler.ErrPassInProgress) {
		cm.logger.Println("⏭️  Dispatch pass skipped, another pass is running")
		return
	}
	if err != nil {
		cm.logger.Printf("❌ Dispatch pass failed: %v", err)
		return
	}

	cm.logger.Printf("✅ Dispatch pass completed: claimed=%d sent=%d suppressed=%d failed=%d skipped=%d template_errors=%d",
		result.Claimed, result.Sent, result.Suppressed, result.Failed, result.Skipped, result.TemplateErrors)
}

func (cm *CronManager) recordPoolStats() {
	stats := cm.db.Stats()
	cm.metrics.UpdateDBConnections(float64(stats.InUse))
}

// Entries returns the number of registered jobs
func (cm *CronManager) Entries() int {
	return len(cm.cron.Entries())
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Println("🚀 Starting cron scheduler...")
	cm.cron.Start()
}

// Stop stops the cron scheduler and waits for a running pass up to timeout
func (cm *CronManager) Stop(timeout time.Duration) {
	cm.logger.Println("🛑 Stopping cron scheduler...")
	select {
	case <-cm.cron.Stop().Done():
	case <-time.After(timeout):
		cm.logger.Println("⚠️  Dispatch pass still running after shutdown timeout")
	}
}
