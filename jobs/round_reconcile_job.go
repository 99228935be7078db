// File: /jobs/round_reconcile_job.go
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"tourops-api/services"
)

// RoundReconcileJob periodically re-syncs the rounds of trips that are not
// done yet. It repairs derived round fields left behind by interrupted
// requests and never activates rounds.
type RoundReconcileJob struct {
	progress  *services.RoundProgressService
	interval  time.Duration
	timeout   time.Duration
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// NewRoundReconcileJob creates the job. An interval <= 0 disables it.
func NewRoundReconcileJob(progress *services.RoundProgressService, interval time.Duration, logger *zap.Logger) *RoundReconcileJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := interval
	if timeout <= 0 || timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}
	return &RoundReconcileJob{
		progress: progress,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("job", "round_reconcile")),
	}
}

// Start schedules the job, running it once right away
func (j *RoundReconcileJob) Start() error {
	if j.interval <= 0 {
		j.logger.Info("Round reconcile job disabled")
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.run),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule round reconcile: %w", err)
	}

	j.scheduler = s
	s.Start()
	j.logger.Info("Round reconcile job started", zap.Duration("interval", j.interval))
	return nil
}

// Stop waits for a running pass to finish and shuts the scheduler down
func (j *RoundReconcileJob) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	err := j.scheduler.Shutdown()
	j.scheduler = nil
	j.logger.Info("Round reconcile job stopped")
	return err
}

// RunOnce reconciles every active trip and returns the number of rounds
// whose derived fields were corrected.
func (j *RoundReconcileJob) RunOnce(ctx context.Context) (int, error) {
	return j.progress.ReconcileActiveTrips(ctx)
}

func (j *RoundReconcileJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	corrected, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("Round reconcile failed", zap.Error(err))
		return
	}

	if corrected > 0 {
		j.logger.Warn("Round reconcile corrected rounds",
			zap.Int("corrected", corrected),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	j.logger.Debug("Round reconcile completed", zap.Duration("duration", time.Since(start)))
}
