package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"MailQueue/internal/models"
)

type Runner interface {
	Run(ctx context.Context) (models.RunResult, error)
}

// Scheduler triggers queue runs on a fixed interval, for deployments
// without an external cron.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      *zap.Logger
}

func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("queue scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("queue scheduler shutting down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	result, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.log.Info("queue run already in progress, skipping tick")
	case err != nil:
		s.log.Error("scheduled queue run failed", zap.Error(err))
	case result.Fetched > 0:
		s.log.Info("scheduled queue run finished",
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("permanently_failed", result.PermanentFailures),
		)
	}
}
