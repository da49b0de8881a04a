package service

import (
	"context"
	"sync"
	"time"

	"caresms/internal/constants"

	"github.com/sirupsen/logrus"
)

// SchedulerConfig controls the periodic background passes.
type SchedulerConfig struct {
	ReconcileInterval time.Duration
	ExecuteInterval   time.Duration
	CleanupInterval   time.Duration
	RetentionDays     int
	ExecuteEnabled    bool
}

// Scheduler drives the bridge's periodic work: reconcile passes, execution of
// due communication requests, and retention cleanup. Each loop runs until the
// context is canceled.
type Scheduler struct {
	bridge MessageBridge
	config SchedulerConfig
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func NewScheduler(bridge MessageBridge, config SchedulerConfig, logger *logrus.Logger) *Scheduler {
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = time.Duration(constants.DefaultReconcileIntervalMinutes) * time.Minute
	}
	if config.ExecuteInterval <= 0 {
		config.ExecuteInterval = time.Duration(constants.DefaultExecuteIntervalMinutes) * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Duration(constants.DefaultCleanupIntervalHours) * time.Hour
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = constants.DefaultRetentionDays
	}
	return &Scheduler{bridge: bridge, config: config, logger: logger}
}

// Start launches the background loops. It returns immediately; use Wait after
// canceling the context to drain them.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx, "reconcile", s.config.ReconcileInterval, func(ctx context.Context) {
		if _, err := s.bridge.Reconcile(ctx, time.Time{}, time.Time{}); err != nil {
			s.logger.WithError(err).Error("Scheduled reconcile pass failed")
		}
	})

	if s.config.ExecuteEnabled {
		s.wg.Add(1)
		go s.loop(ctx, "execute", s.config.ExecuteInterval, func(ctx context.Context) {
			report, err := s.bridge.ExecuteDueRequests(ctx)
			if err != nil {
				s.logger.WithError(err).Error("Scheduled request execution failed")
				return
			}
			if len(report.Succeeded) > 0 || len(report.Failed) > 0 {
				s.logger.WithFields(logrus.Fields{
					"succeeded": len(report.Succeeded),
					"failed":    len(report.Failed),
				}).Info("Executed due communication requests")
			}
		})
	}

	s.wg.Add(1)
	go s.loop(ctx, "cleanup", s.config.CleanupInterval, func(ctx context.Context) {
		if err := s.bridge.CleanupOldRecords(ctx, s.config.RetentionDays); err != nil {
			s.logger.WithError(err).Error("Scheduled retention cleanup failed")
		}
	})
}

// Wait blocks until all loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"loop":     name,
		"interval": interval.String(),
	}).Info("Background loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("loop", name).Info("Background loop stopped")
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}
