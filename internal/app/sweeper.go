package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// SettlementSweeper periodically fails purchases that never left PROCESSING.
type SettlementSweeper struct {
	service  *Service
	timeout  time.Duration
	schedule string
	logger   *zap.Logger
	cron     *cron.Cron
}

func NewSettlementSweeper(service *Service, schedule string, timeout time.Duration, logger *zap.Logger) *SettlementSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &SettlementSweeper{
		service:  service,
		timeout:  timeout,
		schedule: schedule,
		logger:   logger.With(zap.String("component", "settlement_sweeper")),
	}
}

// Start registers the job and runs the scheduler in the background.
func (s *SettlementSweeper) Start() error {
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.schedule), zap.Duration("timeout", s.timeout))
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *SettlementSweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce sweeps a single batch and returns how many records were failed.
func (s *SettlementSweeper) RunOnce(ctx context.Context) int {
	failed, err := s.service.FailStaleSettlements(ctx, s.timeout, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return 0
	}
	if failed > 0 {
		s.logger.Info("stale settlements failed", zap.Int("count", failed))
	}
	return failed
}
