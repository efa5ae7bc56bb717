// internal/service/maintenance/sweeper.go
package maintenance

import (
	"context"
	"time"

	"timeclock-service/internal/domain/auth"

	"go.uber.org/zap"
)

const DefaultInterval = time.Hour

// UsedTokenSweeper is the sweep half of the action-token used set.
type UsedTokenSweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// SweepReport holds the counts removed by one pass.
type SweepReport struct {
	Revocations    int64
	SessionRecords int64
	UsedTokens     int
}

// Sweeper purges revocation entries and session records whose credential
// has expired. Both deletes are idempotent and safe under live traffic.
type Sweeper struct {
	revocations auth.RevocationStore
	sessions    auth.SessionRecordStore
	usedTokens  UsedTokenSweeper
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewSweeper(
	revocations auth.RevocationStore,
	sessions auth.SessionRecordStore,
	usedTokens UsedTokenSweeper,
	interval time.Duration,
	logger *zap.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		revocations: revocations,
		sessions:    sessions,
		usedTokens:  usedTokens,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("expiry sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one pass. A failing sweep is logged and does not stop the
// others.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	cutoff := s.now()
	var report SweepReport

	n, err := s.revocations.DeleteExpired(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to sweep revocations", zap.Error(err))
	}
	report.Revocations = n

	n, err = s.sessions.DeleteExpired(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to sweep session records", zap.Error(err))
	}
	report.SessionRecords = n

	if s.usedTokens != nil {
		used, err := s.usedTokens.Sweep(ctx, cutoff)
		if err != nil {
			s.logger.Error("failed to sweep used action tokens", zap.Error(err))
		}
		report.UsedTokens = used
	}

	s.logger.Info("expiry sweep complete",
		zap.Int64("revocations", report.Revocations),
		zap.Int64("session_records", report.SessionRecords),
		zap.Int("used_tokens", report.UsedTokens),
	)
	return report
}
