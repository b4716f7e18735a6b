package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpiredSessionDeleter removes refresh tokens past their expiry.
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// RunSessionSweeper deletes expired sessions every interval until ctx is done.
func RunSessionSweeper(ctx context.Context, sessions ExpiredSessionDeleter, interval time.Duration, logger *zap.Logger) {
	if sessions == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, sessions, logger)
		}
	}
}

func sweep(ctx context.Context, sessions ExpiredSessionDeleter, logger *zap.Logger) {
	n, err := sessions.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("expired session sweep failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		logger.Info("expired sessions removed", zap.Int64("count", n))
	}
}
