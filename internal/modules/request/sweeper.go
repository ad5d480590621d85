// README: Background expiry sweep; lazy expiry on read stays the source of truth.
package request

import (
	"context"
	"time"

	"ridemarket/internal/logger"
)

const sweepBatch = 200

func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx, sweepBatch)
			if err != nil {
				s.log.Warn("expiry sweep failed", logger.Err(err))
				continue
			}
			if n > 0 {
				s.log.Info("expired ride requests", logger.Int("count", n))
			}
		}
	}
}
