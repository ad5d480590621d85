package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridemarket/internal/logger"
	"ridemarket/internal/observability"
)

// Emit publishes e after a committed write. The write already happened, so a
// publish failure is logged and counted instead of returned; subscribers
// recover on their refresh tick.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, e Event) {
	if pub == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := pub.Publish(ctx, e); err != nil {
		observability.FeedPublishFailures.WithLabelValues(string(e.Collection)).Inc()
		logger.OrNop(log).Warn("feed: publish failed",
			logger.String("collection", string(e.Collection)),
			logger.ID("id", e.ID),
			logger.String("status", e.Status),
			logger.Err(err),
		)
	}
}
