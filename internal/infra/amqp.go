// README: RabbitMQ dial with bounded exponential backoff.
package infra

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ridemarket/internal/logger"
)

const (
	amqpAttempts = 5
	amqpMaxDelay = 30 * time.Second
)

func DialAMQP(ctx context.Context, url string, log *zap.Logger) (*amqp.Connection, error) {
	log = logger.OrNop(log)
	delay := time.Second
	var lastErr error
	for attempt := 1; attempt <= amqpAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			log.Info("rabbitmq connected", logger.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		log.Warn("rabbitmq dial failed", logger.Int("attempt", attempt), logger.Duration("retry_in", delay), logger.Err(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > amqpMaxDelay {
			delay = amqpMaxDelay
		}
	}
	return nil, fmt.Errorf("dial rabbitmq after %d attempts: %w", amqpAttempts, lastErr)
}
