// README: NATS connection for the change feed.
package infra

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ridemarket/internal/logger"
)

func NewNATS(url string, log *zap.Logger) (*nats.Conn, error) {
	log = logger.OrNop(log)
	conn, err := nats.Connect(url,
		nats.Name("ridemarket"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	return conn, nil
}
