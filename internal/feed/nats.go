// README: NATS feed; subjects ridemarket.feed.<collection>.
package feed

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/logger"
)

const natsSubjectPrefix = "ridemarket.feed."

type NATSFeed struct {
	conn *nats.Conn
	log  *zap.Logger
}

func NewNATS(conn *nats.Conn, log *zap.Logger) *NATSFeed {
	return &NATSFeed{conn: conn, log: logger.OrNop(log)}
}

func natsSubject(c Collection) string {
	if c == "" {
		return natsSubjectPrefix + ">"
	}
	return natsSubjectPrefix + string(c)
}

func (n *NATSFeed) Publish(_ context.Context, e Event) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(natsSubject(e.Collection), b); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (n *NATSFeed) OnChange(ctx context.Context, f Filter, cb Callback) (Unsubscribe, error) {
	sub, err := n.conn.Subscribe(natsSubject(f.Collection), func(m *nats.Msg) {
		e, err := decode(m.Data)
		if err != nil {
			n.log.Warn("feed: dropping malformed nats message", logger.String("subject", m.Subject), logger.Err(err))
			return
		}
		if f.Match(e) {
			cb(e)
		}
	})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	var once sync.Once
	stop := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			_ = sub.Unsubscribe()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()
	return unsubscribe, nil
}
