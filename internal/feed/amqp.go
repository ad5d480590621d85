// README: RabbitMQ feed; a topic exchange with routing keys <collection>.<op>.
package feed

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/logger"
)

type AMQPFeed struct {
	conn     *amqp.Connection
	exchange string
	log      *zap.Logger

	mu    sync.Mutex // amqp channels are not safe for concurrent publishing
	pubCh *amqp.Channel
}

func NewAMQP(conn *amqp.Connection, exchange string, log *zap.Logger) (*AMQPFeed, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, apperr.Unavailable(err)
	}
	return &AMQPFeed{conn: conn, exchange: exchange, log: logger.OrNop(log), pubCh: ch}, nil
}

func routingKey(e Event) string {
	return string(e.Collection) + "." + string(e.Op)
}

func bindingKey(f Filter) string {
	if f.Collection == "" {
		return "#"
	}
	return string(f.Collection) + ".*"
}

func (a *AMQPFeed) Publish(ctx context.Context, e Event) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.pubCh.PublishWithContext(ctx, a.exchange, routingKey(e), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    e.At,
		Body:         b,
	})
	if err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// OnChange binds an exclusive auto-delete queue per subscription.
func (a *AMQPFeed) OnChange(ctx context.Context, f Filter, cb Callback) (Unsubscribe, error) {
	ch, err := a.conn.Channel()
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err == nil {
		err = ch.QueueBind(q.Name, bindingKey(f), a.exchange, false, nil)
	}
	var deliveries <-chan amqp.Delivery
	if err == nil {
		deliveries, err = ch.Consume(q.Name, "", true, true, false, false, nil)
	}
	if err != nil {
		_ = ch.Close()
		return nil, apperr.Unavailable(err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			_ = ch.Close()
		})
	}
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-subCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				e, err := decode(d.Body)
				if err != nil {
					a.log.Warn("feed: dropping malformed amqp message", logger.String("routing_key", d.RoutingKey), logger.Err(err))
					continue
				}
				if f.Match(e) {
					cb(e)
				}
			}
		}
	}()
	return unsubscribe, nil
}

func (a *AMQPFeed) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pubCh.Close()
}
