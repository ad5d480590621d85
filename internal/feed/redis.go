// README: Redis pub/sub feed; one channel per collection.
package feed

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/logger"
)

const redisChannelPrefix = "ridemarket:feed:"

type RedisFeed struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedis(client *redis.Client, log *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, log: logger.OrNop(log)}
}

func redisChannel(c Collection) string {
	return redisChannelPrefix + string(c)
}

func (r *RedisFeed) Publish(ctx context.Context, e Event) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, redisChannel(e.Collection), b).Err(); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (r *RedisFeed) OnChange(ctx context.Context, f Filter, cb Callback) (Unsubscribe, error) {
	var ps *redis.PubSub
	if f.Collection != "" {
		ps = r.client.Subscribe(ctx, redisChannel(f.Collection))
	} else {
		ps = r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	}
	// Wait for the subscription to be confirmed so no event published after
	// OnChange returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, apperr.Unavailable(err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
		})
	}

	ch := ps.Channel()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				e, err := decode([]byte(msg.Payload))
				if err != nil {
					r.log.Warn("feed: dropping malformed redis message", logger.String("channel", msg.Channel), logger.Err(err))
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
