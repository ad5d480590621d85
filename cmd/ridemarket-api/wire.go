package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridemarket/internal/app"
	"ridemarket/internal/config"
	"ridemarket/internal/feed"
	"ridemarket/internal/infra"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/pricing"
	"ridemarket/internal/store/memstore"
)

// jwtTTL only bounds tokens this process issues; verification honours the
// token's own expiry.
const jwtTTL = time.Hour

// openStores returns the aggregate stores and, for postgres, the fare rate
// table. The memory store prices from defaults.
func openStores(ctx context.Context, cfg config.Config) (app.Stores, pricing.RateSource, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return app.MemoryStores(memstore.New()), nil, func() {}, nil
	default:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return app.Stores{}, nil, nil, err
		}
		return app.PostgresStores(pool), pricing.NewStore(pool), pool.Close, nil
	}
}

// openFeed connects the change feed. The redis client is also returned for
// the rate cache; it is nil when Redis is unreachable under another driver.
func openFeed(ctx context.Context, cfg config.Config, log *zap.Logger) (feed.Feed, *redis.Client, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		if cfg.Feed.Driver == "redis" {
			return nil, nil, nil, err
		}
		log.Warn("redis unavailable; fare rates are not cached", logger.Err(err))
		rdb = nil
	} else {
		closers = append(closers, func() { _ = rdb.Close() })
	}

	switch cfg.Feed.Driver {
	case "memory":
		return feed.NewBus(), rdb, closeAll, nil
	case "redis":
		return feed.NewRedis(rdb, log), rdb, closeAll, nil
	case "nats":
		nc, err := infra.NewNATS(cfg.NATS.URL, log)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, nc.Close)
		return feed.NewNATS(nc, log), rdb, closeAll, nil
	case "amqp":
		conn, err := infra.DialAMQP(ctx, cfg.AMQP.URL, log)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() { _ = conn.Close() })
		f, err := feed.NewAMQP(conn, cfg.AMQP.Exchange, log)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, func() { _ = f.Close() })
		return f, rdb, closeAll, nil
	}
	closeAll()
	return nil, nil, nil, fmt.Errorf("unknown feed driver %q", cfg.Feed.Driver)
}

// openVerifier prefers Firebase ID tokens and falls back to HS256 JWTs.
func openVerifier(ctx context.Context, cfg config.Config, fb *firebase.App) (infra.TokenVerifier, error) {
	if fb != nil {
		return infra.NewFirebaseVerifier(ctx, fb)
	}
	if cfg.Auth.JWTSecret != "" {
		svc, err := infra.NewJWTService(cfg.Auth.JWTSecret, jwtTTL)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	return nil, errors.New("no token verifier configured")
}
