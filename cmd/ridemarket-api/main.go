// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"ridemarket/internal/app"
	"ridemarket/internal/config"
	"ridemarket/internal/feed"
	httptransport "ridemarket/internal/http"
	"ridemarket/internal/infra"
	"ridemarket/internal/logger"
	"ridemarket/internal/maps"
	"ridemarket/internal/modules/notify"
	"ridemarket/internal/modules/payment"
	"ridemarket/internal/modules/pricing"
)

const rateCacheTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("ridemarket-api stopped", logger.Err(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	stores, rates, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeStores)

	pub, rdb, closeFeed, err := openFeed(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeFeed)

	if rates != nil && rdb != nil {
		rates = pricing.NewCachedRates(rdb, rates, rateCacheTTL)
	}
	fares := pricing.NewService(rates)

	var fb *firebase.App
	if cfg.Firebase.ProjectID != "" {
		fb, err = infra.NewFirebaseApp(ctx, infra.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			DatabaseURL:     cfg.Firebase.DatabaseURL,
		})
		if err != nil {
			return err
		}
	}
	verifier, err := openVerifier(ctx, cfg, fb)
	if err != nil {
		return err
	}

	core := app.NewCore(stores, pub, log, app.Options{
		RequestTTL: cfg.Ride.RequestTTL,
		Currency:   cfg.Ride.Currency,
		Fares:      fares,

		DashboardRefresh: cfg.Dashboard.Refresh,
	})

	var stripeHook payment.EventParser
	if cfg.Stripe.WebhookSecret != "" {
		stripeHook = payment.NewStripeWebhook(cfg.Stripe.WebhookSecret)
	} else {
		log.Warn("stripe webhook secret not set; webhook endpoint disabled")
	}
	payments := payment.NewService(core.Rides, stripeHook, log)

	deps := httptransport.RouterDeps{
		Core:     core,
		Payments: payments,
		Pricing:  fares,
		Routes:   maps.StraightLine{},
		Verifier: verifier,
		Log:      log,

		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}
	if cfg.Maps.APIKey != "" {
		places, err := maps.NewPlacesService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		deps.Places, deps.Routes = places, routes
	}

	if fb != nil && cfg.Firebase.DatabaseURL != "" {
		unsub, err := startNotifier(ctx, fb, pub, log)
		if err != nil {
			// Pushes are best effort; the API works without them.
			log.Warn("notifications disabled", logger.Err(err))
		} else {
			closers = append(closers, unsub)
		}
	}

	go core.Requests.RunExpirySweeper(ctx, cfg.Ride.ExpirySweep)

	srv := httptransport.NewServer(cfg.HTTP.Addr, httptransport.NewRouter(deps), log)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func startNotifier(ctx context.Context, fb *firebase.App, sub feed.Subscriber, log *zap.Logger) (func(), error) {
	push, err := notify.NewFCMPusher(ctx, fb)
	if err != nil {
		return nil, err
	}
	tokens, err := notify.NewRTDBTokens(ctx, fb)
	if err != nil {
		return nil, err
	}
	unsub, err := notify.NewNotifier(sub, push, tokens, log).Start(ctx)
	if err != nil {
		return nil, err
	}
	return func() { unsub() }, nil
}
