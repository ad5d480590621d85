package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

func TestService_Estimate(t *testing.T) {
	// 2026-02-10 is a Tuesday.
	baseTime := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	peakTime := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	nightTime := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	weekendPeak := time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		req      PricingRequest
		wantFare int64
	}{
		{
			name:     "minimum fare for a short hop",
			req:      PricingRequest{DistanceKm: 1.0, RequestTime: baseTime},
			wantFare: 800,
		},
		{
			// Base 250, 4km excess = 20 units * 25 = 500, 10 min * 30 = 300.
			name:     "off-peak",
			req:      PricingRequest{DistanceKm: 5, DurationMin: 10, RequestTime: baseTime},
			wantFare: 1050,
		},
		{
			// 4.25km excess rounds up to 22 units.
			name:     "partial distance unit",
			req:      PricingRequest{DistanceKm: 5.25, DurationMin: 10, RequestTime: baseTime},
			wantFare: 250 + 550 + 300,
		},
		{
			name:     "peak minutes",
			req:      PricingRequest{DistanceKm: 5, DurationMin: 10, RequestTime: peakTime},
			wantFare: 250 + 500 + 450,
		},
		{
			name:     "weekend is never peak",
			req:      PricingRequest{DistanceKm: 5, DurationMin: 10, RequestTime: weekendPeak},
			wantFare: 1050,
		},
		{
			name:     "night surcharge",
			req:      PricingRequest{DistanceKm: 5, DurationMin: 10, RequestTime: nightTime},
			wantFare: 1050 + 150,
		},
		{
			name:     "premium multiplier",
			req:      PricingRequest{DistanceKm: 5, DurationMin: 10, RideType: "premium", RequestTime: baseTime},
			wantFare: 1575,
		},
		{
			name:     "shared discount",
			req:      PricingRequest{DistanceKm: 5, DurationMin: 10, RideType: "shared", RequestTime: baseTime},
			wantFare: 840,
		},
	}

	s := NewService(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Estimate(context.Background(), tt.req)
			if err != nil {
				t.Errorf("Estimate() error = %v", err)
				return
			}
			if got.Total.Amount != tt.wantFare {
				t.Errorf("Estimate() = %v, want %v (breakdown %v)", got.Total.Amount, tt.wantFare, got.Breakdown)
			}
		})
	}
}

func TestService_EstimateRejects(t *testing.T) {
	s := NewService(nil)
	if _, err := s.Estimate(context.Background(), PricingRequest{DistanceKm: -1}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("negative distance: expected validation error, got %v", err)
	}
	if _, err := s.Estimate(context.Background(), PricingRequest{DistanceKm: 3, RideType: "helicopter"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown ride type: expected validation error, got %v", err)
	}
}

func TestService_EstimateBand(t *testing.T) {
	s := NewService(nil)
	s.now = func() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }

	lo, hi, err := s.EstimateBand(context.Background(), 5, 10, "standard")
	if err != nil {
		t.Fatalf("EstimateBand() error = %v", err)
	}
	if lo.Amount != 892 || hi.Amount != 1313 {
		t.Fatalf("band = %d..%d, want 892..1313", lo.Amount, hi.Amount)
	}
	if lo.Currency != "USD" || hi.Currency != "USD" {
		t.Fatalf("unexpected currency %s/%s", lo.Currency, hi.Currency)
	}
}

type countingSource struct {
	calls int
	rate  Rate
	err   error
}

func (c *countingSource) GetRate(context.Context, string) (Rate, error) {
	c.calls++
	return c.rate, c.err
}

func TestService_UsesStoredRate(t *testing.T) {
	src := &countingSource{rate: Rate{RideType: "standard", BaseFare: 1000, Minimum: 0, Multiplier: 1, Currency: "EUR"}}
	got, err := NewService(src).Estimate(context.Background(), PricingRequest{DistanceKm: 1, RequestTime: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if got.Total.Amount != 1000 || got.Total.Currency != "EUR" {
		t.Fatalf("got %s", got.Total)
	}

	missing := &countingSource{err: apperr.NotFound("fare rate standard")}
	got, err = NewService(missing).Estimate(context.Background(), PricingRequest{DistanceKm: 5, DurationMin: 10, RequestTime: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)})
	if err != nil || got.Total.Amount != 1050 {
		t.Fatalf("fallback to defaults: got %v, %v", got.Total, err)
	}

	down := &countingSource{err: errors.New("connection reset")}
	if _, err := NewService(down).Estimate(context.Background(), PricingRequest{DistanceKm: 5}); err == nil {
		t.Fatal("expected store error to surface")
	}
}

func TestCachedRates(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	src := &countingSource{rate: DefaultRates["premium"]}
	cache := NewCachedRates(rdb, src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := cache.GetRate(ctx, "premium")
		if err != nil {
			t.Fatalf("GetRate() error = %v", err)
		}
		if r.Multiplier != 1.5 {
			t.Fatalf("unexpected rate %+v", r)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected one source call, got %d", src.calls)
	}

	if err := cache.Invalidate(ctx, "premium"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := cache.GetRate(ctx, "premium"); err != nil {
		t.Fatalf("GetRate() error = %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", src.calls)
	}
}

type writableSource struct {
	countingSource
	puts []Rate
}

func (w *writableSource) PutRate(_ context.Context, r Rate) error {
	w.puts = append(w.puts, r)
	w.rate = r
	return nil
}

func TestService_SetRate(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	src := &writableSource{countingSource: countingSource{rate: DefaultRates["standard"]}}
	cache := NewCachedRates(rdb, src, time.Minute)
	svc := NewService(cache)
	ctx := context.Background()

	if _, err := cache.GetRate(ctx, "standard"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	updated := DefaultRates["standard"]
	updated.BaseFare = 400
	if _, err := svc.SetRate(ctx, types.Rider("r1"), updated); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("rider SetRate: expected forbidden, got %v", err)
	}
	bad := updated
	bad.RideType = "helicopter"
	if _, err := svc.SetRate(ctx, types.Admin("a1"), bad); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown ride type: expected validation, got %v", err)
	}
	if _, err := svc.SetRate(ctx, types.Admin("a1"), updated); err != nil {
		t.Fatalf("SetRate() error = %v", err)
	}
	if len(src.puts) != 1 {
		t.Fatalf("expected one write, got %d", len(src.puts))
	}
	got, err := cache.GetRate(ctx, "standard")
	if err != nil || got.BaseFare != 400 {
		t.Fatalf("cache not invalidated: %+v, %v", got, err)
	}

	if _, err := NewService(&countingSource{}).SetRate(ctx, types.Admin("a1"), updated); !errors.Is(err, apperr.ErrCollaboratorUnavailable) {
		t.Fatalf("read-only source: expected unavailable, got %v", err)
	}
}
