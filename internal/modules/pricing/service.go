// README: Pricing service computes fare estimates and the rider's suggested band.
package pricing

import (
	"context"
	"errors"
	"math"
	"time"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

type RateSource interface {
	GetRate(ctx context.Context, rideType string) (Rate, error)
}

// RateWriter is implemented by sources that accept admin rate changes.
type RateWriter interface {
	PutRate(ctx context.Context, r Rate) error
}

// Band bounds as a percentage of the point estimate.
const (
	bandLowPct  = 85
	bandHighPct = 125
)

type Service struct {
	rates RateSource
	now   func() time.Time
}

// NewService prices from rates, falling back to DefaultRates when rates is
// nil or has no row for a ride type.
func NewService(rates RateSource) *Service {
	return &Service{rates: rates, now: time.Now}
}

func (s *Service) rate(ctx context.Context, rideType string) (Rate, error) {
	if rideType == "" {
		rideType = "standard"
	}
	if s.rates != nil {
		r, err := s.rates.GetRate(ctx, rideType)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return Rate{}, err
		}
	}
	r, ok := DefaultRates[rideType]
	if !ok {
		return Rate{}, apperr.Validation("no fare rate for ride type %q", rideType)
	}
	return r, nil
}

func (s *Service) Estimate(ctx context.Context, req PricingRequest) (PricingResult, error) {
	if req.DistanceKm < 0 || req.DurationMin < 0 {
		return PricingResult{}, apperr.Validation("distance and duration cannot be negative")
	}
	rate, err := s.rate(ctx, req.RideType)
	if err != nil {
		return PricingResult{}, err
	}
	at := req.RequestTime
	if at.IsZero() {
		at = s.now()
	}
	return price(rate, req.DistanceKm, req.DurationMin, at), nil
}

// SetRate replaces the rate for a known ride type. Admin only.
func (s *Service) SetRate(ctx context.Context, actor types.Actor, r Rate) (Rate, error) {
	if !actor.Is(types.RoleAdmin) {
		return Rate{}, apperr.Forbidden("only admins change fare rates")
	}
	if _, ok := DefaultRates[r.RideType]; !ok {
		return Rate{}, apperr.Validation("unknown ride type %q", r.RideType)
	}
	if r.UnitKm <= 0 || r.Multiplier <= 0 || r.Minimum < 0 || r.BaseFare < 0 || r.IncludedKm < 0 {
		return Rate{}, apperr.Validation("rate for %s has non-positive units or multiplier", r.RideType)
	}
	if len(r.Currency) != 3 {
		return Rate{}, apperr.Validation("currency %q is not an ISO code", r.Currency)
	}
	w, ok := s.rates.(RateWriter)
	if !ok {
		return Rate{}, apperr.Unavailable(errors.New("fare rates are read-only"))
	}
	if err := w.PutRate(ctx, r); err != nil {
		return Rate{}, apperr.Unavailable(err)
	}
	return r, nil
}

// EstimateBand returns the suggested fare band around the point estimate.
func (s *Service) EstimateBand(ctx context.Context, distanceKm, durationMin float64, rideType string) (types.Money, types.Money, error) {
	res, err := s.Estimate(ctx, PricingRequest{DistanceKm: distanceKm, DurationMin: durationMin, RideType: rideType})
	if err != nil {
		return types.Money{}, types.Money{}, err
	}
	total := res.Total.Amount
	lo := total * bandLowPct / 100
	hi := (total*bandHighPct + 99) / 100
	return types.Cents(lo, res.Total.Currency), types.Cents(hi, res.Total.Currency), nil
}

func price(r Rate, distanceKm, durationMin float64, at time.Time) PricingResult {
	bd := map[string]int64{"base": r.BaseFare}

	if excess := distanceKm - r.IncludedKm; excess > 0 && r.UnitKm > 0 {
		units := int64(math.Ceil(excess/r.UnitKm - 1e-9))
		bd["distance"] = units * r.PerUnit
	}

	perMin := r.PerMinute
	if isPeak(at) && r.PeakPerMinute > 0 {
		perMin = r.PeakPerMinute
	}
	if durationMin > 0 {
		bd["time"] = int64(math.Ceil(durationMin-1e-9)) * perMin
	}
	if isNight(at) && r.NightSurcharge > 0 {
		bd["night"] = r.NightSurcharge
	}

	var subtotal int64
	for _, v := range bd {
		subtotal += v
	}
	mult := r.Multiplier
	if mult <= 0 {
		mult = 1
	}
	total := int64(math.Round(float64(subtotal) * mult))
	if total < r.Minimum {
		bd["minimum_adjustment"] = r.Minimum - total
		total = r.Minimum
	}
	return PricingResult{Total: types.Cents(total, r.Currency), Breakdown: bd}
}

// isPeak covers weekday commute hours 07:00-09:00 and 17:00-19:00.
func isPeak(t time.Time) bool {
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := t.Hour()
	return (h >= 7 && h < 9) || (h >= 17 && h < 19)
}

func isNight(t time.Time) bool {
	h := t.Hour()
	return h >= 23 || h < 6
}
