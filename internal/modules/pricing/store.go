// README: Pricing store backed by PostgreSQL, with an optional Redis read-through cache.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridemarket/internal/apperr"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, rideType string) (Rate, error) {
	var r Rate
	err := s.db.QueryRow(ctx, `
		SELECT ride_type, base_fare, included_km, unit_km, per_unit, per_minute,
		       peak_per_minute, night_surcharge, minimum, multiplier, currency
		FROM fare_rates WHERE ride_type = $1`, rideType).Scan(
		&r.RideType, &r.BaseFare, &r.IncludedKm, &r.UnitKm, &r.PerUnit, &r.PerMinute,
		&r.PeakPerMinute, &r.NightSurcharge, &r.Minimum, &r.Multiplier, &r.Currency,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, apperr.NotFound("fare rate %s", rideType)
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}

func (s *Store) PutRate(ctx context.Context, r Rate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fare_rates (ride_type, base_fare, included_km, unit_km, per_unit, per_minute,
		                        peak_per_minute, night_surcharge, minimum, multiplier, currency, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (ride_type) DO UPDATE SET
			base_fare = EXCLUDED.base_fare, included_km = EXCLUDED.included_km,
			unit_km = EXCLUDED.unit_km, per_unit = EXCLUDED.per_unit,
			per_minute = EXCLUDED.per_minute, peak_per_minute = EXCLUDED.peak_per_minute,
			night_surcharge = EXCLUDED.night_surcharge, minimum = EXCLUDED.minimum,
			multiplier = EXCLUDED.multiplier, currency = EXCLUDED.currency, updated_at = NOW()`,
		r.RideType, r.BaseFare, r.IncludedKm, r.UnitKm, r.PerUnit, r.PerMinute,
		r.PeakPerMinute, r.NightSurcharge, r.Minimum, r.Multiplier, r.Currency,
	)
	return err
}

// CachedRates keeps rates in Redis for ttl in front of another source. A
// Redis failure falls through to the source.
type CachedRates struct {
	rdb  *redis.Client
	next RateSource
	ttl  time.Duration
}

func NewCachedRates(rdb *redis.Client, next RateSource, ttl time.Duration) *CachedRates {
	return &CachedRates{rdb: rdb, next: next, ttl: ttl}
}

func rateKey(rideType string) string {
	return "ridemarket:fare_rate:" + rideType
}

func (c *CachedRates) GetRate(ctx context.Context, rideType string) (Rate, error) {
	var r Rate
	if b, err := c.rdb.Get(ctx, rateKey(rideType)).Bytes(); err == nil {
		if err := json.Unmarshal(b, &r); err == nil {
			return r, nil
		}
	}
	r, err := c.next.GetRate(ctx, rideType)
	if err != nil {
		return Rate{}, err
	}
	if b, err := json.Marshal(r); err == nil {
		c.rdb.Set(ctx, rateKey(rideType), b, c.ttl)
	}
	return r, nil
}

// PutRate writes through to the wrapped source and drops the cached entry.
func (c *CachedRates) PutRate(ctx context.Context, r Rate) error {
	w, ok := c.next.(RateWriter)
	if !ok {
		return errors.New("wrapped rate source is read-only")
	}
	if err := w.PutRate(ctx, r); err != nil {
		return err
	}
	return c.Invalidate(ctx, r.RideType)
}

func (c *CachedRates) Invalidate(ctx context.Context, rideType string) error {
	return c.rdb.Del(ctx, rateKey(rideType)).Err()
}
