// README: Ride request store backed by PostgreSQL; owns the match transaction.
package request

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	id, rider_id,
	pickup_address, pickup_lat, pickup_lng, dropoff_address, dropoff_lat, dropoff_lng,
	fare_min, fare_max, currency, distance_km, duration_min,
	ride_type, payment_method, notes, status, matched_ride_id, cancel_reason,
	created_at, expires_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, r *RideRequest) error {
	pLat, pLng := r.Pickup.LatLng()
	dLat, dLng := r.Dropoff.LatLng()
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_requests (`+requestColumns+`
		) VALUES (
			$1, $2,
			$3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, NULL, NULL,
			$18, $19, $20
		)`,
		string(r.ID), string(r.RiderID),
		r.Pickup.Address, pLat, pLng, r.Dropoff.Address, dLat, dLng,
		r.FareMin.Amount, r.FareMax.Amount, r.FareMin.Currency, r.DistanceKm, r.DurationMin,
		string(r.RideType), string(r.PaymentMethod), r.Notes, string(r.Status),
		r.CreatedAt, r.ExpiresAt, r.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("ride request %s", id)
	}
	return r, err
}

func (s *PostgresStore) Close(ctx context.Context, id types.ID, to Status, reason *string, at time.Time) ([]offer.Offer, bool, error) {
	var expiryCond string
	switch to {
	case StatusCancelled:
		expiryCond = `expires_at >= $4`
	case StatusExpired:
		expiryCond = `expires_at < $4`
	default:
		return nil, false, apperr.InvalidState("requests are not closed as %s", to)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1, cancel_reason = $2, updated_at = $4
		WHERE id = $3 AND status = 'searching' AND `+expiryCond,
		string(to), reason, string(id), at,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() != 1 {
		return nil, false, nil
	}
	declined, err := declineOpenOffers(ctx, tx, id, "", at)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return declined, true, nil
}

func (s *PostgresStore) CommitMatch(ctx context.Context, m Match) ([]offer.Offer, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status Status
	var expiresAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT status, expires_at FROM ride_requests WHERE id = $1 FOR UPDATE`,
		string(m.RequestID),
	).Scan(&status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("ride request %s", m.RequestID)
	}
	if err != nil {
		return nil, err
	}
	switch {
	case status == StatusMatched:
		return nil, apperr.AlreadyMatched("ride request %s was already accepted", m.RequestID)
	case status != StatusSearching:
		return nil, apperr.InvalidState("ride request %s is %s", m.RequestID, status)
	case m.At.After(expiresAt):
		return nil, apperr.InvalidState("ride request %s expired at %s", m.RequestID, expiresAt.Format(time.RFC3339))
	}

	var offerRequest types.ID
	var offerStatus offer.Status
	var version int
	err = tx.QueryRow(ctx, `
		SELECT request_id, status, version FROM ride_offers WHERE id = $1 FOR UPDATE`,
		string(m.OfferID),
	).Scan(&offerRequest, &offerStatus, &version)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && offerRequest != m.RequestID) {
		return nil, apperr.NotFound("offer %s on ride request %s", m.OfferID, m.RequestID)
	}
	if err != nil {
		return nil, err
	}
	if offerStatus != offer.StatusPending && offerStatus != offer.StatusCountered {
		return nil, apperr.InvalidState("offer %s is %s", m.OfferID, offerStatus)
	}
	if version != m.OfferVersion {
		return nil, apperr.InvalidState("offer %s changed before it was accepted; review it again", m.OfferID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ride_requests
		SET status = 'matched', matched_ride_id = $1, updated_at = $2
		WHERE id = $3`, string(m.Ride.ID), m.At, string(m.RequestID)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE ride_offers
		SET status = 'accepted', version = version + 1, updated_at = $1
		WHERE id = $2`, m.At, string(m.OfferID)); err != nil {
		return nil, err
	}
	declined, err := declineOpenOffers(ctx, tx, m.RequestID, m.OfferID, m.At)
	if err != nil {
		return nil, err
	}
	if err := ride.Insert(ctx, tx, m.Ride); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return declined, nil
}

func declineOpenOffers(ctx context.Context, tx pgx.Tx, requestID, except types.ID, at time.Time) ([]offer.Offer, error) {
	rows, err := tx.Query(ctx, `
		UPDATE ride_offers
		SET status = 'declined', version = version + 1, updated_at = $1
		WHERE request_id = $2 AND id <> $3 AND status IN ('pending', 'countered')
		RETURNING id, driver_id`, at, string(requestID), string(except))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []offer.Offer
	for rows.Next() {
		var o offer.Offer
		if err := rows.Scan(&o.ID, &o.DriverID); err != nil {
			return nil, err
		}
		o.RequestID = requestID
		o.Status = offer.StatusDeclined
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOpen(ctx context.Context, at time.Time, limit int) ([]RideRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE status = 'searching' AND expires_at >= $1
		ORDER BY created_at DESC
		LIMIT $2`, at, limit)
}

func (s *PostgresStore) ListByRider(ctx context.Context, riderID types.ID) ([]RideRequest, error) {
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE rider_id = $1
		ORDER BY created_at DESC`, string(riderID))
}

func (s *PostgresStore) ListExpired(ctx context.Context, at time.Time, limit int) ([]RideRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `
		SELECT `+requestColumns+` FROM ride_requests
		WHERE status = 'searching' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, at, limit)
}

func (s *PostgresStore) CountByStatus(ctx context.Context, at time.Time) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT CASE WHEN status = 'searching' AND expires_at < $1 THEN 'expired' ELSE status END AS effective,
		       COUNT(*)
		FROM ride_requests
		GROUP BY effective`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]RideRequest, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RideRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (*RideRequest, error) {
	var r RideRequest
	var pickupAddr, dropoffAddr, currency string
	var pLat, pLng, dLat, dLng *float64
	var matchedRide *string
	err := row.Scan(
		&r.ID, &r.RiderID,
		&pickupAddr, &pLat, &pLng, &dropoffAddr, &dLat, &dLng,
		&r.FareMin.Amount, &r.FareMax.Amount, &currency, &r.DistanceKm, &r.DurationMin,
		&r.RideType, &r.PaymentMethod, &r.Notes, &r.Status, &matchedRide, &r.CancelReason,
		&r.CreatedAt, &r.ExpiresAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Pickup = types.PlaceAt(pickupAddr, pLat, pLng)
	r.Dropoff = types.PlaceAt(dropoffAddr, dLat, dLng)
	r.FareMin.Currency, r.FareMax.Currency = currency, currency
	if matchedRide != nil {
		id := types.ID(*matchedRide)
		r.MatchedRideID = &id
	}
	return &r, nil
}
