// README: Ride store backed by PostgreSQL.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const rideColumns = `
	id, request_id, rider_id, driver_id, offer_id, status, status_version,
	pickup_address, pickup_lat, pickup_lng, dropoff_address, dropoff_lat, dropoff_lng,
	final_fare, currency, payment_method, payment_status, payment_ref,
	distance_km, duration_min, rider_notes, driver_notes,
	created_at, accepted_at, started_at, completed_at, cancelled_at, cancel_reason`

// Insert writes a new ride. The match transaction calls it with its pgx.Tx.
func Insert(ctx context.Context, db Execer, r *Ride) error {
	pLat, pLng := r.Pickup.LatLng()
	dLat, dLng := r.Dropoff.LatLng()
	_, err := db.Exec(ctx, `
		INSERT INTO rides (`+rideColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, $26, $27, $28
		)`,
		string(r.ID), string(r.RequestID), string(r.RiderID), toStringPtr(r.DriverID), toStringPtr(r.OfferID),
		string(r.Status), r.StatusVersion,
		r.Pickup.Address, pLat, pLng, r.Dropoff.Address, dLat, dLng,
		r.FinalFare.Amount, r.FinalFare.Currency, string(r.PaymentMethod), string(r.PaymentStatus), r.PaymentRef,
		r.DistanceKm, r.DurationMin, r.RiderNotes, r.DriverNotes,
		r.CreatedAt, r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt, r.CancelReason,
	)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, r *Ride) error {
	return Insert(ctx, s.db, r)
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := scanRide(s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("ride %s", id)
	}
	return r, err
}

func (s *PostgresStore) Update(ctx context.Context, r *Ride, fromStatus Status, fromVersion int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1,
			status_version = status_version + 1,
			final_fare = $2,
			payment_status = $3,
			payment_ref = $4,
			driver_notes = $5,
			accepted_at = $6,
			started_at = $7,
			completed_at = $8,
			cancelled_at = $9,
			cancel_reason = $10
		WHERE id = $11 AND status = $12 AND status_version = $13`,
		string(r.Status),
		r.FinalFare.Amount,
		string(r.PaymentStatus),
		r.PaymentRef,
		r.DriverNotes,
		r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		r.CancelReason,
		string(r.ID),
		string(fromStatus),
		fromVersion,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, trigger, actor_role, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.Trigger),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) History(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, trigger, actor_role, actor_id, reason, created_at
		FROM ride_state_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.RideID, &e.FromStatus, &e.ToStatus, &e.Trigger, &e.ActorRole, &actorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, userID types.ID, statuses []Status) ([]Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE (rider_id = $1 OR driver_id = $1) AND status = ANY($2)
		ORDER BY created_at DESC`, string(userID), statusStrings(statuses))
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Ride, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`, statusStrings(statuses), limit)
}

func (s *PostgresStore) ListCompletedByDriver(ctx context.Context, driverID types.ID, since time.Time) ([]Ride, error) {
	return s.list(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 AND status = 'completed' AND completed_at >= $2
		ORDER BY completed_at DESC`, string(driverID), since)
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM rides GROUP BY status`)
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

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]Ride, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID, offerID *string
	var pickupAddr, dropoffAddr string
	var pLat, pLng, dLat, dLng *float64
	err := row.Scan(
		&r.ID, &r.RequestID, &r.RiderID, &driverID, &offerID, &r.Status, &r.StatusVersion,
		&pickupAddr, &pLat, &pLng, &dropoffAddr, &dLat, &dLng,
		&r.FinalFare.Amount, &r.FinalFare.Currency, &r.PaymentMethod, &r.PaymentStatus, &r.PaymentRef,
		&r.DistanceKm, &r.DurationMin, &r.RiderNotes, &r.DriverNotes,
		&r.CreatedAt, &r.AcceptedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt, &r.CancelReason,
	)
	if err != nil {
		return nil, err
	}
	r.DriverID = toIDPtr(driverID)
	r.OfferID = toIDPtr(offerID)
	r.Pickup = types.PlaceAt(pickupAddr, pLat, pLng)
	r.Dropoff = types.PlaceAt(dropoffAddr, dLat, dLng)
	return &r, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}
