// README: Offer store backed by PostgreSQL.
package offer

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

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, request_id, driver_id, fare, currency, counter_fare, status, version, created_at, updated_at`

// uniqueViolation is raised by the partial unique index on active offers
// when two submissions from one driver race.
const uniqueViolation = "23505"

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Offer, error) {
	o, err := scanOffer(s.db.QueryRow(ctx, `SELECT `+offerColumns+` FROM ride_offers WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("offer %s", id)
	}
	return o, err
}

func (s *PostgresStore) Submit(ctx context.Context, o *Offer, at time.Time) (*Offer, bool, error) {
	saved, replaced, err := s.submit(ctx, o, at)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return s.submit(ctx, o, at)
	}
	return saved, replaced, err
}

func (s *PostgresStore) submit(ctx context.Context, o *Offer, at time.Time) (*Offer, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR SHARE serializes against the match and cancel transactions, which
	// take the request row FOR UPDATE before touching offers.
	var status string
	var expiresAt time.Time
	err = tx.QueryRow(ctx, `
		SELECT status, expires_at FROM ride_requests WHERE id = $1 FOR SHARE`,
		string(o.RequestID),
	).Scan(&status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperr.NotFound("ride request %s", o.RequestID)
	}
	if err != nil {
		return nil, false, err
	}
	if status != "searching" || at.After(expiresAt) {
		return nil, false, apperr.InvalidState("ride request %s is no longer open", o.RequestID)
	}

	existing, err := scanOffer(tx.QueryRow(ctx, `
		SELECT `+offerColumns+` FROM ride_offers
		WHERE request_id = $1 AND driver_id = $2 AND status IN ('pending', 'countered')
		FOR UPDATE`, string(o.RequestID), string(o.DriverID)))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO ride_offers (`+offerColumns+`)
			VALUES ($1, $2, $3, $4, $5, NULL, $6, 0, $7, $7)`,
			string(o.ID), string(o.RequestID), string(o.DriverID),
			o.Fare.Amount, o.Fare.Currency, string(StatusPending), at,
		)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		saved := *o
		saved.Status, saved.Version, saved.CreatedAt, saved.UpdatedAt = StatusPending, 0, at, at
		return &saved, false, nil
	case err != nil:
		return nil, false, err
	}

	if existing.Status == StatusCountered {
		return nil, false, apperr.InvalidState("offer %s has an outstanding counter; accept or decline it", existing.ID)
	}
	_, err = tx.Exec(ctx, `
		UPDATE ride_offers
		SET fare = $1, version = version + 1, updated_at = $2
		WHERE id = $3`, o.Fare.Amount, at, string(existing.ID))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	existing.Fare = o.Fare
	existing.Version++
	existing.UpdatedAt = at
	return existing, true, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id types.ID, from []Status, to Status, counter *types.Money, at time.Time) (bool, error) {
	var counterAmount *int64
	if counter != nil {
		counterAmount = &counter.Amount
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_offers
		SET status = $1,
			counter_fare = COALESCE($2, counter_fare),
			version = version + 1,
			updated_at = $3
		WHERE id = $4 AND status = ANY($5)`,
		string(to), counterAmount, at, string(id), statusStrings(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListByRequest(ctx context.Context, requestID types.ID) ([]Offer, error) {
	return s.list(ctx, `
		SELECT `+offerColumns+` FROM ride_offers
		WHERE request_id = $1
		ORDER BY created_at`, string(requestID))
}

func (s *PostgresStore) ListByDriver(ctx context.Context, driverID types.ID, statuses []Status) ([]Offer, error) {
	if len(statuses) == 0 {
		return s.list(ctx, `
			SELECT `+offerColumns+` FROM ride_offers
			WHERE driver_id = $1
			ORDER BY updated_at DESC`, string(driverID))
	}
	return s.list(ctx, `
		SELECT `+offerColumns+` FROM ride_offers
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY updated_at DESC`, string(driverID), statusStrings(statuses))
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]Offer, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var counter *int64
	err := row.Scan(&o.ID, &o.RequestID, &o.DriverID, &o.Fare.Amount, &o.Fare.Currency, &counter,
		&o.Status, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if counter != nil {
		m := types.Money{Amount: *counter, Currency: o.Fare.Currency}
		o.CounterFare = &m
	}
	return &o, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
