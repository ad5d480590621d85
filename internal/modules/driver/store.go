// README: Driver application store backed by PostgreSQL.
package driver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
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

func (s *PostgresStore) GetProfile(ctx context.Context, driverID types.ID) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `
		SELECT driver_id, status, updated_at
		FROM driver_applications
		WHERE driver_id = $1`, string(driverID),
	).Scan(&p.DriverID, &p.Status, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("driver %s", driverID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, driverID types.ID, status VerificationStatus) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, `
		INSERT INTO driver_applications (driver_id, status, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (driver_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
		RETURNING driver_id, status, updated_at`,
		string(driverID), string(status),
	).Scan(&p.DriverID, &p.Status, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
