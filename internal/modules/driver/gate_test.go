package driver_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/driver"
	"ridemarket/internal/store/memstore"
	"ridemarket/internal/types"
)

func TestGateRequire(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	gate := driver.NewGate(db.Drivers())

	statuses := []struct {
		status driver.VerificationStatus
		ok     bool
	}{
		{driver.VerificationPending, false},
		{driver.VerificationDocumentsSubmitted, false},
		{driver.VerificationBackgroundCheckInitiated, false},
		{driver.VerificationBackgroundCheckComplete, false},
		{driver.VerificationApproved, true},
		{driver.VerificationRejected, false},
	}
	for _, tc := range statuses {
		t.Run(string(tc.status), func(t *testing.T) {
			id := types.ID("driver-" + string(tc.status))
			_, err := db.Drivers().SetStatus(ctx, id, tc.status)
			require.NoError(t, err)
			err = gate.Require(ctx, id)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrForbidden)
		})
	}

	assert.ErrorIs(t, gate.Require(ctx, "unknown"), apperr.ErrForbidden)
	assert.ErrorIs(t, gate.Require(ctx, ""), apperr.ErrForbidden)
}

type brokenStore struct{}

func (brokenStore) GetProfile(context.Context, types.ID) (*driver.Profile, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) SetStatus(context.Context, types.ID, driver.VerificationStatus) (*driver.Profile, error) {
	return nil, errors.New("connection refused")
}

func TestGateStoreDown(t *testing.T) {
	err := driver.NewGate(brokenStore{}).Require(context.Background(), "d1")
	assert.ErrorIs(t, err, apperr.ErrCollaboratorUnavailable)
	assert.NotErrorIs(t, err, apperr.ErrForbidden)
}

func TestSetStatusAdminOnly(t *testing.T) {
	ctx := context.Background()
	svc := driver.NewService(memstore.New().Drivers(), nil)

	_, err := svc.SetStatus(ctx, types.Driver("d1"), "d1", driver.VerificationApproved)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.SetStatus(ctx, types.Admin("a1"), "d1", "vibes")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	p, err := svc.SetStatus(ctx, types.Admin("a1"), "d1", driver.VerificationApproved)
	require.NoError(t, err)
	assert.True(t, driver.CanAct(*p))

	got, err := svc.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, driver.VerificationApproved, got.Status)
}
