// README: Driver verification profile consumed by the availability gate.
package driver

import (
	"time"

	"ridemarket/internal/types"
)

type VerificationStatus string

const (
	VerificationPending                  VerificationStatus = "pending"
	VerificationDocumentsSubmitted       VerificationStatus = "documents_submitted"
	VerificationBackgroundCheckInitiated VerificationStatus = "background_check_initiated"
	VerificationBackgroundCheckComplete  VerificationStatus = "background_check_complete"
	VerificationApproved                 VerificationStatus = "approved"
	VerificationRejected                 VerificationStatus = "rejected"
)

func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationPending, VerificationDocumentsSubmitted, VerificationBackgroundCheckInitiated,
		VerificationBackgroundCheckComplete, VerificationApproved, VerificationRejected:
		return true
	}
	return false
}

type Profile struct {
	DriverID  types.ID           `json:"driver_id"`
	Status    VerificationStatus `json:"verification_status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// CanAct is true iff the driver's application is approved.
func CanAct(p Profile) bool {
	return p.Status == VerificationApproved
}
