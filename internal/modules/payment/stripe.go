// README: Stripe webhook parsing for payment_intent events.
package payment

import (
	"encoding/json"
	"errors"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

const (
	eventSucceeded = "payment_intent.succeeded"
	eventFailed    = "payment_intent.payment_failed"

	// MetadataRideID is the PaymentIntent metadata key carrying the ride id.
	MetadataRideID = "ride_id"
)

var errWebhookDisabled = errors.New("payment webhook secret is not configured")

type StripeWebhook struct {
	secret string
}

func NewStripeWebhook(secret string) *StripeWebhook {
	return &StripeWebhook{secret: secret}
}

func (w *StripeWebhook) Parse(payload []byte, signature string) (ride.Settlement, bool, error) {
	if w.secret == "" {
		return ride.Settlement{}, false, apperr.Unavailable(errWebhookDisabled)
	}
	event, err := webhook.ConstructEvent(payload, signature, w.secret)
	if err != nil {
		return ride.Settlement{}, false, apperr.Validation("stripe webhook: %v", err)
	}

	typ := string(event.Type)
	if typ != eventSucceeded && typ != eventFailed {
		return ride.Settlement{}, false, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return ride.Settlement{}, false, &Rejection{Err: apperr.Validation("stripe webhook: bad payment_intent: %v", err)}
	}
	rideID := pi.Metadata[MetadataRideID]
	if rideID == "" {
		return ride.Settlement{}, false, &Rejection{Err: apperr.Validation("payment_intent %s has no %s metadata", pi.ID, MetadataRideID)}
	}

	st := ride.Settlement{
		RideID:    types.ID(rideID),
		Succeeded: typ == eventSucceeded,
		Reference: pi.ID,
	}
	if st.Succeeded {
		st.Amount = types.Cents(pi.AmountReceived, strings.ToUpper(string(pi.Currency)))
	}
	return st, true, nil
}
