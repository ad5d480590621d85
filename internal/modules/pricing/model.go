// README: Pricing rate definition for each ride type.
package pricing

import (
	"time"

	"ridemarket/internal/types"
)

// Rate prices a ride type in minor units. Distance past IncludedKm is charged
// per started UnitKm; time is charged per minute at the peak or off-peak rate.
type Rate struct {
	RideType       string  `json:"ride_type"`
	BaseFare       int64   `json:"base_fare"`
	IncludedKm     float64 `json:"included_km"`
	UnitKm         float64 `json:"unit_km"`
	PerUnit        int64   `json:"per_unit"`
	PerMinute      int64   `json:"per_minute"`
	PeakPerMinute  int64   `json:"peak_per_minute"`
	NightSurcharge int64   `json:"night_surcharge"`
	Minimum        int64   `json:"minimum"`
	Multiplier     float64 `json:"multiplier"`
	Currency       string  `json:"currency"`
}

type PricingRequest struct {
	DistanceKm  float64
	DurationMin float64
	RideType    string
	RequestTime time.Time
}

type PricingResult struct {
	Total     types.Money
	Breakdown map[string]int64
}

// DefaultRates are used for ride types with no row in fare_rates.
var DefaultRates = map[string]Rate{
	"standard": {
		RideType: "standard", BaseFare: 250, IncludedKm: 1, UnitKm: 0.2, PerUnit: 25,
		PerMinute: 30, PeakPerMinute: 45, NightSurcharge: 150, Minimum: 800, Multiplier: 1, Currency: "USD",
	},
	"premium": {
		RideType: "premium", BaseFare: 250, IncludedKm: 1, UnitKm: 0.2, PerUnit: 25,
		PerMinute: 30, PeakPerMinute: 45, NightSurcharge: 150, Minimum: 1500, Multiplier: 1.5, Currency: "USD",
	},
	"shared": {
		RideType: "shared", BaseFare: 250, IncludedKm: 1, UnitKm: 0.2, PerUnit: 25,
		PerMinute: 30, PeakPerMinute: 45, NightSurcharge: 150, Minimum: 600, Multiplier: 0.8, Currency: "USD",
	},
}
