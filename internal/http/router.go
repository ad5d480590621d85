// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridemarket/internal/app"
	"ridemarket/internal/http/handlers"
	"ridemarket/internal/http/middleware"
	"ridemarket/internal/infra"
	"ridemarket/internal/maps"
	"ridemarket/internal/modules/payment"
	"ridemarket/internal/modules/pricing"
	"ridemarket/internal/observability"
)

// RouterDeps carries everything the API exposes. Places may be nil.
type RouterDeps struct {
	Core     *app.Core
	Payments *payment.Service
	Pricing  *pricing.Service
	Places   Places
	Routes   maps.Router
	Verifier infra.TokenVerifier
	Log      *zap.Logger
	// AllowedOrigins gates browser websocket upgrades.
	AllowedOrigins []string
}

type Places interface {
	handlers.Geocoder
	handlers.PlaceResolver
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Metrics(), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	payments := handlers.NewPaymentHandler(d.Payments)
	// Stripe authenticates with its signature header, not a bearer token.
	r.POST("/api/payments/stripe/webhook", payments.StripeWebhook)

	var places handlers.PlaceResolver
	var geocoder handlers.Geocoder
	if d.Places != nil {
		places, geocoder = d.Places, d.Places
	}

	api := r.Group("/api", middleware.Auth(d.Verifier))

	requests := handlers.NewRequestHandler(d.Core.Requests, d.Core.Offers, places, d.Routes, d.Log)
	api.POST("/requests", requests.Create)
	api.GET("/requests", requests.Mine)
	api.GET("/requests/:id", requests.Get)
	api.POST("/requests/:id/cancel", requests.Cancel)
	api.GET("/requests/:id/offers", requests.ListOffers)
	api.POST("/requests/:id/offers", requests.SubmitOffer)

	offers := handlers.NewOfferHandler(d.Core.Offers)
	api.GET("/offers", offers.Mine)
	api.POST("/offers/:id/accept", offers.Accept)
	api.POST("/offers/:id/counter", offers.Counter)
	api.POST("/offers/:id/decline", offers.Decline)

	rides := handlers.NewRideHandler(d.Core.Rides)
	api.GET("/rides", rides.Mine)
	api.GET("/rides/:id", rides.Get)
	api.GET("/rides/:id/history", rides.History)
	api.POST("/rides/:id/en-route", rides.EnRoute())
	api.POST("/rides/:id/arrive", rides.Arrive())
	api.POST("/rides/:id/start", rides.Start())
	api.POST("/rides/:id/complete", rides.Complete)
	api.POST("/rides/:id/cancel", rides.Cancel)

	api.POST("/payments/settlements", payments.Settle)

	dash := handlers.NewDashboardHandler(d.Core.Dashboard)
	api.GET("/dashboard/available", dash.Available)
	api.GET("/dashboard/active", dash.Active)
	api.GET("/dashboard/earnings", dash.Earnings)
	api.GET("/dashboard/stream", handlers.NewStreamHandler(d.Core.Dashboard, d.AllowedOrigins, d.Log).Stream)

	admin := handlers.NewAdminHandler(d.Core.Drivers, d.Pricing)
	api.GET("/admin/monitor", dash.Monitor)
	api.GET("/admin/drivers/:id", admin.GetDriver)
	api.PUT("/admin/drivers/:id/verification", admin.SetVerification)
	api.PUT("/admin/fares/:ride_type", admin.PutFareRate)

	api.POST("/fares/estimate", handlers.NewFareHandler(d.Pricing, d.Routes, d.Log).Estimate)
	api.GET("/geocode", handlers.NewGeocodeHandler(geocoder).Lookup)

	return r
}
