package http_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"

	"ridemarket/internal/app/apptest"
	api "ridemarket/internal/http"
	"ridemarket/internal/infra"
	"ridemarket/internal/maps"
	"ridemarket/internal/modules/driver"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/payment"
	"ridemarket/internal/modules/pricing"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

const webhookSecret = "whsec_router"

// roleTokens treats the bearer token as "<role>:<uid>".
type roleTokens struct{}

func (roleTokens) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	role, uid, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, errors.New("malformed token")
	}
	return &infra.Token{UID: uid, Role: role}, nil
}

type env struct {
	f *apptest.Fixture
	h http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := apptest.New(t)
	h := api.NewRouter(api.RouterDeps{
		Core:     f.Core,
		Payments: payment.NewService(f.Core.Rides, payment.NewStripeWebhook(webhookSecret), nil),
		Pricing:  pricing.NewService(nil),
		Routes:   maps.StraightLine{},
		Verifier: roleTokens{},

		AllowedOrigins: []string{"https://ops.example.com"},
	})
	return &env{f: f, h: h}
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errBody struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func usd(cents int64) types.Money { return types.Cents(cents, "USD") }

func createBody() map[string]any {
	return map[string]any{
		"pickup":         types.NewPlace("123 Main St", 40.7128, -74.0060),
		"dropoff":        types.NewPlace("456 Oak Ave", 40.7306, -73.9352),
		"fare_min":       usd(1800),
		"fare_max":       usd(3000),
		"payment_method": "card",
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ridemarket_http_requests_total")
}

func TestAPIRequiresToken(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/requests", "", createBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.f.ApprovedDriver(t, "d1")
	rider, drv := "rider:r1", "driver:d1"

	w := e.do(t, http.MethodPost, "/api/requests", rider, createBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	req := decode[request.RideRequest](t, w)
	assert.Equal(t, request.StatusSearching, req.Status)
	assert.Greater(t, req.DistanceKm, 0.0, "distance filled from the router")

	w = e.do(t, http.MethodPost, "/api/requests/"+string(req.ID)+"/offers", drv, map[string]any{"fare": usd(2200)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	o := decode[offer.Offer](t, w)

	w = e.do(t, http.MethodGet, "/api/requests/"+string(req.ID)+"/offers", rider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[struct{ Offers []offer.Offer }](t, w)
	require.Len(t, listed.Offers, 1)

	w = e.do(t, http.MethodPost, "/api/offers/"+string(o.ID)+"/accept", rider, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "accept must name the offer version")
	w = e.do(t, http.MethodPost, "/api/offers/"+string(o.ID)+"/accept", rider, map[string]any{"version": o.Version})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rd := decode[ride.Ride](t, w)
	assert.Equal(t, ride.StatusAccepted, rd.Status)
	assert.Equal(t, usd(2200), rd.FinalFare)

	base := "/api/rides/" + string(rd.ID)
	for _, step := range []struct {
		path string
		want ride.Status
	}{
		{"/en-route", ride.StatusEnRoute},
		{"/arrive", ride.StatusArrived},
		{"/start", ride.StatusInProgress},
		{"/complete", ride.StatusCompleted},
	} {
		w = e.do(t, http.MethodPost, base+step.path, drv, nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.path, w.Body.String())
		assert.Equal(t, step.want, decode[ride.Ride](t, w).Status)
	}

	w = e.do(t, http.MethodGet, base, rider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ride.StatusCompleted, decode[ride.Ride](t, w).Status)

	w = e.do(t, http.MethodGet, base+"/history", rider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct{ Events []ride.Event }](t, w)
	assert.Len(t, hist.Events, 5)

	// Completing twice is a no-op, cancelling a completed ride is not.
	w = e.do(t, http.MethodPost, base+"/complete", drv, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, base+"/cancel", rider, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "terminal_state", decode[errBody](t, w).Code)

	w = e.do(t, http.MethodGet, base, "rider:stranger", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	e := newEnv(t)
	e.f.ApprovedDriver(t, "d1")
	e.f.ApprovedDriver(t, "d2")
	e.f.Driver(t, "pending", driver.VerificationPending)

	w := e.do(t, http.MethodPost, "/api/requests", "rider:r1", createBody())
	require.Equal(t, http.StatusCreated, w.Code)
	req := decode[request.RideRequest](t, w)
	offersPath := "/api/requests/" + string(req.ID) + "/offers"

	t.Run("validation", func(t *testing.T) {
		body := createBody()
		body["fare_min"] = usd(5000)
		w := e.do(t, http.MethodPost, "/api/requests", "rider:r1", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation", decode[errBody](t, w).Code)
	})
	t.Run("malformed json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader("{"))
		r.Header.Set("Authorization", "Bearer rider:r1")
		w := httptest.NewRecorder()
		e.h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("forbidden", func(t *testing.T) {
		w := e.do(t, http.MethodPost, offersPath, "driver:pending", map[string]any{"fare": usd(2000)})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "forbidden", decode[errBody](t, w).Code)
	})
	t.Run("not found", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/requests/"+string(types.NewID()), "rider:r1", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_found", decode[errBody](t, w).Code)
	})
	t.Run("already matched", func(t *testing.T) {
		w := e.do(t, http.MethodPost, offersPath, "driver:d1", map[string]any{"fare": usd(2200)})
		require.Equal(t, http.StatusCreated, w.Code)
		first := decode[offer.Offer](t, w)
		w = e.do(t, http.MethodPost, offersPath, "driver:d2", map[string]any{"fare": usd(2100)})
		require.Equal(t, http.StatusCreated, w.Code)
		second := decode[offer.Offer](t, w)

		w = e.do(t, http.MethodPost, "/api/offers/"+string(first.ID)+"/accept", "rider:r1", map[string]any{"version": first.Version})
		require.Equal(t, http.StatusCreated, w.Code)
		w = e.do(t, http.MethodPost, "/api/offers/"+string(second.ID)+"/accept", "rider:r1", map[string]any{"version": second.Version})
		assert.Equal(t, http.StatusConflict, w.Code)
		body := decode[errBody](t, w)
		assert.Contains(t, []string{"already_matched", "invalid_state"}, body.Code)
	})
	t.Run("unavailable", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/geocode?address=Main+St", "rider:r1", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decode[errBody](t, w)
		assert.Equal(t, "unavailable", body.Code)
		assert.True(t, body.Retryable)
	})
	t.Run("bad id", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/rides/bad$id", "rider:r1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCounterOfferOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.f.ApprovedDriver(t, "d1")

	w := e.do(t, http.MethodPost, "/api/requests", "rider:r1", createBody())
	req := decode[request.RideRequest](t, w)
	w = e.do(t, http.MethodPost, "/api/requests/"+string(req.ID)+"/offers", "driver:d1", map[string]any{"fare": usd(2500)})
	o := decode[offer.Offer](t, w)

	w = e.do(t, http.MethodPost, "/api/offers/"+string(o.ID)+"/counter", "rider:r1", map[string]any{"counter_fare": usd(2300)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	countered := decode[offer.Offer](t, w)
	assert.Equal(t, offer.StatusCountered, countered.Status)

	w = e.do(t, http.MethodPost, "/api/offers/"+string(o.ID)+"/accept", "driver:d1", map[string]any{"version": o.Version})
	assert.Equal(t, http.StatusConflict, w.Code, "the pre-counter version is stale")
	w = e.do(t, http.MethodPost, "/api/offers/"+string(o.ID)+"/accept", "driver:d1", map[string]any{"version": countered.Version})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, usd(2300), decode[ride.Ride](t, w).FinalFare)
}

func TestAdminVerificationUnlocksDriver(t *testing.T) {
	e := newEnv(t)
	e.f.Driver(t, "d9", driver.VerificationBackgroundCheckComplete)

	w := e.do(t, http.MethodPost, "/api/requests", "rider:r1", createBody())
	req := decode[request.RideRequest](t, w)
	offersPath := "/api/requests/" + string(req.ID) + "/offers"

	w = e.do(t, http.MethodPost, offersPath, "driver:d9", map[string]any{"fare": usd(2000)})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPut, "/api/admin/drivers/d9/verification", "rider:r1", map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(t, http.MethodPut, "/api/admin/drivers/d9/verification", "admin:a1", map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPost, offersPath, "driver:d9", map[string]any{"fare": usd(2000)})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodGet, "/api/admin/monitor", "admin:a1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"searching":1`)
}

func TestFareEstimate(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/fares/estimate", "rider:r1", map[string]any{
		"distance_km":  5,
		"duration_min": 10,
		"ride_type":    "standard",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Total   types.Money `json:"total"`
		FareMin types.Money `json:"fare_min"`
		FareMax types.Money `json:"fare_max"`
	}](t, w)
	assert.True(t, body.Total.IsPositive())
	assert.LessOrEqual(t, body.FareMin.Amount, body.Total.Amount)
	assert.GreaterOrEqual(t, body.FareMax.Amount, body.Total.Amount)

	w = e.do(t, http.MethodPost, "/api/fares/estimate", "rider:r1", map[string]any{"ride_type": "helicopter", "distance_km": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func signStripe(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeWebhookCompletesRide(t *testing.T) {
	e := newEnv(t)
	rd, _, _ := e.f.InProgressRide(t, 2200)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_http",
		"object": "event",
		"api_version": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_http",
			"object": "payment_intent",
			"amount": 2500,
			"amount_received": 2500,
			"currency": "usd",
			"metadata": {"ride_id": %q}
		}}
	}`, stripe.APIVersion, rd.ID))

	post := func(sig string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/payments/stripe/webhook", bytes.NewReader(payload))
		r.Header.Set("Stripe-Signature", sig)
		w := httptest.NewRecorder()
		e.h.ServeHTTP(w, r)
		return w
	}

	w := post("t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(signStripe(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"completed"`)

	got, err := e.f.Core.Rides.Get(context.Background(), rd.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCompleted, got.Status)
	assert.Equal(t, usd(2500), got.FinalFare)
	assert.Equal(t, ride.PaymentPaid, got.PaymentStatus)
}

func TestStripeWebhookAcknowledgesRefusedEvent(t *testing.T) {
	e := newEnv(t)
	rd, _, _ := e.f.MatchedRide(t, 2200)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_early",
		"object": "event",
		"api_version": %q,
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_early",
			"object": "payment_intent",
			"amount": 2200,
			"amount_received": 2200,
			"currency": "usd",
			"metadata": {"ride_id": %q}
		}}
	}`, stripe.APIVersion, rd.ID))
	r := httptest.NewRequest(http.MethodPost, "/api/payments/stripe/webhook", bytes.NewReader(payload))
	r.Header.Set("Stripe-Signature", signStripe(payload))
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Received bool   `json:"received"`
		Ignored  string `json:"ignored"`
		RideID   string `json:"ride_id"`
	}](t, w)
	assert.True(t, body.Received)
	assert.Equal(t, "invalid_state", body.Ignored)
	assert.Equal(t, string(rd.ID), body.RideID)

	got, err := e.f.Core.Rides.Get(context.Background(), rd.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, got.Status)
	assert.Equal(t, ride.PaymentPending, got.PaymentStatus)
}

func TestSettlementRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	rd, rider, _ := e.f.InProgressRide(t, 2200)
	body := map[string]any{"ride_id": rd.ID, "amount": usd(2200), "succeeded": true, "reference": "manual-1"}

	w := e.do(t, http.MethodPost, "/api/payments/settlements", "rider:"+string(rider.ID), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/payments/settlements", "admin:a1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, ride.StatusCompleted, decode[ride.Ride](t, w).Status)
}

func TestDashboardStream(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.h)
	t.Cleanup(srv.Close)

	rider := types.Rider("r-stream")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dashboard/stream?view=active&access_token=rider:r-stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	type frame struct {
		View string      `json:"view"`
		Data []ride.Ride `json:"data"`
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "active", first.View)
	assert.Empty(t, first.Data)

	ctx := context.Background()
	drv := e.f.ApprovedDriver(t, "d-stream")
	req := e.f.OpenRequest(t, rider)
	o, err := e.f.Core.Offers.SubmitOffer(ctx, req.ID, drv, usd(2000))
	require.NoError(t, err)
	_, err = e.f.Core.Offers.AcceptOffer(ctx, o.ID, o.Version, rider)
	require.NoError(t, err)

	var next frame
	require.NoError(t, conn.ReadJSON(&next))
	require.Len(t, next.Data, 1)
	assert.Equal(t, ride.StatusAccepted, next.Data[0].Status)
}

func TestDashboardStreamChecksOrigin(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/dashboard/stream?view=active&access_token=rider:r-origin"

	dial := func(origin string) (*websocket.Conn, *http.Response, error) {
		return websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{origin}})
	}

	conn, resp, err := dial("https://evil.example.net")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Nil(t, conn)
	resp.Body.Close()

	for _, origin := range []string{"https://ops.example.com", srv.URL} {
		conn, resp, err := dial(origin)
		require.NoError(t, err, origin)
		resp.Body.Close()
		conn.Close()
	}
}

func TestDashboardStreamRejectsBeforeUpgrade(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/dashboard/stream?view=available", "rider:r1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodGet, "/api/dashboard/stream?view=bogus", "rider:r1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
