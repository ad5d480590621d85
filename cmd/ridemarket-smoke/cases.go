// README: Lifecycle and negotiation scenarios exercised through the public API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

func usd(cents int64) types.Money { return types.Cents(cents, "USD") }

type actor struct {
	id    string
	token string
}

func (r *Runner) rider() actor {
	id := newID("rider")
	return actor{id: id, token: r.token("rider", id)}
}

// driver registers and approves a fresh driver.
func (r *Runner) driver(ctx context.Context) (actor, error) {
	id := newID("driver")
	err := r.expect(ctx, http.StatusOK, http.MethodPut, "/api/admin/drivers/"+id+"/verification", r.admin,
		map[string]string{"status": "approved"}, nil)
	return actor{id: id, token: r.token("driver", id)}, err
}

func (r *Runner) openRequest(ctx context.Context, rider actor) (*request.RideRequest, error) {
	var out request.RideRequest
	err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/requests", rider.token, map[string]any{
		"pickup":         types.Place{Address: "123 Main St"},
		"dropoff":        types.Place{Address: "456 Oak Ave"},
		"fare_min":       usd(1800),
		"fare_max":       usd(3000),
		"payment_method": "card",
	}, &out)
	return &out, err
}

func (r *Runner) offer(ctx context.Context, reqID types.ID, drv actor, cents int64) (*offer.Offer, error) {
	var out offer.Offer
	err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/requests/"+string(reqID)+"/offers", drv.token,
		map[string]any{"fare": usd(cents)}, &out)
	return &out, err
}

func (r *Runner) accept(ctx context.Context, o *offer.Offer, who actor) (*ride.Ride, error) {
	var out ride.Ride
	err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/offers/"+string(o.ID)+"/accept", who.token,
		map[string]any{"version": o.Version}, &out)
	return &out, err
}

// matched returns an accepted ride at the given fare.
func (r *Runner) matched(ctx context.Context, cents int64) (*ride.Ride, actor, actor, error) {
	rider := r.rider()
	drv, err := r.driver(ctx)
	if err != nil {
		return nil, rider, drv, err
	}
	req, err := r.openRequest(ctx, rider)
	if err != nil {
		return nil, rider, drv, err
	}
	o, err := r.offer(ctx, req.ID, drv, cents)
	if err != nil {
		return nil, rider, drv, err
	}
	rd, err := r.accept(ctx, o, rider)
	return rd, rider, drv, err
}

func (r *Runner) advance(ctx context.Context, rideID types.ID, drv actor, steps ...string) (*ride.Ride, error) {
	var out ride.Ride
	for _, s := range steps {
		if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/rides/"+string(rideID)+"/"+s, drv.token, nil, &out); err != nil {
			return nil, err
		}
	}
	return &out, nil
}

func (r *Runner) cases() []TestCase {
	cs := []TestCase{
		{Name: "Request: create is searching with expiry", Run: caseCreateRequest},
		{Name: "Request: inverted fare band is rejected", Run: caseInvertedBand},
		{Name: "Offer: unapproved driver is forbidden", Run: caseUnapprovedDriver},
		{Name: "Offer: rider accepts the lower of two offers", Run: caseLowerOfTwo},
		{Name: "Offer: driver accepts the rider's counter", Run: caseCounter},
		{Name: "Match: a matched request rejects a second accept", Run: caseSecondAccept},
		{Name: "Request: cancelled request rejects offers", Run: caseCancelledRequest},
		{Name: "Lifecycle: full trip to completed", Run: caseFullTrip},
		{Name: "Lifecycle: skipping a step is rejected", Run: caseSkipStep},
		{Name: "Lifecycle: completed ride rejects cancel", Run: caseTerminal},
		{Name: "Payment: settlement completes an in-progress ride", Run: caseSettlement},
		{Name: "Dashboard: driver sees the open request", Run: caseAvailable},
		{Name: "Concurrency: one winner among racing accepts", Run: caseRace},
	}
	if r.cfg.Duration > 0 {
		cs = append(cs, TestCase{Name: "Load: create requests", Run: caseLoad})
	}
	return cs
}

func caseCreateRequest(ctx context.Context, r *Runner) Result {
	req, err := r.openRequest(ctx, r.rider())
	if err != nil {
		return fail("%v", err)
	}
	if req.Status != request.StatusSearching {
		return fail("status=%s", req.Status)
	}
	if !req.ExpiresAt.After(req.CreatedAt) {
		return fail("expires_at %s not after created_at %s", req.ExpiresAt, req.CreatedAt)
	}
	return pass("ttl=%s", req.ExpiresAt.Sub(req.CreatedAt))
}

func caseInvertedBand(ctx context.Context, r *Runner) Result {
	status, e, err := r.call(ctx, http.MethodPost, "/api/requests", r.rider().token, map[string]any{
		"pickup":   types.Place{Address: "1 A St"},
		"dropoff":  types.Place{Address: "2 B St"},
		"fare_min": usd(3000),
		"fare_max": usd(1800),
	}, nil)
	if err != nil {
		return fail("%v", err)
	}
	if status != http.StatusBadRequest || e.Code != "validation" {
		return fail("status=%d code=%s", status, e.Code)
	}
	return pass("")
}

func caseUnapprovedDriver(ctx context.Context, r *Runner) Result {
	req, err := r.openRequest(ctx, r.rider())
	if err != nil {
		return fail("%v", err)
	}
	id := newID("driver")
	if err := r.expect(ctx, http.StatusOK, http.MethodPut, "/api/admin/drivers/"+id+"/verification", r.admin,
		map[string]string{"status": "background_check_complete"}, nil); err != nil {
		return fail("%v", err)
	}
	status, e, err := r.call(ctx, http.MethodPost, "/api/requests/"+string(req.ID)+"/offers", r.token("driver", id),
		map[string]any{"fare": usd(2000)}, nil)
	if err != nil {
		return fail("%v", err)
	}
	if status != http.StatusForbidden {
		return fail("status=%d code=%s", status, e.Code)
	}
	return pass("")
}

func caseLowerOfTwo(ctx context.Context, r *Runner) Result {
	rider := r.rider()
	d1, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	d2, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	req, err := r.openRequest(ctx, rider)
	if err != nil {
		return fail("%v", err)
	}
	high, err := r.offer(ctx, req.ID, d1, 2450)
	if err != nil {
		return fail("%v", err)
	}
	low, err := r.offer(ctx, req.ID, d2, 2200)
	if err != nil {
		return fail("%v", err)
	}
	rd, err := r.accept(ctx, low, rider)
	if err != nil {
		return fail("%v", err)
	}
	if rd.FinalFare != usd(2200) {
		return fail("final fare %s", rd.FinalFare)
	}
	var list struct{ Offers []offer.Offer }
	if err := r.expect(ctx, http.StatusOK, http.MethodGet, "/api/requests/"+string(req.ID)+"/offers", rider.token, nil, &list); err != nil {
		return fail("%v", err)
	}
	for _, o := range list.Offers {
		if o.ID == high.ID && o.Status != offer.StatusDeclined {
			return fail("losing offer is %s", o.Status)
		}
	}
	return pass("fare=%s", rd.FinalFare)
}

func caseCounter(ctx context.Context, r *Runner) Result {
	rider := r.rider()
	drv, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	req, err := r.openRequest(ctx, rider)
	if err != nil {
		return fail("%v", err)
	}
	o, err := r.offer(ctx, req.ID, drv, 2600)
	if err != nil {
		return fail("%v", err)
	}
	var countered offer.Offer
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/offers/"+string(o.ID)+"/counter", rider.token,
		map[string]any{"counter_fare": usd(2300)}, &countered); err != nil {
		return fail("%v", err)
	}
	rd, err := r.accept(ctx, &countered, drv)
	if err != nil {
		return fail("%v", err)
	}
	if rd.FinalFare != usd(2300) {
		return fail("final fare %s", rd.FinalFare)
	}
	return pass("")
}

func caseSecondAccept(ctx context.Context, r *Runner) Result {
	rider := r.rider()
	d1, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	d2, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	req, err := r.openRequest(ctx, rider)
	if err != nil {
		return fail("%v", err)
	}
	o1, err := r.offer(ctx, req.ID, d1, 2000)
	if err != nil {
		return fail("%v", err)
	}
	o2, err := r.offer(ctx, req.ID, d2, 2100)
	if err != nil {
		return fail("%v", err)
	}
	if _, err := r.accept(ctx, o1, rider); err != nil {
		return fail("%v", err)
	}
	status, e, err := r.call(ctx, http.MethodPost, "/api/offers/"+string(o2.ID)+"/accept", rider.token,
		map[string]any{"version": o2.Version}, nil)
	if err != nil {
		return fail("%v", err)
	}
	if status != http.StatusConflict {
		return fail("status=%d code=%s", status, e.Code)
	}
	return pass("code=%s", e.Code)
}

func caseCancelledRequest(ctx context.Context, r *Runner) Result {
	rider := r.rider()
	drv, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	req, err := r.openRequest(ctx, rider)
	if err != nil {
		return fail("%v", err)
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/requests/"+string(req.ID)+"/cancel", rider.token,
		map[string]string{"reason": "changed plans"}, nil); err != nil {
		return fail("%v", err)
	}
	status, e, err := r.call(ctx, http.MethodPost, "/api/requests/"+string(req.ID)+"/offers", drv.token,
		map[string]any{"fare": usd(2000)}, nil)
	if err != nil {
		return fail("%v", err)
	}
	if status != http.StatusConflict {
		return fail("status=%d code=%s", status, e.Code)
	}
	return pass("")
}

func caseFullTrip(ctx context.Context, r *Runner) Result {
	rd, rider, drv, err := r.matched(ctx, 2200)
	if err != nil {
		return fail("%v", err)
	}
	done, err := r.advance(ctx, rd.ID, drv, "en-route", "arrive", "start", "complete")
	if err != nil {
		return fail("%v", err)
	}
	if done.Status != ride.StatusCompleted {
		return fail("status=%s", done.Status)
	}
	again, err := r.advance(ctx, rd.ID, drv, "complete")
	if err != nil {
		return fail("repeat complete: %v", err)
	}
	if again.StatusVersion != done.StatusVersion {
		return fail("repeat complete wrote: version %d -> %d", done.StatusVersion, again.StatusVersion)
	}
	var hist struct{ Events []ride.Event }
	if err := r.expect(ctx, http.StatusOK, http.MethodGet, "/api/rides/"+string(rd.ID)+"/history", rider.token, nil, &hist); err != nil {
		return fail("%v", err)
	}
	return pass("%d transitions", len(hist.Events))
}

func caseSkipStep(ctx context.Context, r *Runner) Result {
	rd, _, drv, err := r.matched(ctx, 2000)
	if err != nil {
		return fail("%v", err)
	}
	status, e, err := r.call(ctx, http.MethodPost, "/api/rides/"+string(rd.ID)+"/start", drv.token, nil, nil)
	if err != nil {
		return fail("%v", err)
	}
	if status != http.StatusConflict || e.Code != "invalid_state" {
		return fail("status=%d code=%s", status, e.Code)
	}
	return pass("")
}

func caseTerminal(ctx context.Context, r *Runner) Result {
	rd, rider, drv, err := r.matched(ctx, 2000)
	if err != nil {
		return fail("%v", err)
	}
	if _, err := r.advance(ctx, rd.ID, drv, "en-route", "arrive", "start", "complete"); err != nil {
		return fail("%v", err)
	}
	status, e, err := r.call(ctx, http.MethodPost, "/api/rides/"+string(rd.ID)+"/cancel", rider.token,
		map[string]string{"reason": "too late"}, nil)
	if err != nil {
		return fail("%v", err)
	}
	if status != http.StatusConflict || e.Code != "terminal_state" {
		return fail("status=%d code=%s", status, e.Code)
	}
	return pass("")
}

func caseSettlement(ctx context.Context, r *Runner) Result {
	rd, _, drv, err := r.matched(ctx, 2200)
	if err != nil {
		return fail("%v", err)
	}
	if _, err := r.advance(ctx, rd.ID, drv, "en-route", "arrive", "start"); err != nil {
		return fail("%v", err)
	}
	var out ride.Ride
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/payments/settlements", r.admin, map[string]any{
		"ride_id":   rd.ID,
		"amount":    usd(3000),
		"succeeded": true,
		"reference": newID("smoke-pay"),
	}, &out); err != nil {
		return fail("%v", err)
	}
	if out.Status != ride.StatusCompleted || out.PaymentStatus != ride.PaymentPaid || out.FinalFare != usd(3000) {
		return fail("status=%s payment=%s fare=%s", out.Status, out.PaymentStatus, out.FinalFare)
	}
	return pass("")
}

func caseAvailable(ctx context.Context, r *Runner) Result {
	req, err := r.openRequest(ctx, r.rider())
	if err != nil {
		return fail("%v", err)
	}
	drv, err := r.driver(ctx)
	if err != nil {
		return fail("%v", err)
	}
	var out struct {
		Rides []struct {
			Request request.RideRequest `json:"request"`
		} `json:"rides"`
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodGet, "/api/dashboard/available", drv.token, nil, &out); err != nil {
		return fail("%v", err)
	}
	for _, item := range out.Rides {
		if item.Request.ID == req.ID {
			return pass("%d open", len(out.Rides))
		}
	}
	return fail("request %s not listed among %d", req.ID, len(out.Rides))
}

func caseRace(ctx context.Context, r *Runner) Result {
	rider := r.rider()
	req, err := r.openRequest(ctx, rider)
	if err != nil {
		return fail("%v", err)
	}
	offers := make([]*offer.Offer, 0, r.cfg.Concurrency)
	for i := 0; i < r.cfg.Concurrency; i++ {
		drv, err := r.driver(ctx)
		if err != nil {
			return fail("%v", err)
		}
		o, err := r.offer(ctx, req.ID, drv, int64(2000+i*10))
		if err != nil {
			return fail("%v", err)
		}
		offers = append(offers, o)
	}

	var wins, conflicts, other atomic.Int32
	var wg sync.WaitGroup
	for _, o := range offers {
		wg.Add(1)
		go func(o *offer.Offer) {
			defer wg.Done()
			status, _, err := r.call(ctx, http.MethodPost, "/api/offers/"+string(o.ID)+"/accept", rider.token,
				map[string]any{"version": o.Version}, nil)
			switch {
			case err != nil:
				other.Add(1)
			case status == http.StatusCreated:
				wins.Add(1)
			case status == http.StatusConflict:
				conflicts.Add(1)
			default:
				other.Add(1)
			}
		}(o)
	}
	wg.Wait()

	if wins.Load() != 1 || other.Load() != 0 {
		return fail("wins=%d conflicts=%d other=%d", wins.Load(), conflicts.Load(), other.Load())
	}
	return pass("wins=1 conflicts=%d", conflicts.Load())
}

func caseLoad(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rider := r.rider()
			for time.Now().Before(end) && ctx.Err() == nil {
				if _, err := r.openRequest(ctx, rider); err != nil {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return fail("no requests completed")
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Latency: r.cfg.Duration, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}
