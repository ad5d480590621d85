package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridemarket/internal/app/apptest"
	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/notify"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type sent struct {
	token, topic string
	msg          notify.Message
}

type fakePusher struct {
	mu   sync.Mutex
	sent []sent
	fail error
}

func (p *fakePusher) Send(_ context.Context, token string, m notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{token: token, msg: m})
	return p.fail
}

func (p *fakePusher) SendTopic(_ context.Context, topic string, m notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{topic: topic, msg: m})
	return p.fail
}

func (p *fakePusher) all() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.sent...)
}

type tokenMap map[types.ID]string

func (m tokenMap) DeviceToken(_ context.Context, id types.ID) (string, error) {
	if t, ok := m[id]; ok {
		return t, nil
	}
	return "", apperr.NotFound("no device token for %s", id)
}

func TestNotifierFollowsNegotiation(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	push := &fakePusher{}
	n := notify.NewNotifier(f.Bus, push, tokenMap{"rider-1": "tok-rider", "driver-1": "tok-driver"}, nil)
	unsub, err := n.Start(ctx)
	require.NoError(t, err)

	rider := types.Rider("rider-1")
	drv := f.ApprovedDriver(t, "driver-1")
	req := f.OpenRequest(t, rider)
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(2200))
	require.NoError(t, err)
	rd, err := f.Core.Offers.AcceptOffer(ctx, o.ID, o.Version, rider)
	require.NoError(t, err)
	_, err = f.Core.Rides.HeadToPickup(ctx, rd.ID, drv)
	require.NoError(t, err)
	unsub()

	got := push.all()
	require.Len(t, got, 4)
	assert.Equal(t, notify.OpenRequestsTopic, got[0].topic)
	assert.Equal(t, "new_request", got[0].msg.Data["type"])
	assert.Equal(t, "tok-rider", got[1].token)
	assert.Equal(t, "offer", got[1].msg.Data["type"])
	assert.Equal(t, "tok-driver", got[2].token)
	assert.Equal(t, "offer_accepted", got[2].msg.Data["type"])
	assert.Equal(t, "tok-rider", got[3].token)
	assert.Equal(t, "Driver on the way", got[3].msg.Title)
}

func TestNotifierSkipsUsersWithoutDevice(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	push := &fakePusher{}
	unsub, err := notify.NewNotifier(f.Bus, push, tokenMap{}, nil).Start(ctx)
	require.NoError(t, err)

	req := f.OpenRequest(t, types.Rider("rider-1"))
	_, err = f.Core.Offers.SubmitOffer(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), apptest.USD(2000))
	require.NoError(t, err)
	unsub()

	got := push.all()
	require.Len(t, got, 1, "only the topic broadcast goes out")
	assert.Equal(t, notify.OpenRequestsTopic, got[0].topic)
}

func TestNotifierPushFailureDoesNotBreakWrites(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	push := &fakePusher{fail: errors.New("fcm: quota exceeded")}
	unsub, err := notify.NewNotifier(f.Bus, push, tokenMap{"rider-1": "tok"}, nil).Start(ctx)
	require.NoError(t, err)

	req := f.OpenRequest(t, types.Rider("rider-1"))
	_, err = f.Core.Offers.SubmitOffer(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), apptest.USD(2000))
	require.NoError(t, err)
	unsub()
	assert.Len(t, push.all(), 2)
}

// blockingPusher holds every send until release is closed.
type blockingPusher struct {
	fakePusher
	release chan struct{}
}

func (p *blockingPusher) Send(ctx context.Context, token string, m notify.Message) error {
	<-p.release
	return p.fakePusher.Send(ctx, token, m)
}

func (p *blockingPusher) SendTopic(ctx context.Context, topic string, m notify.Message) error {
	<-p.release
	return p.fakePusher.SendTopic(ctx, topic, m)
}

func TestNotifierDoesNotBlockWriters(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	push := &blockingPusher{release: make(chan struct{})}
	unsub, err := notify.NewNotifier(f.Bus, push, tokenMap{"rider-1": "tok"}, nil).Start(ctx)
	require.NoError(t, err)

	drv := f.ApprovedDriver(t, "driver-1")
	done := make(chan error, 1)
	go func() {
		req, err := f.Core.Requests.CreateRequest(ctx, request.CreateCommand{
			Rider:         types.Rider("rider-1"),
			Pickup:        types.Place{Address: "123 Main St"},
			Dropoff:       types.Place{Address: "456 Oak Ave"},
			FareMin:       apptest.USD(1800),
			FareMax:       apptest.USD(3000),
			RideType:      request.RideStandard,
			PaymentMethod: ride.PaymentCard,
		})
		if err == nil {
			_, err = f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(2000))
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writes waited on push delivery")
	}
	assert.Empty(t, push.all())

	close(push.release)
	unsub()
	assert.Len(t, push.all(), 2)
}
