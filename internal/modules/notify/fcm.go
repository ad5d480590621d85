// README: FCM sender and RTDB device-token lookup backed by the Firebase Admin SDK.
package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

type FCMPusher struct {
	client *messaging.Client
}

func NewFCMPusher(ctx context.Context, app *firebase.App) (*FCMPusher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

func fcmMessage(m Message) *messaging.Message {
	return &messaging.Message{
		Data:         m.Data,
		Notification: &messaging.Notification{Title: m.Title, Body: m.Body},
		Android:      &messaging.AndroidConfig{Priority: "high"},
	}
}

func (p *FCMPusher) Send(ctx context.Context, deviceToken string, m Message) error {
	if deviceToken == "" {
		return apperr.Validation("empty device token")
	}
	msg := fcmMessage(m)
	msg.Token = deviceToken
	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to device: %w", err)
	}
	return nil
}

func (p *FCMPusher) SendTopic(ctx context.Context, topic string, m Message) error {
	msg := fcmMessage(m)
	msg.Topic = topic
	if _, err := p.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending FCM to topic %s: %w", topic, err)
	}
	return nil
}

// RTDBTokens reads device tokens the apps write to /device_tokens/{uid}.
type RTDBTokens struct {
	client *db.Client
}

func NewRTDBTokens(ctx context.Context, app *firebase.App) (*RTDBTokens, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return &RTDBTokens{client: client}, nil
}

type rtdbDeviceEntry struct {
	Token     string `json:"token"`
	Platform  string `json:"platform"`
	Timestamp int64  `json:"timestamp"`
}

func (t *RTDBTokens) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	var entry rtdbDeviceEntry
	if err := t.client.NewRef("device_tokens/"+string(userID)).Get(ctx, &entry); err != nil {
		return "", fmt.Errorf("reading device token: %w", err)
	}
	if entry.Token == "" {
		return "", apperr.NotFound("no device token for %s", userID)
	}
	return entry.Token, nil
}
