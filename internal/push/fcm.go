// Package push sends topic notifications through Firebase Cloud Messaging.
package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// messagingClient is the subset of *messaging.Client used here.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMTransport publishes notifications to FCM topics. The underlying
// messaging client is safe for concurrent use.
type FCMTransport struct {
	client messagingClient
}

func NewFCMTransport(ctx context.Context, app *firebase.App) (*FCMTransport, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm: create messaging client: %w", err)
	}
	return &FCMTransport{client: client}, nil
}

// Send returns the message name assigned by FCM.
func (t *FCMTransport) Send(ctx context.Context, topic, title, body string) (string, error) {
	id, err := t.client.Send(ctx, BuildMessage(topic, title, body))
	if err != nil {
		return "", fmt.Errorf("fcm: send to topic %s: %w", topic, err)
	}
	return id, nil
}

func BuildMessage(topic, title, body string) *messaging.Message {
	return &messaging.Message{
		Topic: topic,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
	}
}
