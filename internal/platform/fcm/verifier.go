// Package fcm checks Android push tokens against Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// MessagingClient is the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendDryRun(ctx context.Context, msg *messaging.Message) (string, error)
}

// Verifier validates tokens with a dry-run send. Nothing reaches the device.
type Verifier struct {
	client MessagingClient
	logger *slog.Logger
}

func NewVerifier(client MessagingClient, logger *slog.Logger) *Verifier {
	return &Verifier{
		client: client,
		logger: logger.With("component", "FCMVerifier"),
	}
}

// Verify returns an error wrapping sdk.ErrTokenRejected when FCM reports the
// token as malformed or unregistered. Other errors are transport failures.
func (v *Verifier) Verify(ctx context.Context, token string) error {
	msg := &messaging.Message{
		Token: token,
		Data:  map[string]string{"probe": "1"},
	}

	id, err := v.client.SendDryRun(ctx, msg)
	if err != nil {
		if messaging.IsInvalidArgument(err) || messaging.IsRegistrationTokenNotRegistered(err) {
			v.logger.Info("FCM rejected push token", "err", err)
			return fmt.Errorf("%w: %v", sdk.ErrTokenRejected, err)
		}
		return fmt.Errorf("fcm dry run failed: %w", err)
	}

	v.logger.Debug("FCM accepted push token", "message_id", id)
	return nil
}
