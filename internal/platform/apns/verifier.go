// Package apns checks iOS push tokens against the Apple Push Notification
// Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// APNSClient is the subset of apns2.Client we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw content of the .p8 file.
	P8KeyContent string
	Sandbox      bool
}

// Verifier probes a token with a silent background notification.
type Verifier struct {
	client APNSClient
	topic  string
	logger *slog.Logger
}

// NewVerifier parses the P8 key immediately so bad credentials fail at
// startup.
func NewVerifier(cfg Config, logger *slog.Logger) (*Verifier, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	}

	return newVerifier(client, cfg.BundleID, logger), nil
}

func newVerifier(client APNSClient, topic string, logger *slog.Logger) *Verifier {
	return &Verifier{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSVerifier"),
	}
}

func (v *Verifier) Verify(ctx context.Context, deviceToken string) error {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       v.topic,
		PushType:    apns2.PushTypeBackground,
		Priority:    apns2.PriorityLow,
		Payload:     payload.NewPayload().ContentAvailable(),
	}

	res, err := v.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		v.logger.Info("APNs rejected push token", "reason", res.Reason, "status", res.StatusCode)
		return fmt.Errorf("%w: %s", sdk.ErrTokenRejected, res.Reason)
	default:
		// The token may be fine; our configuration is not.
		v.logger.Warn("APNs refused probe", "reason", res.Reason, "status", res.StatusCode)
		return fmt.Errorf("apns probe refused: %s (%d)", res.Reason, res.StatusCode)
	}
}
