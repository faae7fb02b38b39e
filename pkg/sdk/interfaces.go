package sdk

import (
	"context"
	"errors"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/completion"
)

var (
	// ErrNotInitialized is returned by adapters used before Initialize.
	ErrNotInitialized = errors.New("sdk not initialized")
	// ErrTokenRejected marks a push token the push service reports as dead.
	ErrTokenRejected = errors.New("push token rejected")
)

// Adapter is the vendor marketing SDK as seen by the bridge.
type Adapter interface {
	Initialize(ctx context.Context, apiKey string) error

	SetEmail(ctx context.Context, email string) error
	SetPhoneNumber(ctx context.Context, phoneNumber string) error
	SetExternalID(ctx context.Context, externalID string) error
	// SetProfile merges the non-nil fields of p into the current profile.
	SetProfile(ctx context.Context, p Profile) error
	// ResetProfile returns the profile to an anonymous state.
	ResetProfile(ctx context.Context) error

	// Getters return "" when the field is unset.
	Email(ctx context.Context) (string, error)
	PhoneNumber(ctx context.Context) (string, error)
	ExternalID(ctx context.Context) (string, error)

	CreateEvent(ctx context.Context, ev Event) error
	SetPushToken(ctx context.Context, token string) error

	RegisterForInAppForms(ctx context.Context) error
	UnregisterFromInAppForms(ctx context.Context) error

	// HandleNotificationOpened records that the user opened a notification.
	HandleNotificationOpened(ctx context.Context, payload map[string]any) error
}

// PushPlatform is the OS push service. Asynchronous calls return a future
// that completes exactly once.
type PushPlatform interface {
	// PushAvailable is false where the runtime cannot receive pushes
	// (simulators, emulators, headless hosts).
	PushAvailable() bool
	RequestAuthorization(ctx context.Context) *completion.Future[bool]
	AuthorizationStatus(ctx context.Context) *completion.Future[PermissionStatus]
	FetchToken(ctx context.Context) *completion.Future[string]
}

// TokenStore persists the last known push token.
type TokenStore interface {
	// Load returns "" with a nil error when nothing is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
}

// TokenVerifier asks the push service whether a token is still deliverable.
// Dead tokens are reported by wrapping ErrTokenRejected.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) error
}
