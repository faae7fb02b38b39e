// Package memory is an in-process SDK adapter. It keeps profile state
// locally and records what a real SDK would have sent.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

type Adapter struct {
	mu          sync.RWMutex
	initialized bool
	apiKey      string
	profile     sdk.Profile
	pushToken   string
	formsActive bool
	events      []sdk.Event
	opened      []map[string]any
}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Initialize(_ context.Context, apiKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initialized = true
	a.apiKey = apiKey
	return nil
}

func (a *Adapter) SetEmail(ctx context.Context, email string) error {
	return a.SetProfile(ctx, sdk.Profile{Email: &email})
}

func (a *Adapter) SetPhoneNumber(ctx context.Context, phoneNumber string) error {
	return a.SetProfile(ctx, sdk.Profile{PhoneNumber: &phoneNumber})
}

func (a *Adapter) SetExternalID(ctx context.Context, externalID string) error {
	return a.SetProfile(ctx, sdk.Profile{ExternalID: &externalID})
}

// SetProfile merges non-nil fields into the current profile.
func (a *Adapter) SetProfile(_ context.Context, p sdk.Profile) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return sdk.ErrNotInitialized
	}
	a.profile = a.profile.Merge(p)
	return nil
}

func (a *Adapter) ResetProfile(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profile = sdk.Profile{}
	a.pushToken = ""
	return nil
}

func (a *Adapter) Email(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return deref(a.profile.Email), nil
}

func (a *Adapter) PhoneNumber(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return deref(a.profile.PhoneNumber), nil
}

func (a *Adapter) ExternalID(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return deref(a.profile.ExternalID), nil
}

func (a *Adapter) CreateEvent(_ context.Context, ev sdk.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return sdk.ErrNotInitialized
	}
	a.events = append(a.events, ev)
	return nil
}

func (a *Adapter) SetPushToken(_ context.Context, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return sdk.ErrNotInitialized
	}
	a.pushToken = token
	return nil
}

func (a *Adapter) RegisterForInAppForms(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return sdk.ErrNotInitialized
	}
	a.formsActive = true
	return nil
}

func (a *Adapter) UnregisterFromInAppForms(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.formsActive = false
	return nil
}

func (a *Adapter) HandleNotificationOpened(_ context.Context, payload map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = append(a.opened, maps.Clone(payload))
	return nil
}

// Snapshot is a copy of the adapter state for inspection.
type Snapshot struct {
	Initialized bool
	APIKey      string
	Profile     sdk.Profile
	PushToken   string
	FormsActive bool
	Events      []sdk.Event
	Opened      []map[string]any
}

func (a *Adapter) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Initialized: a.initialized,
		APIKey:      a.apiKey,
		Profile:     a.profile,
		PushToken:   a.pushToken,
		FormsActive: a.formsActive,
		Events:      append([]sdk.Event(nil), a.events...),
		Opened:      append([]map[string]any(nil), a.opened...),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
