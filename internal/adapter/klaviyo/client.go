// Package klaviyo implements the SDK adapter against the Klaviyo client
// API. Identity is tracked locally and mirrored to the API on every change.
package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

const (
	DefaultBaseURL  = "https://a.klaviyo.com"
	DefaultRevision = "2024-10-15"

	openedPushMetric = "$opened_push"
	// Notifications sent by Klaviyo carry this key in their data.
	klaviyoPayloadKey = "_k"
)

type Config struct {
	BaseURL  string
	Revision string
	// Platform is reported with push tokens: "ios" or "android".
	Platform string
	// Vendor is "apns" or "fcm".
	Vendor     string
	HTTPClient *http.Client
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("klaviyo api returned %d: %s", e.Status, e.Body)
}

type Adapter struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	// identityMu serializes profile mutations across the API round trip.
	identityMu sync.Mutex

	mu          sync.RWMutex
	apiKey      string
	anonymousID string
	profile     sdk.Profile
	pushToken   string
	formsActive bool
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}
	if cfg.Platform == "" {
		cfg.Platform = "android"
	}
	if cfg.Vendor == "" {
		cfg.Vendor = "fcm"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{
		cfg:         cfg,
		client:      client,
		logger:      logger.With("component", "klaviyo_adapter"),
		anonymousID: uuid.NewString(),
	}
}

func (a *Adapter) Initialize(_ context.Context, apiKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apiKey = apiKey
	a.logger.Info("Klaviyo client API initialized", "revision", a.cfg.Revision)
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

// SetProfile merges p into the local profile and upserts the result.
// The local profile only changes once the API accepts it.
func (a *Adapter) SetProfile(ctx context.Context, p sdk.Profile) error {
	a.identityMu.Lock()
	defer a.identityMu.Unlock()

	a.mu.RLock()
	apiKey := a.apiKey
	merged := a.profile.Merge(p)
	anon := a.anonymousID
	a.mu.RUnlock()

	if apiKey == "" {
		return sdk.ErrNotInitialized
	}

	body := document{Data: resource{Type: "profile", Attributes: profileAttributes(merged, anon)}}
	if err := a.post(ctx, apiKey, "/client/profiles/", body); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	a.mu.Lock()
	a.profile = merged
	a.mu.Unlock()
	return nil
}

// ResetProfile drops the identity and starts a new anonymous profile. A
// known push token is moved to the new profile.
func (a *Adapter) ResetProfile(ctx context.Context) error {
	a.identityMu.Lock()
	a.mu.Lock()
	a.profile = sdk.Profile{}
	a.anonymousID = uuid.NewString()
	token := a.pushToken
	apiKey := a.apiKey
	a.mu.Unlock()
	a.identityMu.Unlock()

	if token == "" || apiKey == "" {
		return nil
	}
	return a.SetPushToken(ctx, token)
}

func (a *Adapter) Email(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return value(a.profile.Email), nil
}

func (a *Adapter) PhoneNumber(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return value(a.profile.PhoneNumber), nil
}

func (a *Adapter) ExternalID(_ context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return value(a.profile.ExternalID), nil
}

func (a *Adapter) CreateEvent(ctx context.Context, ev sdk.Event) error {
	a.mu.RLock()
	apiKey := a.apiKey
	identity := identityAttributes(a.profile, a.anonymousID)
	a.mu.RUnlock()

	if apiKey == "" {
		return sdk.ErrNotInitialized
	}

	attrs := map[string]any{
		"properties": nonNil(ev.Properties),
		"metric": document{Data: resource{Type: "metric", Attributes: map[string]any{
			"name": ev.Name,
		}}},
		"profile": document{Data: resource{Type: "profile", Attributes: identity}},
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Value != nil {
		attrs["value"] = *ev.Value
	}
	if ev.UniqueID != "" {
		attrs["unique_id"] = ev.UniqueID
	}

	body := document{Data: resource{Type: "event", Attributes: attrs}}
	if err := a.post(ctx, apiKey, "/client/events/", body); err != nil {
		return fmt.Errorf("failed to create event %q: %w", ev.Name, err)
	}
	return nil
}

func (a *Adapter) SetPushToken(ctx context.Context, token string) error {
	a.mu.RLock()
	apiKey := a.apiKey
	identity := identityAttributes(a.profile, a.anonymousID)
	formsActive := a.formsActive
	a.mu.RUnlock()

	if apiKey == "" {
		return sdk.ErrNotInitialized
	}

	attrs := map[string]any{
		"token":             token,
		"platform":          a.cfg.Platform,
		"vendor":            a.cfg.Vendor,
		"enablement_status": "AUTHORIZED",
		"background":        "AVAILABLE",
		"device_metadata": map[string]any{
			"sdk_name":       "go-sdk-bridge",
			"in_app_enabled": formsActive,
		},
		"profile": document{Data: resource{Type: "profile", Attributes: identity}},
	}

	body := document{Data: resource{Type: "push-token", Attributes: attrs}}
	if err := a.post(ctx, apiKey, "/client/push-tokens/", body); err != nil {
		return fmt.Errorf("failed to register push token: %w", err)
	}

	a.mu.Lock()
	a.pushToken = token
	a.mu.Unlock()
	return nil
}

// In-app forms are rendered by the application; the adapter only tracks
// whether they are enabled.
func (a *Adapter) RegisterForInAppForms(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.apiKey == "" {
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

// HandleNotificationOpened records an open for Klaviyo notifications and
// ignores everything else.
func (a *Adapter) HandleNotificationOpened(ctx context.Context, payload map[string]any) error {
	if _, ok := payload[klaviyoPayloadKey]; !ok {
		return nil
	}
	return a.CreateEvent(ctx, sdk.Event{Name: openedPushMetric, Properties: payload})
}

type document struct {
	Data resource `json:"data"`
}

type resource struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

func (a *Adapter) post(ctx context.Context, apiKey, path string, body document) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + path + "?company_id=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("revision", a.cfg.Revision)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func identityAttributes(p sdk.Profile, anonymousID string) map[string]any {
	attrs := map[string]any{"anonymous_id": anonymousID}
	putString(attrs, "email", p.Email)
	putString(attrs, "phone_number", p.PhoneNumber)
	putString(attrs, "external_id", p.ExternalID)
	return attrs
}

func profileAttributes(p sdk.Profile, anonymousID string) map[string]any {
	attrs := identityAttributes(p, anonymousID)
	putString(attrs, "first_name", p.FirstName)
	putString(attrs, "last_name", p.LastName)
	putString(attrs, "organization", p.Organization)
	putString(attrs, "title", p.Title)
	putString(attrs, "image", p.Image)

	if l := p.Location; l != nil {
		loc := map[string]any{}
		putString(loc, "address1", l.Address1)
		putString(loc, "address2", l.Address2)
		putString(loc, "city", l.City)
		putString(loc, "country", l.Country)
		putString(loc, "region", l.Region)
		putString(loc, "zip", l.Zip)
		putString(loc, "timezone", l.Timezone)
		if l.Latitude != nil {
			loc["latitude"] = *l.Latitude
		}
		if l.Longitude != nil {
			loc["longitude"] = *l.Longitude
		}
		attrs["location"] = loc
	}
	if len(p.Properties) > 0 {
		attrs["properties"] = p.Properties
	}
	return attrs
}

func putString(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
