package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/completion"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// The interfaces below are implemented by the native side (Swift/Kotlin).
//
// Rules for gomobile compatibility:
//   - methods may only use primitive types, strings, []byte, or other
//     gomobile-bound types as parameters and return values
//   - errors are returned as the last return value
//   - structured values (profiles, events, payloads) travel as JSON strings

// NativeSDK forwards to the vendor marketing SDK.
type NativeSDK interface {
	Initialize(apiKey string) error
	SetEmail(email string) error
	SetPhoneNumber(phoneNumber string) error
	SetExternalID(externalID string) error
	// SetProfile receives a JSON object with camelCase profile keys.
	SetProfile(profileJSON string) error
	ResetProfile() error
	// Getters return "" when the field is unset.
	GetEmail() (string, error)
	GetPhoneNumber() (string, error)
	GetExternalID() (string, error)
	// CreateEvent receives {"name", "properties", "value", "uniqueId"}.
	CreateEvent(eventJSON string) error
	SetPushToken(token string) error
	RegisterForInAppForms() error
	UnregisterFromInAppForms() error
	HandleNotificationOpened(payloadJSON string) error
}

// BoolCallback completes an asynchronous native call exactly once.
type BoolCallback interface {
	Resolve(value bool)
	Reject(message string)
}

// StringCallback completes an asynchronous native call exactly once.
type StringCallback interface {
	Resolve(value string)
	Reject(message string)
}

// NativePush is the OS push service.
type NativePush interface {
	// PushAvailable is false on simulators and emulators.
	PushAvailable() bool
	RequestAuthorization(cb BoolCallback)
	// AuthorizationStatus resolves with a status string such as
	// "authorized" or "denied".
	AuthorizationStatus(cb StringCallback)
	FetchToken(cb StringCallback)
}

// Task is a unit of work for the main thread.
type Task interface {
	Run()
}

// MainThread posts tasks to the UI thread (Handler(Looper.getMainLooper())
// on Android, DispatchQueue.main on iOS).
type MainThread interface {
	Post(task Task)
}

// NativeChannel delivers encoded frames to the application layer.
type NativeChannel interface {
	Send(frameJSON string) error
}

// --- Go-side adapters ---

type nativeAdapter struct {
	native NativeSDK
}

func (a *nativeAdapter) Initialize(_ context.Context, apiKey string) error {
	return a.native.Initialize(apiKey)
}

func (a *nativeAdapter) SetEmail(_ context.Context, email string) error {
	return a.native.SetEmail(email)
}

func (a *nativeAdapter) SetPhoneNumber(_ context.Context, phoneNumber string) error {
	return a.native.SetPhoneNumber(phoneNumber)
}

func (a *nativeAdapter) SetExternalID(_ context.Context, externalID string) error {
	return a.native.SetExternalID(externalID)
}

func (a *nativeAdapter) SetProfile(_ context.Context, p sdk.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return a.native.SetProfile(string(data))
}

func (a *nativeAdapter) ResetProfile(_ context.Context) error {
	return a.native.ResetProfile()
}

func (a *nativeAdapter) Email(_ context.Context) (string, error) {
	return a.native.GetEmail()
}

func (a *nativeAdapter) PhoneNumber(_ context.Context) (string, error) {
	return a.native.GetPhoneNumber()
}

func (a *nativeAdapter) ExternalID(_ context.Context) (string, error) {
	return a.native.GetExternalID()
}

func (a *nativeAdapter) CreateEvent(_ context.Context, ev sdk.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return a.native.CreateEvent(string(data))
}

func (a *nativeAdapter) SetPushToken(_ context.Context, token string) error {
	return a.native.SetPushToken(token)
}

func (a *nativeAdapter) RegisterForInAppForms(_ context.Context) error {
	return a.native.RegisterForInAppForms()
}

func (a *nativeAdapter) UnregisterFromInAppForms(_ context.Context) error {
	return a.native.UnregisterFromInAppForms()
}

func (a *nativeAdapter) HandleNotificationOpened(_ context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}
	return a.native.HandleNotificationOpened(string(data))
}

type nativePlatform struct {
	push NativePush
}

func (p *nativePlatform) PushAvailable() bool {
	return p.push.PushAvailable()
}

func (p *nativePlatform) RequestAuthorization(context.Context) *completion.Future[bool] {
	f := completion.New[bool]()
	p.push.RequestAuthorization(&boolFuture{f: f})
	return f
}

func (p *nativePlatform) AuthorizationStatus(context.Context) *completion.Future[sdk.PermissionStatus] {
	raw := completion.New[string]()
	p.push.AuthorizationStatus(&stringFuture{f: raw})

	f := completion.New[sdk.PermissionStatus]()
	go func() {
		s, err := raw.Wait(context.Background())
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(sdk.ParsePermissionStatus(s))
	}()
	return f
}

func (p *nativePlatform) FetchToken(context.Context) *completion.Future[string] {
	f := completion.New[string]()
	p.push.FetchToken(&stringFuture{f: f})
	return f
}

// boolFuture and stringFuture are handed to native code as callbacks.
// Completing twice is ignored.
type boolFuture struct {
	f *completion.Future[bool]
}

func (b *boolFuture) Resolve(value bool)    { b.f.Resolve(value) }
func (b *boolFuture) Reject(message string) { b.f.Reject(nativeError(message)) }

type stringFuture struct {
	f *completion.Future[string]
}

func (s *stringFuture) Resolve(value string)  { s.f.Resolve(value) }
func (s *stringFuture) Reject(message string) { s.f.Reject(nativeError(message)) }

func nativeError(message string) error {
	if message == "" {
		message = "native call failed"
	}
	return errors.New(message)
}

type mainThreadExecutor struct {
	thread MainThread
}

type taskFunc func()

func (t taskFunc) Run() { t() }

func (e *mainThreadExecutor) Post(task func()) bool {
	e.thread.Post(taskFunc(task))
	return true
}

// nativeChannel encodes responses and events as frames for the app.
type nativeChannel struct {
	native NativeChannel
}

func (c *nativeChannel) Reply(id string, resp bridge.Response) error {
	data, err := bridge.EncodeResponse(id, resp)
	if err != nil {
		return err
	}
	return c.native.Send(string(data))
}

func (c *nativeChannel) Invoke(ev bridge.Event) error {
	data, err := bridge.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return c.native.Send(string(data))
}
