package dispatcher_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tinywideclouds/go-sdk-bridge/internal/mainthread"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/completion"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// --- Mocks ---

type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Initialize(ctx context.Context, apiKey string) error {
	return m.Called(ctx, apiKey).Error(0)
}
func (m *MockAdapter) SetEmail(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}
func (m *MockAdapter) SetPhoneNumber(ctx context.Context, phone string) error {
	return m.Called(ctx, phone).Error(0)
}
func (m *MockAdapter) SetExternalID(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *MockAdapter) SetProfile(ctx context.Context, p sdk.Profile) error {
	return m.Called(ctx, p).Error(0)
}
func (m *MockAdapter) ResetProfile(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockAdapter) Email(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockAdapter) PhoneNumber(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockAdapter) ExternalID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockAdapter) CreateEvent(ctx context.Context, ev sdk.Event) error {
	return m.Called(ctx, ev).Error(0)
}
func (m *MockAdapter) SetPushToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockAdapter) RegisterForInAppForms(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockAdapter) UnregisterFromInAppForms(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
func (m *MockAdapter) HandleNotificationOpened(ctx context.Context, payload map[string]any) error {
	return m.Called(ctx, payload).Error(0)
}

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Load(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockTokenStore) Save(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

type MockTokenEvents struct {
	mock.Mock
}

func (m *MockTokenEvents) PushTokenReceived(ctx context.Context, token string) {
	m.Called(ctx, token)
}
func (m *MockTokenEvents) PushTokenRegistrationFailed(ctx context.Context, cause error) {
	m.Called(ctx, cause)
}

// fakePlatform hands out futures the test controls.
type fakePlatform struct {
	available bool
	auth      *completion.Future[bool]
	status    *completion.Future[sdk.PermissionStatus]
	token     *completion.Future[string]
}

func (p *fakePlatform) PushAvailable() bool { return p.available }
func (p *fakePlatform) RequestAuthorization(context.Context) *completion.Future[bool] {
	return p.auth
}
func (p *fakePlatform) AuthorizationStatus(context.Context) *completion.Future[sdk.PermissionStatus] {
	return p.status
}
func (p *fakePlatform) FetchToken(context.Context) *completion.Future[string] {
	return p.token
}

// recordingChannel captures everything delivered to it.
type recordingChannel struct {
	mu        sync.Mutex
	responses map[string][]bridge.Response
	got       chan string
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{responses: map[string][]bridge.Response{}, got: make(chan string, 64)}
}

func (c *recordingChannel) Reply(id string, resp bridge.Response) error {
	c.mu.Lock()
	c.responses[id] = append(c.responses[id], resp)
	c.mu.Unlock()
	c.got <- id
	return nil
}

func (c *recordingChannel) Invoke(bridge.Event) error { return nil }

// await blocks for the response to id.
func (c *recordingChannel) await(t *testing.T, id string) bridge.Response {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if rs := c.responses[id]; len(rs) > 0 {
			c.mu.Unlock()
			return rs[0]
		}
		c.mu.Unlock()
		select {
		case <-c.got:
		case <-deadline:
			t.Fatalf("no response for %s", id)
		}
	}
}

func (c *recordingChannel) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.responses[id])
}

func newTestLooper(t *testing.T) *mainthread.Looper {
	t.Helper()
	l := mainthread.NewLooper(newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
