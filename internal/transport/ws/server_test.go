package ws_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-sdk-bridge/internal/adapter/memory"
	"github.com/tinywideclouds/go-sdk-bridge/internal/dispatcher"
	"github.com/tinywideclouds/go-sdk-bridge/internal/emitter"
	"github.com/tinywideclouds/go-sdk-bridge/internal/mainthread"
	"github.com/tinywideclouds/go-sdk-bridge/internal/platform/static"
	"github.com/tinywideclouds/go-sdk-bridge/internal/registry"
	"github.com/tinywideclouds/go-sdk-bridge/internal/transport/ws"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
)

type memStore struct {
	mu    sync.Mutex
	token string
}

func (m *memStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memStore) Save(_ context.Context, t string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = t
	return nil
}

type harness struct {
	url      string
	server   *ws.Server
	registry *registry.Registry
	emitter  *emitter.Emitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	looper := mainthread.NewLooper(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go looper.Run(ctx)
	t.Cleanup(cancel)

	adapter := memory.New()
	store := &memStore{}
	reg := registry.New()
	em := emitter.New(adapter, store, reg, looper, nil, logger)

	d, err := dispatcher.New(dispatcher.Deps{
		Adapter:  adapter,
		Platform: static.New(static.Config{}),
		Store:    store,
		Events:   em,
		Executor: looper,
	}, logger)
	require.NoError(t, err)

	srv := ws.NewServer(d, reg, nil, logger)
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	return &harness{
		url:      "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/?channel=" + bridge.ChannelName,
		server:   srv,
		registry: reg,
		emitter:  em,
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, id, method string, args map[string]any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(bridge.Frame{Type: bridge.FrameCommand, ID: id, Channel: bridge.ChannelName, Method: method, Arguments: args}))
}

func read(t *testing.T, c *websocket.Conn) bridge.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f bridge.Frame
	require.NoError(t, c.ReadJSON(&f))
	return f
}

func TestServer_CommandRoundTrip(t *testing.T) {
	h := newHarness(t)
	c := dial(t, h.url)

	send(t, c, "1", bridge.MethodInitialize, map[string]any{"apiKey": "PUBKEY"})
	f := read(t, c)
	assert.Equal(t, bridge.FrameResponse, f.Type)
	assert.Equal(t, "1", f.ID)
	assert.Nil(t, f.Error)

	send(t, c, "2", bridge.MethodSetEmail, map[string]any{"email": "a@b.c"})
	assert.Nil(t, read(t, c).Error)

	send(t, c, "3", bridge.MethodGetEmail, nil)
	f = read(t, c)
	assert.Equal(t, "3", f.ID)
	assert.Equal(t, "a@b.c", f.Value)

	send(t, c, "4", bridge.MethodResetProfile, nil)
	assert.Nil(t, read(t, c).Error)

	send(t, c, "5", bridge.MethodGetEmail, nil)
	f = read(t, c)
	assert.Nil(t, f.Value)
	assert.Nil(t, f.Error)
}

func TestServer_ErrorsAndUnknownMethods(t *testing.T) {
	h := newHarness(t)
	c := dial(t, h.url)

	send(t, c, "1", bridge.MethodSetPushToken, map[string]any{"token": "   "})
	f := read(t, c)
	require.NotNil(t, f.Error)
	assert.Equal(t, bridge.CodeInvalidToken, f.Error.Code)

	send(t, c, "2", "notARealMethod", nil)
	f = read(t, c)
	assert.True(t, f.NotImplemented)

	send(t, c, "3", bridge.MethodRequestPushPermission, nil)
	f = read(t, c)
	require.NotNil(t, f.Error)
	assert.Equal(t, bridge.CodePushUnavailable, f.Error.Code)
}

func TestServer_MalformedFrameIsSkipped(t *testing.T) {
	h := newHarness(t)
	c := dial(t, h.url)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"command"`)))
	send(t, c, "after", bridge.MethodGetPushPermissionStatus, nil)

	f := read(t, c)
	assert.Equal(t, "after", f.ID)
	assert.Equal(t, "unavailable_simulator", f.Value)
}

func TestServer_BurstOfCommandsGetsEveryResponse(t *testing.T) {
	h := newHarness(t)
	c := dial(t, h.url)

	const n = 500
	for i := 0; i < n; i++ {
		send(t, c, strconv.Itoa(i), bridge.MethodGetEmail, nil)
	}

	seen := make(map[string]bool, n)
	for len(seen) < n {
		f := read(t, c)
		require.Equal(t, bridge.FrameResponse, f.Type)
		require.False(t, seen[f.ID], "duplicate response for %s", f.ID)
		seen[f.ID] = true
	}
	assert.Len(t, seen, n)
}

func TestServer_RejectsUnknownChannel(t *testing.T) {
	h := newHarness(t)
	bad := strings.Replace(h.url, "channel=", "channel=other", 1)

	_, resp, err := websocket.DefaultDialer.Dial(bad, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_EventsGoToNewestConnection(t *testing.T) {
	h := newHarness(t)
	first := dial(t, h.url)
	second := dial(t, h.url)

	require.Eventually(t, func() bool { return h.server.Connections() == 2 }, 2*time.Second, 10*time.Millisecond)

	h.emitter.NotificationReceived(context.Background(), map[string]any{"title": "hi"})

	f := read(t, second)
	assert.Equal(t, bridge.FrameEvent, f.Type)
	assert.Equal(t, bridge.EventNotificationReceived, f.Name)
	assert.Equal(t, "hi", f.Payload["title"])

	_ = first.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "older connection must not receive the event")
}

func TestServer_DetachOnClose(t *testing.T) {
	h := newHarness(t)
	c := dial(t, h.url)

	require.Eventually(t, func() bool {
		_, ok := h.registry.Current()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		_, ok := h.registry.Current()
		return !ok && h.server.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// Emitting with nothing attached is a silent drop.
	h.emitter.NotificationReceived(context.Background(), nil)
}

func TestServer_CloseAll(t *testing.T) {
	h := newHarness(t)
	c := dial(t, h.url)
	require.Eventually(t, func() bool { return h.server.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.server.CloseAll()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
}
