// Package mobile is the gomobile-bindable entry point of the bridge. Native
// host code implements the interfaces in native.go, calls Start once, then
// forwards application frames and OS push callbacks into the exported
// functions.
package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/tinywideclouds/go-sdk-bridge/internal/dispatcher"
	"github.com/tinywideclouds/go-sdk-bridge/internal/emitter"
	"github.com/tinywideclouds/go-sdk-bridge/internal/registry"
	badgerstore "github.com/tinywideclouds/go-sdk-bridge/internal/storage/badger"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

var (
	ErrNotStarted  = errors.New("bridge not started")
	ErrNotAttached = errors.New("no application channel attached")
	ErrBlankToken  = errors.New("push token is blank")
)

type instance struct {
	ctx        context.Context
	cancel     context.CancelFunc
	db         *badger.DB
	registry   *registry.Registry
	emitter    *emitter.Emitter
	dispatcher *dispatcher.Dispatcher
	detach     func()
	logger     *slog.Logger
}

var (
	mu      sync.Mutex
	current *instance
)

// Start wires the bridge. The push token is persisted under dataDir. push
// may be nil when the host has no push service.
func Start(dataDir string, installationID string, native NativeSDK, push NativePush, mainThread MainThread) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return fmt.Errorf("bridge already running")
	}
	if native == nil || mainThread == nil {
		return fmt.Errorf("a NativeSDK and a MainThread are required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	})).With("service", "go-sdk-bridge-mobile")

	dbPath := filepath.Join(dataDir, "bridgedb")
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return fmt.Errorf("failed to create bridge db directory: %w", err)
	}
	db, err := badgerstore.Open(dbPath, logger)
	if err != nil {
		return err
	}

	store := badgerstore.NewTokenStore(db, installationID)
	adapter := &nativeAdapter{native: native}
	executor := &mainThreadExecutor{thread: mainThread}
	channels := registry.New()
	em := emitter.New(adapter, store, channels, executor, nil, logger)

	var platform sdk.PushPlatform
	if push != nil {
		platform = &nativePlatform{push: push}
	}

	d, err := dispatcher.New(dispatcher.Deps{
		Adapter:  adapter,
		Platform: platform,
		Store:    store,
		Events:   em,
		Executor: executor,
	}, logger)
	if err != nil {
		_ = db.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	current = &instance{
		ctx:        ctx,
		cancel:     cancel,
		db:         db,
		registry:   channels,
		emitter:    em,
		dispatcher: d,
		logger:     logger,
	}
	logger.Info("Bridge started", "data_dir", dataDir)
	return nil
}

// Stop tears the bridge down. In-flight asynchronous commands are
// cancelled; their responses are dropped.
func Stop() {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return
	}
	if current.detach != nil {
		current.detach()
	}
	current.cancel()
	if err := current.db.Close(); err != nil {
		current.logger.Warn("Failed to close bridge db", "err", err)
	}
	current.logger.Info("Bridge stopped")
	current = nil
}

// Attach makes ch the target for responses and events, replacing any
// previous channel.
func Attach(ch NativeChannel) error {
	mu.Lock()
	defer mu.Unlock()

	if current == nil {
		return ErrNotStarted
	}
	current.detach = current.registry.Attach(&nativeChannel{native: ch})
	return nil
}

// Detach clears the channel installed by the latest Attach.
func Detach() {
	mu.Lock()
	defer mu.Unlock()

	if current != nil && current.detach != nil {
		current.detach()
		current.detach = nil
	}
}

// HandleCommand services one command frame from the application layer.
// The response is delivered to the attached channel on the main thread.
func HandleCommand(frameJSON string) error {
	inst, err := running()
	if err != nil {
		return err
	}
	call, err := bridge.DecodeCall([]byte(frameJSON))
	if err != nil {
		return err
	}
	ch, ok := inst.registry.Current()
	if !ok {
		return ErrNotAttached
	}
	inst.dispatcher.Handle(inst.ctx, ch, call)
	return nil
}

// OnPushToken forwards a token issued by the OS push service. Callbacks
// that arrive while the bridge is stopped are dropped.
func OnPushToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrBlankToken
	}
	inst, ok := callbackTarget("push_token")
	if !ok {
		return nil
	}
	inst.emitter.PushTokenReceived(inst.ctx, token)
	return nil
}

// OnPushTokenFailed forwards an OS registration failure.
func OnPushTokenFailed(message string) error {
	inst, ok := callbackTarget("push_token_failed")
	if !ok {
		return nil
	}
	inst.emitter.PushTokenRegistrationFailed(inst.ctx, nativeError(message))
	return nil
}

// OnNotificationTapped forwards the data of an opened notification.
func OnNotificationTapped(payloadJSON string) error {
	payload, err := decodePayload(payloadJSON)
	if err != nil {
		return err
	}
	inst, ok := callbackTarget("notification_tapped")
	if !ok {
		return nil
	}
	inst.emitter.NotificationTapped(inst.ctx, payload)
	return nil
}

// OnNotificationReceived forwards a notification delivered in the
// foreground.
func OnNotificationReceived(payloadJSON string) error {
	payload, err := decodePayload(payloadJSON)
	if err != nil {
		return err
	}
	inst, ok := callbackTarget("notification_received")
	if !ok {
		return nil
	}
	inst.emitter.NotificationReceived(inst.ctx, payload)
	return nil
}

// callbackTarget returns the running instance, or false when a native
// callback raced Stop.
func callbackTarget(callback string) (*instance, bool) {
	inst, err := running()
	if err != nil {
		slog.Debug("Dropping native callback, bridge not running", "callback", callback)
		return nil, false
	}
	return inst, true
}

func running() (*instance, error) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil, ErrNotStarted
	}
	return current, nil
}

func decodePayload(payloadJSON string) (map[string]any, error) {
	payload := map[string]any{}
	if payloadJSON == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("notification payload must be a json object: %w", err)
	}
	return payload, nil
}

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
