// Package emitter turns native push callbacks into events on the active
// application channel.
package emitter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/tinywideclouds/go-sdk-bridge/internal/mainthread"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

const mirrorTimeout = 10 * time.Second

// ChannelSource resolves the channel events should go to.
type ChannelSource interface {
	Current() (bridge.Channel, bool)
}

type Emitter struct {
	adapter  sdk.Adapter
	store    sdk.TokenStore
	channels ChannelSource
	executor mainthread.Executor
	sink     bridge.EventSink
	logger   *slog.Logger
}

// New creates an Emitter. sink may be nil.
func New(
	adapter sdk.Adapter,
	store sdk.TokenStore,
	channels ChannelSource,
	executor mainthread.Executor,
	sink bridge.EventSink,
	logger *slog.Logger,
) *Emitter {
	return &Emitter{
		adapter:  adapter,
		store:    store,
		channels: channels,
		executor: executor,
		sink:     sink,
		logger:   logger.With("component", "emitter"),
	}
}

// PushTokenReceived registers a freshly issued token with the SDK, persists
// it and tells the application. A blank token is dropped so it never
// replaces a stored one.
func (e *Emitter) PushTokenReceived(ctx context.Context, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		e.logger.Warn("Dropping blank push token")
		return
	}

	// 1. SDK registration
	if err := e.adapter.SetPushToken(ctx, token); err != nil {
		e.logger.Warn("SDK rejected received push token", "err", err)
	}

	// 2. Persistence
	if err := e.store.Save(ctx, token); err != nil {
		e.logger.Warn("Failed to persist push token", "err", err)
	}

	// 3. Notify
	e.emit(ctx, bridge.Event{
		Name:    bridge.EventPushTokenReceived,
		Payload: map[string]any{"token": token},
	})
}

func (e *Emitter) PushTokenRegistrationFailed(ctx context.Context, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	e.emit(ctx, bridge.Event{
		Name:    bridge.EventPushTokenRegistrationFailed,
		Payload: map[string]any{"error": msg},
	})
}

// NotificationTapped reports the open to the SDK, then forwards the full
// notification data.
func (e *Emitter) NotificationTapped(ctx context.Context, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := e.adapter.HandleNotificationOpened(ctx, payload); err != nil {
		e.logger.Warn("SDK failed to track notification open", "err", err)
	}
	e.emit(ctx, bridge.Event{Name: bridge.EventNotificationTapped, Payload: payload})
}

// NotificationReceived forwards a notification delivered in the foreground.
func (e *Emitter) NotificationReceived(ctx context.Context, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	e.emit(ctx, bridge.Event{Name: bridge.EventNotificationReceived, Payload: payload})
}

// emit posts delivery onto the executor. The channel is resolved when the
// task runs, not when the event was raised.
func (e *Emitter) emit(ctx context.Context, ev bridge.Event) {
	log := e.logger.With("event", ev.Name)

	posted := e.executor.Post(func() {
		ch, ok := e.channels.Current()
		if !ok {
			log.Debug("No channel attached; dropping event")
			return
		}
		if err := ch.Invoke(ev); err != nil {
			log.Warn("Failed to deliver event", "err", err)
		}
	})
	if !posted {
		log.Debug("Executor closed; dropping event")
	}

	if e.sink != nil {
		go func() {
			mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
			defer cancel()
			if err := e.sink.Mirror(mctx, ev); err != nil {
				log.Warn("Failed to mirror event", "err", err)
			}
		}()
	}
}
