// Package bridgeservice hosts the bridge for webview and desktop
// application layers: a websocket Transport Channel plus HTTP ingress for
// native push callbacks.
package bridgeservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-sdk-bridge/bridgeservice/config"
	"github.com/tinywideclouds/go-sdk-bridge/internal/api"
	"github.com/tinywideclouds/go-sdk-bridge/internal/dispatcher"
	"github.com/tinywideclouds/go-sdk-bridge/internal/emitter"
	"github.com/tinywideclouds/go-sdk-bridge/internal/mainthread"
	"github.com/tinywideclouds/go-sdk-bridge/internal/registry"
	"github.com/tinywideclouds/go-sdk-bridge/internal/transport/ws"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// Deps are the environment-specific collaborators. Platform, Verifier and
// Sink may be nil.
type Deps struct {
	Adapter  sdk.Adapter
	Platform sdk.PushPlatform
	Store    sdk.TokenStore
	Verifier sdk.TokenVerifier
	Sink     bridge.EventSink
}

type Wrapper struct {
	*microservice.BaseServer
	looper   *mainthread.Looper
	wsServer *ws.Server
	emitter  *emitter.Emitter
	logger   *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Wrapper, error) {
	if deps.Adapter == nil || deps.Store == nil {
		return nil, errors.New("bridge service requires an sdk adapter and a token store")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Execution context and event routing
	looper := mainthread.NewLooper(logger)
	channels := registry.New()
	em := emitter.New(deps.Adapter, deps.Store, channels, looper, deps.Sink, logger)

	// 3. Dispatcher
	d, err := dispatcher.New(dispatcher.Deps{
		Adapter:           deps.Adapter,
		Platform:          deps.Platform,
		Store:             deps.Store,
		Verifier:          deps.Verifier,
		Events:            em,
		Executor:          looper,
		TokenFetchTimeout: cfg.TokenFetchTimeout,
		VerifyTimeout:     cfg.Verifier.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	// 4. Transport + native ingress
	wsServer := ws.NewServer(d, channels, cfg.CorsConfig.AllowedOrigins, logger)
	nativeAPI := api.NewNativeAPI(em, logger)

	// Register Routes
	mux := baseServer.Mux()

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	preflight := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	mux.Handle("GET /bridge", wsServer)

	nativeRoutes := map[string]http.HandlerFunc{
		"/native/push-token":             nativeAPI.PushToken,
		"/native/push-token/failure":     nativeAPI.PushTokenFailure,
		"/native/notifications/tapped":   nativeAPI.NotificationTapped,
		"/native/notifications/received": nativeAPI.NotificationReceived,
	}
	for path, handler := range nativeRoutes {
		mux.Handle("OPTIONS "+path, preflight)
		mux.Handle("POST "+path, corsMiddleware(handler))
	}

	return &Wrapper{
		BaseServer: baseServer,
		looper:     looper,
		wsServer:   wsServer,
		emitter:    em,
		logger:     logger,
	}, nil
}

// Emitter exposes event emission for in-process native integrations.
func (w *Wrapper) Emitter() *emitter.Emitter {
	return w.emitter
}

// Start runs the executor and the HTTP server until one of them stops.
func (w *Wrapper) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	w.logger.Info("Bridge executor starting...")
	g.Go(func() error {
		w.looper.Run(gctx)
		return nil
	})

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	g.Go(func() error {
		if err := w.BaseServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.looper.Close()
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)

	var finalErr error
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.wsServer.CloseAll()

	w.looper.Close()
	select {
	case <-w.looper.Done():
	case <-ctx.Done():
		w.logger.Error("Executor did not drain before shutdown deadline.")
		finalErr = errors.Join(finalErr, ctx.Err())
	}

	w.logger.Info("Service shutdown complete.")
	return finalErr
}
