// Package dispatcher routes application commands to the SDK adapter and the
// push platform and answers each one exactly once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinywideclouds/go-sdk-bridge/internal/mainthread"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

const (
	defaultTokenFetchTimeout = 10 * time.Second
	defaultVerifyTimeout     = 10 * time.Second
)

// TokenEvents receives the outcome of token acquisition that follows a
// granted permission request.
type TokenEvents interface {
	PushTokenReceived(ctx context.Context, token string)
	PushTokenRegistrationFailed(ctx context.Context, cause error)
}

// Deps are the collaborators a Dispatcher forwards to. Platform and
// Verifier are optional.
type Deps struct {
	Adapter  sdk.Adapter
	Platform sdk.PushPlatform
	Store    sdk.TokenStore
	Verifier sdk.TokenVerifier
	Events   TokenEvents
	Executor mainthread.Executor

	// TokenFetchTimeout bounds getPushToken's wait on the platform.
	TokenFetchTimeout time.Duration
	// VerifyTimeout bounds a single token verification.
	VerifyTimeout time.Duration
}

type Dispatcher struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) (*Dispatcher, error) {
	if deps.Adapter == nil || deps.Store == nil || deps.Events == nil || deps.Executor == nil {
		return nil, errors.New("dispatcher requires an adapter, a token store, token events and an executor")
	}
	if deps.TokenFetchTimeout <= 0 {
		deps.TokenFetchTimeout = defaultTokenFetchTimeout
	}
	if deps.VerifyTimeout <= 0 {
		deps.VerifyTimeout = defaultVerifyTimeout
	}
	return &Dispatcher{deps: deps, logger: logger.With("component", "dispatcher")}, nil
}

// Handle services one call. Synchronous commands are answered before Handle
// returns; asynchronous ones are answered later from their own goroutine.
// Every response is delivered to ch through the executor.
func (d *Dispatcher) Handle(ctx context.Context, ch bridge.Channel, call bridge.Call) {
	log := d.logger.With("method", call.Method, "call_id", call.ID)
	r := newReplier(ch, call.ID, d.deps.Executor, log)

	cmd, err := bridge.Decode(call)
	if err != nil {
		if errors.Is(err, bridge.ErrUnknownMethod) {
			log.Debug("Unknown method")
			r.send(bridge.NotImplementedResponse())
			return
		}
		log.Info("Rejected command arguments", "err", err)
		r.send(bridge.Failure(bridge.CodeInvalidArguments, err.Error()))
		return
	}

	log.Debug("Handling command")
	defer d.guard(r, failureCode(cmd), log)

	switch c := cmd.(type) {
	case *bridge.Initialize:
		d.simple(r, bridge.CodeInitError, func() error {
			return d.deps.Adapter.Initialize(ctx, c.APIKey)
		})

	case *bridge.SetEmail:
		d.identity(ctx, r, log, func() error { return d.deps.Adapter.SetEmail(ctx, c.Email) })
	case *bridge.SetPhoneNumber:
		d.identity(ctx, r, log, func() error { return d.deps.Adapter.SetPhoneNumber(ctx, c.PhoneNumber) })
	case *bridge.SetExternalID:
		d.identity(ctx, r, log, func() error { return d.deps.Adapter.SetExternalID(ctx, c.ExternalID) })
	case *bridge.SetProfile:
		d.identity(ctx, r, log, func() error { return d.deps.Adapter.SetProfile(ctx, c.Profile) })

	case *bridge.ResetProfile:
		d.simple(r, bridge.CodeResetProfileError, func() error {
			return d.deps.Adapter.ResetProfile(ctx)
		})

	case *bridge.GetEmail:
		d.getter(ctx, r, d.deps.Adapter.Email)
	case *bridge.GetPhoneNumber:
		d.getter(ctx, r, d.deps.Adapter.PhoneNumber)
	case *bridge.GetExternalID:
		d.getter(ctx, r, d.deps.Adapter.ExternalID)

	case *bridge.CreateEvent:
		d.simple(r, bridge.CodeCreateEventError, func() error {
			return d.deps.Adapter.CreateEvent(ctx, c.Event())
		})

	case *bridge.SetPushToken:
		d.setPushToken(ctx, r, log, *c.Token)
	case *bridge.GetPushToken:
		d.getPushToken(ctx, r, log)
	case *bridge.RequestPushPermission:
		d.requestPushPermission(ctx, r, log)
	case *bridge.GetPushPermissionStatus:
		d.getPushPermissionStatus(ctx, r, log)

	case *bridge.RegisterForInAppForms:
		d.simple(r, bridge.CodeRegisterFormsError, func() error {
			return d.deps.Adapter.RegisterForInAppForms(ctx)
		})
	case *bridge.UnregisterFromInAppForms:
		d.simple(r, bridge.CodeUnregisterFormsError, func() error {
			return d.deps.Adapter.UnregisterFromInAppForms(ctx)
		})

	default:
		r.send(bridge.NotImplementedResponse())
	}
}

func (d *Dispatcher) simple(r *replier, code string, op func() error) {
	if err := op(); err != nil {
		r.send(bridge.Failure(code, err.Error()))
		return
	}
	r.send(bridge.Success(nil))
}

// identity applies an identity mutation and, on success, re-submits the
// persisted push token so it follows the new profile.
func (d *Dispatcher) identity(ctx context.Context, r *replier, log *slog.Logger, op func() error) {
	if err := op(); err != nil {
		r.send(bridge.Failure(bridge.CodeSetProfileError, err.Error()))
		return
	}
	d.reassociateToken(ctx, log)
	r.send(bridge.Success(nil))
}

func (d *Dispatcher) reassociateToken(ctx context.Context, log *slog.Logger) {
	token, err := d.deps.Store.Load(ctx)
	if err != nil {
		log.Warn("Failed to load persisted push token", "err", err)
		return
	}
	if token == "" {
		return
	}
	if err := d.deps.Adapter.SetPushToken(ctx, token); err != nil {
		log.Warn("Failed to re-associate push token with profile", "err", err)
	}
}

func (d *Dispatcher) getter(ctx context.Context, r *replier, get func(context.Context) (string, error)) {
	v, err := get(ctx)
	if err != nil {
		r.send(bridge.Failure(bridge.CodeGetProfileError, err.Error()))
		return
	}
	if v == "" {
		r.send(bridge.Success(nil))
		return
	}
	r.send(bridge.Success(v))
}

func (d *Dispatcher) setPushToken(ctx context.Context, r *replier, log *slog.Logger, raw string) {
	token := strings.TrimSpace(raw)
	if token == "" {
		r.send(bridge.Failure(bridge.CodeInvalidToken, "push token cannot be empty"))
		return
	}

	if d.deps.Verifier == nil {
		d.applyPushToken(ctx, r, log, token)
		return
	}

	d.async(r, bridge.CodePushTokenError, log, func() {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.deps.VerifyTimeout)
		defer cancel()

		if err := d.deps.Verifier.Verify(vctx, token); err != nil {
			if errors.Is(err, sdk.ErrTokenRejected) {
				r.send(bridge.Failure(bridge.CodeInvalidToken, err.Error()))
				return
			}
			log.Warn("Push token verification unavailable; accepting token", "err", err)
		}
		d.applyPushToken(ctx, r, log, token)
	})
}

func (d *Dispatcher) applyPushToken(ctx context.Context, r *replier, log *slog.Logger, token string) {
	if err := d.deps.Adapter.SetPushToken(ctx, token); err != nil {
		r.send(bridge.Failure(bridge.CodePushTokenError, err.Error()))
		return
	}
	if err := d.deps.Store.Save(ctx, token); err != nil {
		log.Warn("Failed to persist push token", "err", err)
	}
	r.send(bridge.Success(nil))
}

// getPushToken prefers a live token from the platform and falls back to the
// persisted one. It never fails.
func (d *Dispatcher) getPushToken(ctx context.Context, r *replier, log *slog.Logger) {
	if !d.pushAvailable() {
		r.send(bridge.Success(d.persistedToken(ctx, log)))
		return
	}

	d.async(r, bridge.CodePushTokenError, log, func() {
		fctx, cancel := context.WithTimeout(ctx, d.deps.TokenFetchTimeout)
		defer cancel()

		token, err := d.deps.Platform.FetchToken(fctx).Wait(fctx)
		if err == nil && token != "" {
			r.send(bridge.Success(token))
			return
		}
		if err != nil {
			log.Debug("Platform token unavailable; using persisted token", "err", err)
		}
		r.send(bridge.Success(d.persistedToken(ctx, log)))
	})
}

func (d *Dispatcher) persistedToken(ctx context.Context, log *slog.Logger) any {
	token, err := d.deps.Store.Load(ctx)
	if err != nil {
		log.Warn("Failed to load persisted push token", "err", err)
		return nil
	}
	if token == "" {
		return nil
	}
	return token
}

func (d *Dispatcher) requestPushPermission(ctx context.Context, r *replier, log *slog.Logger) {
	if !d.pushAvailable() {
		r.send(bridge.Failure(bridge.CodePushUnavailable, "push notifications are not available on this device"))
		return
	}

	d.async(r, bridge.CodePermissionError, log, func() {
		granted, err := d.deps.Platform.RequestAuthorization(ctx).Wait(ctx)
		if err != nil {
			r.send(bridge.Failure(bridge.CodePermissionError, err.Error()))
			return
		}
		if !granted {
			r.send(bridge.Failure(bridge.CodePermissionDenied, "notification permission denied"))
			return
		}
		r.send(bridge.Success(nil))

		// Token acquisition outlives the command.
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.deps.TokenFetchTimeout)
		defer cancel()
		token, err := d.deps.Platform.FetchToken(tctx).Wait(tctx)
		if err == nil && strings.TrimSpace(token) == "" {
			err = errors.New("platform returned an empty push token")
		}
		if err != nil {
			log.Warn("Push token registration failed", "err", err)
			d.deps.Events.PushTokenRegistrationFailed(tctx, err)
			return
		}
		d.deps.Events.PushTokenReceived(tctx, token)
	})
}

func (d *Dispatcher) getPushPermissionStatus(ctx context.Context, r *replier, log *slog.Logger) {
	if !d.pushAvailable() {
		r.send(bridge.Success(string(sdk.PermissionUnavailableSimulator)))
		return
	}

	d.async(r, bridge.CodePermissionError, log, func() {
		status, err := d.deps.Platform.AuthorizationStatus(ctx).Wait(ctx)
		if err != nil {
			r.send(bridge.Failure(bridge.CodePermissionError, err.Error()))
			return
		}
		if status == "" {
			status = sdk.PermissionUnknown
		}
		r.send(bridge.Success(string(status)))
	})
}

func (d *Dispatcher) pushAvailable() bool {
	return d.deps.Platform != nil && d.deps.Platform.PushAvailable()
}

// async runs fn on its own goroutine with the same panic guard as the
// synchronous path.
func (d *Dispatcher) async(r *replier, code string, log *slog.Logger, fn func()) {
	go func() {
		defer d.guard(r, code, log)
		fn()
	}()
}

// guard must be deferred directly. A panic becomes an error response with
// the operation's code; if a response was already sent it is just logged.
func (d *Dispatcher) guard(r *replier, code string, log *slog.Logger) {
	if p := recover(); p != nil {
		log.Error("Command panicked", "panic", p)
		r.send(bridge.Failure(code, fmt.Sprintf("internal error: %v", p)))
	}
}

func failureCode(cmd bridge.Command) string {
	switch cmd.(type) {
	case *bridge.Initialize:
		return bridge.CodeInitError
	case *bridge.SetEmail, *bridge.SetPhoneNumber, *bridge.SetExternalID, *bridge.SetProfile:
		return bridge.CodeSetProfileError
	case *bridge.ResetProfile:
		return bridge.CodeResetProfileError
	case *bridge.GetEmail, *bridge.GetPhoneNumber, *bridge.GetExternalID:
		return bridge.CodeGetProfileError
	case *bridge.CreateEvent:
		return bridge.CodeCreateEventError
	case *bridge.SetPushToken, *bridge.GetPushToken:
		return bridge.CodePushTokenError
	case *bridge.RequestPushPermission, *bridge.GetPushPermissionStatus:
		return bridge.CodePermissionError
	case *bridge.RegisterForInAppForms:
		return bridge.CodeRegisterFormsError
	case *bridge.UnregisterFromInAppForms:
		return bridge.CodeUnregisterFormsError
	}
	return bridge.CodeInvalidArguments
}
