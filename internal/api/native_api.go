// Package api accepts native push callbacks over HTTP for hosts whose OS
// push integration runs out of process.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// PushEvents receives the callbacks. *emitter.Emitter satisfies it.
type PushEvents interface {
	PushTokenReceived(ctx context.Context, token string)
	PushTokenRegistrationFailed(ctx context.Context, cause error)
	NotificationTapped(ctx context.Context, payload map[string]any)
	NotificationReceived(ctx context.Context, payload map[string]any)
}

type NativeAPI struct {
	Events PushEvents
	Logger *slog.Logger
}

func NewNativeAPI(events PushEvents, logger *slog.Logger) *NativeAPI {
	return &NativeAPI{
		Events: events,
		Logger: logger.With("component", "native_api"),
	}
}

type PushTokenRequest struct {
	Token string `json:"token"`
}

type PushTokenFailureRequest struct {
	Error string `json:"error"`
}

// PushToken handles a token issued by the OS push service.
func (api *NativeAPI) PushToken(w http.ResponseWriter, r *http.Request) {
	var req PushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	// The emitter outlives the request.
	api.Events.PushTokenReceived(context.WithoutCancel(r.Context()), token)
	w.WriteHeader(http.StatusAccepted)
}

// PushTokenFailure handles a failed registration with the OS push service.
func (api *NativeAPI) PushTokenFailure(w http.ResponseWriter, r *http.Request) {
	var req PushTokenFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	var cause error
	if req.Error != "" {
		cause = errors.New(req.Error)
	}

	api.Logger.Warn("Native push registration failed", "err", req.Error)
	api.Events.PushTokenRegistrationFailed(context.WithoutCancel(r.Context()), cause)
	w.WriteHeader(http.StatusAccepted)
}

// NotificationTapped handles a user opening a notification. The body is the
// notification data object.
func (api *NativeAPI) NotificationTapped(w http.ResponseWriter, r *http.Request) {
	payload, ok := api.decodePayload(w, r)
	if !ok {
		return
	}
	api.Events.NotificationTapped(context.WithoutCancel(r.Context()), payload)
	w.WriteHeader(http.StatusAccepted)
}

// NotificationReceived handles a notification delivered in the foreground.
func (api *NativeAPI) NotificationReceived(w http.ResponseWriter, r *http.Request) {
	payload, ok := api.decodePayload(w, r)
	if !ok {
		return
	}
	api.Events.NotificationReceived(context.WithoutCancel(r.Context()), payload)
	w.WriteHeader(http.StatusAccepted)
}

// decodePayload reads a JSON object body. An empty body is an empty payload.
func (api *NativeAPI) decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	payload := map[string]any{}
	err := json.NewDecoder(r.Body).Decode(&payload)
	if err != nil && !errors.Is(err, io.EOF) {
		api.Logger.Warn("Notification payload decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "notification payload must be a json object")
		return nil, false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, true
}
