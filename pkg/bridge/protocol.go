// Package bridge defines the command/event protocol spoken between the
// application layer and the native SDK bridge.
package bridge

import "context"

// ChannelName identifies the bridge on every transport.
const ChannelName = "com.klaviyo.flutter/klaviyo_sdk"

// Supported command methods.
const (
	MethodInitialize               = "initialize"
	MethodSetEmail                 = "setEmail"
	MethodSetPhoneNumber           = "setPhoneNumber"
	MethodSetExternalID            = "setExternalId"
	MethodSetProfile               = "setProfile"
	MethodResetProfile             = "resetProfile"
	MethodCreateEvent              = "createEvent"
	MethodSetPushToken             = "setPushToken"
	MethodGetPushToken             = "getPushToken"
	MethodGetEmail                 = "getEmail"
	MethodGetPhoneNumber           = "getPhoneNumber"
	MethodGetExternalID            = "getExternalId"
	MethodRequestPushPermission    = "requestPushPermission"
	MethodGetPushPermissionStatus  = "getPushPermissionStatus"
	MethodRegisterForInAppForms    = "registerForInAppForms"
	MethodUnregisterFromInAppForms = "unregisterFromInAppForms"
)

// Events pushed to the application layer.
const (
	EventPushTokenReceived           = "onPushTokenReceived"
	EventPushTokenRegistrationFailed = "onPushTokenRegistrationFailed"
	EventNotificationTapped          = "onNotificationTapped"
	EventNotificationReceived        = "onNotificationReceived"
)

// Error codes carried by failure responses.
const (
	CodeInvalidArguments     = "INVALID_ARGUMENTS"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeInitError            = "INIT_ERROR"
	CodeSetProfileError      = "SET_PROFILE_ERROR"
	CodeResetProfileError    = "RESET_PROFILE_ERROR"
	CodeGetProfileError      = "GET_PROFILE_ERROR"
	CodeCreateEventError     = "CREATE_EVENT_ERROR"
	CodePushTokenError       = "PUSH_TOKEN_ERROR"
	CodePermissionError      = "PERMISSION_ERROR"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodePushUnavailable      = "PUSH_UNAVAILABLE"
	CodeRegisterFormsError   = "REGISTER_FORMS_ERROR"
	CodeUnregisterFormsError = "UNREGISTER_FORMS_ERROR"
)

// Call is a command exactly as it arrived from the application layer.
type Call struct {
	ID        string
	Method    string
	Arguments map[string]any
}

// Error is the failure half of a Response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Response answers a single Call. Exactly one of Value, Err or
// NotImplemented is meaningful.
type Response struct {
	Value          any
	Err            *Error
	NotImplemented bool
}

func Success(v any) Response {
	return Response{Value: v}
}

func Failure(code, message string) Response {
	return Response{Err: &Error{Code: code, Message: message}}
}

// NotImplementedResponse signals that the method is not part of the
// protocol. It is neither a success nor an error.
func NotImplementedResponse() Response {
	return Response{NotImplemented: true}
}

func (r Response) IsError() bool { return r.Err != nil }

func (r Response) IsNotImplemented() bool { return r.NotImplemented }

// Event is an unsolicited native-to-app notification.
type Event struct {
	Name    string
	Payload map[string]any
}

// Channel is the application-facing end of the bridge. Implementations are
// only ever called from the UI-safe executor.
type Channel interface {
	// Reply delivers the response for the call with the given id.
	Reply(id string, resp Response) error
	// Invoke pushes an event to the application layer.
	Invoke(ev Event) error
}

// EventSink receives a copy of every emitted event, for example to forward
// it to a backend. Failures never affect delivery to the Channel.
type EventSink interface {
	Mirror(ctx context.Context, ev Event) error
}
