package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/sdk"
)

// ErrUnknownMethod is returned by Decode for methods outside the protocol.
var ErrUnknownMethod = errors.New("unknown method")

// ArgumentError reports arguments that are missing, empty or mistyped.
type ArgumentError struct {
	Method string
	Reason string
	Err    error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Method, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Command is one decoded, validated call. The set of implementations is
// closed; switch on the concrete type.
type Command interface {
	Method() string
	isCommand()
}

type Initialize struct {
	APIKey string `json:"apiKey" validate:"required"`
}

type SetEmail struct {
	Email string `json:"email" validate:"required"`
}

type SetPhoneNumber struct {
	PhoneNumber string `json:"phoneNumber" validate:"required"`
}

type SetExternalID struct {
	ExternalID string `json:"externalId" validate:"required"`
}

// SetProfile carries an incremental profile update; every field is optional.
type SetProfile struct {
	sdk.Profile
}

type ResetProfile struct{}

type CreateEvent struct {
	Name       string         `json:"name" validate:"required"`
	Properties map[string]any `json:"properties"`
	Value      *float64       `json:"value"`
	UniqueID   string         `json:"uniqueId"`
}

// Event converts the command into the adapter's event type.
func (c *CreateEvent) Event() sdk.Event {
	return sdk.Event{Name: c.Name, Properties: c.Properties, Value: c.Value, UniqueID: c.UniqueID}
}

// SetPushToken requires the key to be present. A blank value is rejected
// later, with its own error code.
type SetPushToken struct {
	Token *string `json:"token" validate:"required"`
}

type GetPushToken struct{}
type GetEmail struct{}
type GetPhoneNumber struct{}
type GetExternalID struct{}
type RequestPushPermission struct{}
type GetPushPermissionStatus struct{}
type RegisterForInAppForms struct{}
type UnregisterFromInAppForms struct{}

func (*Initialize) Method() string               { return MethodInitialize }
func (*SetEmail) Method() string                 { return MethodSetEmail }
func (*SetPhoneNumber) Method() string           { return MethodSetPhoneNumber }
func (*SetExternalID) Method() string            { return MethodSetExternalID }
func (*SetProfile) Method() string               { return MethodSetProfile }
func (*ResetProfile) Method() string             { return MethodResetProfile }
func (*CreateEvent) Method() string              { return MethodCreateEvent }
func (*SetPushToken) Method() string             { return MethodSetPushToken }
func (*GetPushToken) Method() string             { return MethodGetPushToken }
func (*GetEmail) Method() string                 { return MethodGetEmail }
func (*GetPhoneNumber) Method() string           { return MethodGetPhoneNumber }
func (*GetExternalID) Method() string            { return MethodGetExternalID }
func (*RequestPushPermission) Method() string    { return MethodRequestPushPermission }
func (*GetPushPermissionStatus) Method() string  { return MethodGetPushPermissionStatus }
func (*RegisterForInAppForms) Method() string    { return MethodRegisterForInAppForms }
func (*UnregisterFromInAppForms) Method() string { return MethodUnregisterFromInAppForms }

func (*Initialize) isCommand()               {}
func (*SetEmail) isCommand()                 {}
func (*SetPhoneNumber) isCommand()           {}
func (*SetExternalID) isCommand()            {}
func (*SetProfile) isCommand()               {}
func (*ResetProfile) isCommand()             {}
func (*CreateEvent) isCommand()              {}
func (*SetPushToken) isCommand()             {}
func (*GetPushToken) isCommand()             {}
func (*GetEmail) isCommand()                 {}
func (*GetPhoneNumber) isCommand()           {}
func (*GetExternalID) isCommand()            {}
func (*RequestPushPermission) isCommand()    {}
func (*GetPushPermissionStatus) isCommand()  {}
func (*RegisterForInAppForms) isCommand()    {}
func (*UnregisterFromInAppForms) isCommand() {}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func newCommand(method string) (Command, bool) {
	switch method {
	case MethodInitialize:
		return &Initialize{}, true
	case MethodSetEmail:
		return &SetEmail{}, true
	case MethodSetPhoneNumber:
		return &SetPhoneNumber{}, true
	case MethodSetExternalID:
		return &SetExternalID{}, true
	case MethodSetProfile:
		return &SetProfile{}, true
	case MethodResetProfile:
		return &ResetProfile{}, true
	case MethodCreateEvent:
		return &CreateEvent{}, true
	case MethodSetPushToken:
		return &SetPushToken{}, true
	case MethodGetPushToken:
		return &GetPushToken{}, true
	case MethodGetEmail:
		return &GetEmail{}, true
	case MethodGetPhoneNumber:
		return &GetPhoneNumber{}, true
	case MethodGetExternalID:
		return &GetExternalID{}, true
	case MethodRequestPushPermission:
		return &RequestPushPermission{}, true
	case MethodGetPushPermissionStatus:
		return &GetPushPermissionStatus{}, true
	case MethodRegisterForInAppForms:
		return &RegisterForInAppForms{}, true
	case MethodUnregisterFromInAppForms:
		return &UnregisterFromInAppForms{}, true
	}
	return nil, false
}

// Decode turns a raw call into its typed command. It returns an error
// wrapping ErrUnknownMethod or an *ArgumentError.
func Decode(call Call) (Command, error) {
	cmd, ok := newCommand(call.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, call.Method)
	}

	if call.Method == MethodSetProfile && call.Arguments == nil {
		return nil, &ArgumentError{Method: call.Method, Reason: "profile data is required"}
	}

	if len(call.Arguments) > 0 {
		raw, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, &ArgumentError{Method: call.Method, Reason: "arguments are not serializable", Err: err}
		}
		if err := json.Unmarshal(raw, cmd); err != nil {
			return nil, &ArgumentError{Method: call.Method, Reason: describeDecodeError(err), Err: err}
		}
	}

	if err := validate.Struct(cmd); err != nil {
		return nil, &ArgumentError{Method: call.Method, Reason: describeValidationError(err), Err: err}
	}
	return cmd, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type.Kind())
	}
	return err.Error()
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
