package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Frame types.
const (
	FrameCommand  = "command"
	FrameResponse = "response"
	FrameEvent    = "event"
)

// Frame is the JSON envelope exchanged over a transport. Commands flow
// app->native, responses and events flow native->app.
type Frame struct {
	Type           string         `json:"type"`
	ID             string         `json:"id,omitempty"`
	Channel        string         `json:"channel,omitempty"`
	Method         string         `json:"method,omitempty"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	Value          any            `json:"value,omitempty"`
	Error          *Error         `json:"error,omitempty"`
	NotImplemented bool           `json:"notImplemented,omitempty"`
	Name           string         `json:"name,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

var ErrMalformedFrame = errors.New("malformed frame")

// CallFromFrame validates an inbound frame and extracts the Call.
func CallFromFrame(f Frame) (Call, error) {
	if f.Type != FrameCommand {
		return Call{}, fmt.Errorf("%w: unexpected frame type %q", ErrMalformedFrame, f.Type)
	}
	if f.ID == "" {
		return Call{}, fmt.Errorf("%w: missing id", ErrMalformedFrame)
	}
	if f.Channel != "" && f.Channel != ChannelName {
		return Call{}, fmt.Errorf("%w: unknown channel %q", ErrMalformedFrame, f.Channel)
	}
	return Call{ID: f.ID, Method: f.Method, Arguments: f.Arguments}, nil
}

// DecodeCall parses a raw command frame.
func DecodeCall(data []byte) (Call, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Call{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return CallFromFrame(f)
}

func ResponseFrame(id string, resp Response) Frame {
	return Frame{
		Type:           FrameResponse,
		ID:             id,
		Channel:        ChannelName,
		Value:          resp.Value,
		Error:          resp.Err,
		NotImplemented: resp.NotImplemented,
	}
}

// EventFrame wraps an event with a fresh id so the app side can dedupe.
func EventFrame(ev Event) Frame {
	return Frame{
		Type:    FrameEvent,
		ID:      uuid.NewString(),
		Channel: ChannelName,
		Name:    ev.Name,
		Payload: ev.Payload,
	}
}

func EncodeResponse(id string, resp Response) ([]byte, error) {
	return json.Marshal(ResponseFrame(id, resp))
}

func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(EventFrame(ev))
}
