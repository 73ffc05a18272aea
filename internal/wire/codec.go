package wire

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrUnknownKind is returned by Decode for frames naming an event this client does not know.
var ErrUnknownKind = errors.New("unknown event kind")

// Frame is the envelope written to the relay connection.
type Frame struct {
	Event Kind   `json:"event"`
	Data  string `json:"data"`
}

// Encode serializes an event into a relay frame.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", evt.Kind(), err)
	}
	return json.Marshal(Frame{Event: evt.Kind(), Data: string(data)})
}

// Decode parses a relay frame into its typed event.
func Decode(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	evt, err := decodePayload(f.Event, []byte(f.Data))
	if err != nil {
		return nil, err
	}
	return evt, nil
}

func decodePayload(kind Kind, data []byte) (Event, error) {
	switch kind {
	case KindSendMessage:
		return unmarshal[SendMessageEvent](kind, data)
	case KindMessageReceived:
		return unmarshal[MessageReceivedEvent](kind, data)
	case KindMessagesRead:
		return unmarshal[ReadEvent](kind, data)
	case KindConnectedUsers:
		return unmarshal[PresenceEvent](kind, data)
	case KindCallRequest:
		return unmarshal[CallRequestEvent](kind, data)
	case KindCallResponse:
		return unmarshal[CallResponseEvent](kind, data)
	case KindRTCConnection:
		return unmarshal[RTCEvent](kind, data)
	case KindCallEnd:
		return unmarshal[CallEndEvent](kind, data)
	case KindCallMediaState:
		return unmarshal[MediaStateEvent](kind, data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func unmarshal[T Event](kind Kind, data []byte) (Event, error) {
	var evt T
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return evt, nil
}
