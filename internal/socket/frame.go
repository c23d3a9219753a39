package socket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PratikDhanave/call-relay-service/internal/models"
)

// Kind classifies one line of the polling payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoop
	KindOpen
	KindPing
	KindPong
	KindDisconnect
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindNoop:
		return "noop"
	case KindOpen:
		return "open"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindDisconnect:
		return "disconnect"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is a decoded line. Name and Payload are set only for KindEvent.
type Frame struct {
	Kind    Kind
	Name    string
	Payload json.RawMessage
	Raw     string
}

// Event name announcing a live call.
const EventNewCall = "new_call"

var (
	// ErrNotCall marks an event frame that is well formed but not a new_call.
	ErrNotCall = errors.New("socket: not a new_call event")
	// ErrMalformedCall marks a new_call whose payload is missing required fields.
	ErrMalformedCall = errors.New("socket: malformed new_call payload")
)

// requiredCallFields must all be present in a new_call payload.
var requiredCallFields = []string{"id", "did", "uuid", "country", "country_code"}

// Decode classifies one line. It never fails: anything it cannot make
// sense of, including broken JSON after an event prefix, is KindUnknown
// and left for the caller to log and drop.
func Decode(line string) Frame {
	line = strings.TrimSpace(line)
	f := Frame{Raw: line}

	switch {
	case line == "" || line == "6" || strings.HasPrefix(line, "40"):
		// "40" is the namespace connect ack; "6" is an engine.io noop.
		f.Kind = KindNoop
	case line == "2":
		f.Kind = KindPing
	case line == "3":
		f.Kind = KindPong
	case line == "1" || strings.HasPrefix(line, "41") || strings.HasPrefix(line, "44"):
		// "44" is a namespace connect error: the join was refused.
		f.Kind = KindDisconnect
	case strings.HasPrefix(line, "42"):
		name, payload, ok := decodeEvent(line[2:])
		if !ok {
			f.Kind = KindUnknown
			return f
		}
		f.Kind = KindEvent
		f.Name = name
		f.Payload = payload
	case strings.HasPrefix(line, "0"):
		f.Kind = KindOpen
	default:
		f.Kind = KindUnknown
	}
	return f
}

// decodeEvent parses the `["name", payload]` tuple of an event frame.
func decodeEvent(body string) (string, json.RawMessage, bool) {
	var tuple []json.RawMessage
	if err := json.Unmarshal([]byte(body), &tuple); err != nil || len(tuple) != 2 {
		return "", nil, false
	}
	var name string
	if err := json.Unmarshal(tuple[0], &name); err != nil || name == "" {
		return "", nil, false
	}
	return name, tuple[1], true
}

// SplitPayload breaks a polling response body into lines. Both newline
// and the engine.io v4 record separator delimit packets.
func SplitPayload(body string) []string {
	return strings.FieldsFunc(body, func(r rune) bool {
		return r == '\n' || r == '\r' || r == '\x1e'
	})
}

// ParseCall turns a new_call event frame into a CallEvent.
// It returns ErrNotCall for other events and ErrMalformedCall when a
// required field is missing or is not a string or number.
func ParseCall(f Frame) (models.CallEvent, error) {
	if f.Kind != KindEvent || f.Name != EventNewCall {
		return models.CallEvent{}, ErrNotCall
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(f.Payload, &fields); err != nil {
		return models.CallEvent{}, fmt.Errorf("%w: %v", ErrMalformedCall, err)
	}

	values := make(map[string]string, len(requiredCallFields))
	for _, key := range requiredCallFields {
		raw, ok := fields[key]
		if !ok {
			return models.CallEvent{}, fmt.Errorf("%w: missing %q", ErrMalformedCall, key)
		}
		v, ok := scalarString(raw)
		if !ok {
			return models.CallEvent{}, fmt.Errorf("%w: %q is not a scalar", ErrMalformedCall, key)
		}
		values[key] = v
	}
	if values["id"] == "" {
		return models.CallEvent{}, fmt.Errorf("%w: empty id", ErrMalformedCall)
	}

	return models.CallEvent{
		ID:          values["id"],
		DID:         values["did"],
		AudioRef:    values["uuid"],
		CountryName: values["country"],
		CountryCode: values["country_code"],
	}, nil
}

// scalarString accepts JSON strings, numbers and null (as "").
func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
