// Package protocol defines the JSON messages exchanged with the speech
// recognition service and the connection URL that opens a session.
//
// Every message is an object with an "event" tag and an optional "data"
// payload. Inbound messages are decoded once, at the transport boundary, into
// the closed set of [Message] types; unknown tags are rejected with
// [ErrUnknownEvent] so callers can decide how to treat them.
package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Sentinel errors returned by [Decode].
var (
	// ErrUnknownEvent is returned for a well-formed message whose event tag is
	// not recognised.
	ErrUnknownEvent = errors.New("protocol: unknown event")

	// ErrMalformed is returned when a message is not valid JSON, lacks an
	// event tag, or carries a payload of the wrong shape.
	ErrMalformed = errors.New("protocol: malformed message")
)

// EventType is the value of a message's "event" field.
type EventType string

// Inbound event types.
const (
	EventRecognized    EventType = "recognized"
	EventTips          EventType = "tips"
	EventMedicalRecord EventType = "medical_record"
	EventTerminated    EventType = "terminated"
	EventDone          EventType = "done"
)

// Outbound event types.
const (
	EventRecording EventType = "recording"
	EventStop      EventType = "stop"
)

// Word is one timed word of a recognised sentence. Times are in milliseconds
// from the start of the recording.
type Word struct {
	BeginTime float64 `json:"begin_time"`
	EndTime   float64 `json:"end_time"`
	Word      string  `json:"word"`
}

// Sentence is a recognised sentence with word-level timing.
type Sentence struct {
	BeginTime float64 `json:"begin_time"`
	EndTime   float64 `json:"end_time"`
	Content   string  `json:"content"`

	// IsSent reports whether the sentence is final. Non-final sentences are
	// superseded by later events covering the same time range.
	IsSent bool `json:"is_sent"`

	// RoleID identifies the speaker when role separation is enabled.
	RoleID string `json:"role_id"`

	Words []Word `json:"words"`
}

// Message is an inbound protocol event. The concrete type is one of
// [Recognized], [Tips], [MedicalRecord], [Terminated], or [Done].
type Message interface {
	// Event returns the message's tag.
	Event() EventType

	message()
}

// Recognized carries a recognised sentence.
type Recognized struct {
	Sentence Sentence
}

// Tips carries advisory strings produced by the service.
type Tips struct {
	Tips []string
}

// MedicalRecord carries a structured key/value record extracted from the
// conversation.
type MedicalRecord struct {
	Record map[string]string
}

// Terminated reports that the service ended the session. Reason is free text.
type Terminated struct {
	Reason string
}

// Done acknowledges a stop request; the service has flushed every result.
type Done struct{}

func (Recognized) Event() EventType    { return EventRecognized }
func (Tips) Event() EventType          { return EventTips }
func (MedicalRecord) Event() EventType { return EventMedicalRecord }
func (Terminated) Event() EventType    { return EventTerminated }
func (Done) Event() EventType          { return EventDone }

func (Recognized) message()    {}
func (Tips) message()          {}
func (MedicalRecord) message() {}
func (Terminated) message()    {}
func (Done) message()          {}

// envelope is the wire shape shared by every message.
type envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses one inbound message. It returns [ErrMalformed] for invalid
// JSON or payloads and [ErrUnknownEvent] (wrapping the tag) for unrecognised
// events.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	switch env.Event {
	case EventRecognized:
		var s Sentence
		if err := decodeData(env, &s); err != nil {
			return nil, err
		}
		return Recognized{Sentence: s}, nil
	case EventTips:
		var tips []string
		if err := decodeData(env, &tips); err != nil {
			return nil, err
		}
		return Tips{Tips: tips}, nil
	case EventMedicalRecord:
		var rec map[string]string
		if err := decodeData(env, &rec); err != nil {
			return nil, err
		}
		return MedicalRecord{Record: rec}, nil
	case EventTerminated:
		var reason string
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &reason); err != nil {
				return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Event, err)
			}
		}
		return Terminated{Reason: reason}, nil
	case EventDone:
		return Done{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// decodeData unmarshals a required payload.
func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Event, err)
	}
	return nil
}

type recordingMessage struct {
	Event EventType `json:"event"`
	Data  string    `json:"data"`
}

type stopMessage struct {
	Event EventType `json:"event"`
}

// EncodeRecording returns the outbound message carrying one PCM frame as
// standard base64.
func EncodeRecording(pcm []byte) ([]byte, error) {
	b, err := json.Marshal(recordingMessage{
		Event: EventRecording,
		Data:  base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode recording: %w", err)
	}
	return b, nil
}

// EncodeStop returns the outbound stop request.
func EncodeStop() ([]byte, error) {
	b, err := json.Marshal(stopMessage{Event: EventStop})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode stop: %w", err)
	}
	return b, nil
}
