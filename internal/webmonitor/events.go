package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/rdk-x5_zone-sentry/sentry-server/internal/status"
)

// Event names pushed to dashboard clients.
const (
	EventMotionAlert  = "motion_alert"
	EventStatusUpdate = "motion_status_update"
)

// Event is one notification fanned out to every push channel.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"event"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Alert is the payload of a motion_alert event.
type Alert struct {
	Message       string `json:"message"`
	SequenceCount int    `json:"sequence_count"`
	PreviousCount int    `json:"previous_count"`
}

// NewAlertEvent creates a motion_alert event.
func NewAlertEvent(now time.Time, alert Alert) *Event {
	return &Event{ID: uuid.NewString(), Type: EventMotionAlert, Time: now, Data: alert}
}

// NewStatusEvent creates a motion_status_update event.
func NewStatusEvent(now time.Time, p status.Payload) *Event {
	return &Event{ID: uuid.NewString(), Type: EventStatusUpdate, Time: now, Data: p}
}

// JSON encodes the event.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Proto encodes the event as a google.protobuf.Struct with the same fields
// as the JSON form.
func (e *Event) Proto() ([]byte, error) {
	data, err := e.JSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return proto.Marshal(st)
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Type         string
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// Serialize encodes the event once for all SSE clients.
func (e *Event) Serialize() (*SerializedEvent, error) {
	jsonData, err := e.JSON()
	if err != nil {
		return nil, fmt.Errorf("JSON marshal error: %w", err)
	}
	pbData, err := e.Proto()
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal error: %w", err)
	}
	return &SerializedEvent{
		Type:         e.Type,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// DecodeProto parses a base64 protobuf event back into a Struct.
func DecodeProto(b64 []byte) (*structpb.Struct, error) {
	raw, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return nil, err
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
