package base

import (
	"encoding/json"
	"fmt"
	"time"

	"roomgraph/internal/common/utils"
	"roomgraph/internal/transport"
)

// envelope carries a message over transports without native headers
type envelope struct {
	ID        string            `json:"id"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"body"`
	Timestamp int64             `json:"ts"`
}

// Stamp returns a copy of msg addressed to room with its ID and timestamp
// filled in.
func Stamp(room string, msg *transport.Message) *transport.Message {
	out := *msg
	out.Room = room
	if out.ID == "" {
		out.ID = utils.NewMessageID()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return &out
}

// EncodeEnvelope packs the message headers and body into one payload
func EncodeEnvelope(msg *transport.Message) ([]byte, error) {
	return json.Marshal(envelope{
		ID:        msg.ID,
		Headers:   msg.Headers,
		Body:      msg.Body,
		Timestamp: msg.Timestamp.UnixNano(),
	})
}

// DecodeEnvelope reverses EncodeEnvelope
func DecodeEnvelope(room string, data []byte) (*transport.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	msg := &transport.Message{
		Room:    room,
		ID:      env.ID,
		Headers: env.Headers,
		Body:    env.Body,
	}
	if env.Timestamp > 0 {
		msg.Timestamp = time.Unix(0, env.Timestamp)
	} else {
		msg.Timestamp = time.Now()
	}
	return msg, nil
}
