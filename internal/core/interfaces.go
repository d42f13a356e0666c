package core

import (
	"encoding/json"
	"errors"
)

// Frame is a raw encoded signaling message.
type Frame []byte

// ConnectionID identifies one open signaling connection.
type ConnectionID string

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrBackpressure     = errors.New("backpressure")
)

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ConnectionID
}

func (r *PublishResult) merge(other PublishResult) {
	r.SendTo += other.SendTo
	r.Dropped = append(r.Dropped, other.Dropped...)
}

// Event is the envelope of every message pushed to a client.
type Event struct {
	Type string `json:"type"`
	Ack  *int64 `json:"ack,omitempty"`
	Data any    `json:"data,omitempty"`
}

// EncodeEvent marshals an event envelope.
func EncodeEvent(typ string, data any) (Frame, error) {
	return json.Marshal(Event{Type: typ, Data: data})
}

// EncodeAck marshals the acknowledgment of request ack.
func EncodeAck(ack int64, data any) (Frame, error) {
	return json.Marshal(Event{Type: "ack", Ack: &ack, Data: data})
}
