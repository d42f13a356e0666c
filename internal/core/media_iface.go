package core

import (
	"context"

	"github.com/dkeye/Live/internal/domain"
)

// MediaEngine creates routers. One router backs one broadcast room.
type MediaEngine interface {
	CreateRouter(ctx context.Context, codecs []domain.RTPCodec) (Router, error)
}

// Router is the codec/routing context of a broadcast room.
type Router interface {
	ID() string
	Capabilities() domain.RTPCapabilities
	// CreateTransport allocates a server-side transport and gathers its local parameters.
	CreateTransport(ctx context.Context) (Transport, error)
	// CanConsume reports whether caps can receive the producer.
	CanConsume(producerID string, caps domain.RTPCapabilities) bool
	Close()
}

// Transport is one participant's secured media path.
type Transport interface {
	ID() string
	Params() domain.TransportParams
	// Connect completes the handshake with the remote parameters.
	Connect(ctx context.Context, remote domain.ConnectParams) error
	Produce(ctx context.Context, kind domain.MediaKind, params domain.RTPParameters) (Producer, error)
	// Consume creates a paused consumer of producer.
	Consume(ctx context.Context, producer Producer, caps domain.RTPCapabilities) (Consumer, error)
	Close()
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	Params() domain.ConsumerParams
	Resume(ctx context.Context) error
	Close()
}
