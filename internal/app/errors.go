package app

import "errors"

var (
	ErrValidation               = errors.New("missing or malformed identifier")
	ErrConnectionNotBound       = errors.New("connection is not bound")
	ErrRoomNotFound             = errors.New("room not found")
	ErrRoomClosed               = errors.New("room closed")
	ErrAlreadyLive              = errors.New("room already live")
	ErrNotBroadcaster           = errors.New("connection is not the broadcaster")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrProducerNotFound         = errors.New("producer not found")
	ErrViewerNotFound           = errors.New("viewer session not found")
	ErrConsumerNotFound         = errors.New("consumer not found")
	ErrIncompatibleCapabilities = errors.New("rtp capabilities cannot consume producer")
)
