package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStatePaused
	TrackStateDelete
)

// Sink receives forwarded packets. *webrtc.TrackLocalStaticRTP satisfies it.
type Sink interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack represents a single outgoing track to a consumer.
type OutTrack struct {
	Sink  Sink
	state atomic.Int32
}

// NewOutTrack returns a paused track; consumers start paused until resumed.
func NewOutTrack(sink Sink) *OutTrack {
	ot := &OutTrack{Sink: sink}
	ot.state.Store(int32(TrackStatePaused))
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStatePaused), int32(TrackStateOk))
}

func (ot *OutTrack) MarkPaused() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStatePaused))
}

// MarkDelete is terminal.
func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
