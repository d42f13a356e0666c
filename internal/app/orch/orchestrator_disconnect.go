package orch

import (
	"github.com/dkeye/Live/internal/core"
	"github.com/rs/zerolog/log"
)

type StreamEnded struct {
	RoomID string `json:"roomId"`
}

// OnDisconnect unwinds everything a connection left behind. Every step checks
// for existence first, so running it twice ends in the same state.
func (o *Orchestrator) OnDisconnect(conn core.ConnectionID) {
	logger := log.With().Str("module", "orch.reaper").Str("conn", string(conn)).Logger()

	// Abandon engine calls still in flight for this connection.
	o.Registry.Cancel(conn)

	removed := o.Registry.RemoveViewerEverywhere(conn)
	for _, rm := range removed {
		if rm.WasWatching {
			o.announceCount(rm.RoomID, conn, rm.Count)
		}
	}

	ended := o.Registry.RemoveBroadcastsOf(conn)
	for _, room := range ended {
		o.emit(string(room.ID), conn, EvLiveStreamEnded, StreamEnded{RoomID: string(room.ID)})
		o.markRoomOffline(room.ID)
	}

	o.Offers.DropBy(conn)
	left := o.Groups.Unregister(conn)
	bound := o.Registry.Unbind(conn)

	if bound || len(removed) > 0 || len(ended) > 0 || len(left) > 0 {
		logger.Info().
			Int("viewer_sessions", len(removed)).
			Int("broadcasts", len(ended)).
			Int("groups", len(left)).
			Msg("connection reaped")
	}
}
