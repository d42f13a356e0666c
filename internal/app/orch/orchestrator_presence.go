package orch

import (
	"context"

	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/core"
	"github.com/dkeye/Live/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinViewer counts conn as a viewer of roomID. The room hears the new count
// only when it changed.
func (o *Orchestrator) JoinViewer(conn core.ConnectionID, roomID domain.RoomID) (int, error) {
	if roomID == "" {
		return 0, app.ErrValidation
	}
	o.Groups.Join(conn, string(roomID))
	changed, n, err := o.Registry.SetWatching(roomID, conn, true)
	if err != nil {
		return 0, err
	}
	if changed {
		o.announceCount(roomID, "", n)
	}
	return n, nil
}

// LeaveViewer stops counting conn in roomID. Leaving a room never joined is a
// no-op.
func (o *Orchestrator) LeaveViewer(conn core.ConnectionID, roomID domain.RoomID) (int, error) {
	if roomID == "" {
		return 0, app.ErrValidation
	}
	changed, n, err := o.Registry.SetWatching(roomID, conn, false)
	if err != nil {
		return 0, err
	}
	if changed {
		o.announceCount(roomID, "", n)
	}
	return n, nil
}

// ViewCount is the number of viewers of roomID, zero for unknown rooms.
func (o *Orchestrator) ViewCount(roomID domain.RoomID) int {
	return o.Registry.Count(roomID)
}

// LiveRooms lists the broadcasts served by this process.
func (o *Orchestrator) LiveRooms() []app.LiveRoomInfo {
	return o.Registry.LiveRooms()
}

// RemoteLiveRooms lists rooms the status index reports live that this
// process does not serve. Index failures leave the list empty.
func (o *Orchestrator) RemoteLiveRooms(ctx context.Context) []domain.RoomID {
	if o.Status == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout())
	defer cancel()
	ids, err := o.Status.LiveRooms(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch.presence").Msg("list indexed live rooms")
		return nil
	}
	var out []domain.RoomID
	for _, id := range ids {
		if !o.Registry.IsLive(id) {
			out = append(out, id)
		}
	}
	return out
}

// SetStatus stores a user's online status.
func (o *Orchestrator) SetStatus(userID string, status domain.OnlineStatus) error {
	if _, err := domain.NormalizeUsername(userID); err != nil || status == "" {
		return app.ErrValidation
	}
	o.setUserStatus(userID, status)
	return nil
}

func (o *Orchestrator) announceCount(roomID domain.RoomID, except core.ConnectionID, n int) {
	o.emit(string(roomID), except, EvViewCount, n)
	if o.Status == nil {
		return
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	if err := o.Status.PublishViewCount(ctx, roomID, n); err != nil {
		log.Warn().Err(err).Str("module", "orch.presence").Str("room", string(roomID)).Msg("publish view count")
	}
}

func (o *Orchestrator) markRoomLive(roomID domain.RoomID, conn core.ConnectionID) {
	if o.Status == nil {
		return
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	if err := o.Status.SetRoomLive(ctx, roomID, conn); err != nil {
		log.Warn().Err(err).Str("module", "orch.presence").Str("room", string(roomID)).Msg("mark room live")
	}
}

func (o *Orchestrator) markRoomOffline(roomID domain.RoomID) {
	if o.Status == nil {
		return
	}
	ctx, cancel := o.storeCtx()
	defer cancel()
	if err := o.Status.SetRoomOffline(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "orch.presence").Str("room", string(roomID)).Msg("mark room offline")
	}
}
